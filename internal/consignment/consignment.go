// Package consignment defines the shipment aggregate and the in-memory
// store that serializes scan appends and rule evaluation per AWB.
package consignment

import (
	"time"
)

// Status represents the current global status of a consignment.
type Status string

const (
	StatusCreated        Status = "CREATED"
	StatusInTransit      Status = "IN_TRANSIT"
	StatusOutForDelivery Status = "OUT_FOR_DELIVERY"
	StatusDelivered      Status = "DELIVERED"
	StatusException      Status = "EXCEPTION"
)

// Scan is a single operational event recorded against a consignment.
// Immutable once created; owned exclusively by its parent consignment.
type Scan struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Subcode      string    `json:"subcode,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Location     string    `json:"location"`
	FacilityCode string    `json:"facility_code,omitempty"`
	OperatorID   string    `json:"operator_id,omitempty"`
}

// Consignment is the shipment aggregate keyed by air-waybill number.
// The scan sequence is append-only: never reordered, never truncated.
type Consignment struct {
	AWB               string    `json:"awb"`
	ServiceType       string    `json:"service_type"`
	CreatedAt         time.Time `json:"created_at"`
	EstimatedDelivery time.Time `json:"estimated_delivery"`
	Status            Status    `json:"status"`
	Scans             []Scan    `json:"scans"`
}

// LastScan returns the tail of the scan sequence, or nil if no scans
// have been recorded.
func (c *Consignment) LastScan() *Scan {
	if len(c.Scans) == 0 {
		return nil
	}
	return &c.Scans[len(c.Scans)-1]
}

// CurrentLocation is the location of the last scan, empty before the
// first scan arrives.
func (c *Consignment) CurrentLocation() string {
	if last := c.LastScan(); last != nil {
		return last.Location
	}
	return ""
}

// HasScanType reports whether any recorded scan has the given type.
func (c *Consignment) HasScanType(scanType string) bool {
	for i := range c.Scans {
		if c.Scans[i].Type == scanType {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand to readers outside the store's
// per-AWB critical section.
func (c *Consignment) Clone() *Consignment {
	cp := *c
	cp.Scans = make([]Scan, len(c.Scans))
	copy(cp.Scans, c.Scans)
	return &cp
}
