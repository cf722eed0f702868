// Package taxonomy holds the static reference table that maps scan
// type/subcode pairs to descriptions, severities and categories.
package taxonomy

import (
	"sort"
	"strings"
)

// Severity classifies how serious a scan type is from an operations
// point of view.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
	// SeverityUnknown is substituted for scan types the table does not know.
	SeverityUnknown Severity = "unknown"
)

// Canonical scan type codes used across the engine.
const (
	TypePickup            = "pickup"
	TypeDepartedFacility  = "departed-facility"
	TypeArrivedFacility   = "arrived-facility"
	TypeInTransit         = "in-transit"
	TypeCustomsClearance  = "customs-clearance"
	TypeOutForDelivery    = "out-for-delivery"
	TypeDelivered         = "delivered"
	TypeDeliveryException = "delivery-exception"
	TypeReturnToOrigin    = "return-to-origin"
	TypePickupException   = "pickup-exception"
	TypeWeatherDelay      = "weather-delay"
	TypeHeldAtCustoms     = "held-at-customs"
	TypeAddressCorrection = "address-correction"
	TypeDamaged           = "damaged"
)

// Descriptor is an immutable reference entry for one scan type/subcode pair.
type Descriptor struct {
	Type        string   `json:"type"`
	Subcode     string   `json:"subcode,omitempty"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	Category    string   `json:"category"`
}

// Table is a read-only lookup over the reference entries. The fallback
// descriptor is kept out of the table proper so it never leaks into
// AllTypes or category listings.
type Table struct {
	entries  map[string]Descriptor
	ordered  []Descriptor
	fallback Descriptor
}

func entryKey(scanType, subcode string) string {
	return scanType + "|" + subcode
}

// New builds a table from the given entries. An empty slice is valid:
// every lookup then degrades to the fallback descriptor.
func New(entries []Descriptor) *Table {
	t := &Table{
		entries: make(map[string]Descriptor, len(entries)),
		ordered: make([]Descriptor, 0, len(entries)),
		fallback: Descriptor{
			Description: "Unknown scan type",
			Severity:    SeverityUnknown,
			Category:    "General",
		},
	}
	for _, e := range entries {
		if e.Type == "" {
			continue
		}
		k := entryKey(e.Type, e.Subcode)
		if _, exists := t.entries[k]; exists {
			continue
		}
		t.entries[k] = e
		t.ordered = append(t.ordered, e)
	}
	return t
}

// Default returns a table loaded with the shipped reference data.
func Default() *Table {
	return New(defaultEntries)
}

// Lookup resolves a scan type and optional subcode to its descriptor.
// An exact type+subcode match wins over a bare type match; a miss
// returns the fallback descriptor, never an error.
func (t *Table) Lookup(scanType, subcode string) (Descriptor, bool) {
	if subcode != "" {
		if d, ok := t.entries[entryKey(scanType, subcode)]; ok {
			return d, true
		}
	}
	if d, ok := t.entries[entryKey(scanType, "")]; ok {
		return d, true
	}
	fb := t.fallback
	fb.Type = scanType
	fb.Subcode = subcode
	return fb, false
}

// AllTypes returns the sorted set of known type codes. The fallback
// bucket is not part of the table and is therefore never listed.
func (t *Table) AllTypes() []string {
	seen := make(map[string]struct{}, len(t.ordered))
	types := make([]string, 0, len(t.ordered))
	for _, e := range t.ordered {
		if _, ok := seen[e.Type]; ok {
			continue
		}
		seen[e.Type] = struct{}{}
		types = append(types, e.Type)
	}
	sort.Strings(types)
	return types
}

// AllCategories returns the sorted set of category labels.
func (t *Table) AllCategories() []string {
	seen := make(map[string]struct{})
	categories := make([]string, 0)
	for _, e := range t.ordered {
		if _, ok := seen[e.Category]; ok {
			continue
		}
		seen[e.Category] = struct{}{}
		categories = append(categories, e.Category)
	}
	sort.Strings(categories)
	return categories
}

// CriticalCodes returns every entry whose severity is critical or high,
// in table order.
func (t *Table) CriticalCodes() []Descriptor {
	out := make([]Descriptor, 0)
	for _, e := range t.ordered {
		if e.Severity == SeverityCritical || e.Severity == SeverityHigh {
			out = append(out, e)
		}
	}
	return out
}

// CodesByCategory returns the entries in the given category. An unknown
// category yields an empty list. Matching is case-insensitive.
func (t *Table) CodesByCategory(category string) []Descriptor {
	out := make([]Descriptor, 0)
	for _, e := range t.ordered {
		if strings.EqualFold(e.Category, category) {
			out = append(out, e)
		}
	}
	return out
}

// defaultEntries is the shipped reference data. Loaded once at process
// start; never mutated.
var defaultEntries = []Descriptor{
	{Type: TypePickup, Description: "Package picked up from shipper", Severity: SeverityLow, Category: "Movement"},
	{Type: TypeDepartedFacility, Description: "Departed origin facility", Severity: SeverityLow, Category: "Movement"},
	{Type: TypeArrivedFacility, Description: "Arrived at sort facility", Severity: SeverityLow, Category: "Movement"},
	{Type: TypeInTransit, Description: "In transit between facilities", Severity: SeverityLow, Category: "Movement"},
	{Type: TypeOutForDelivery, Description: "Out for delivery with courier", Severity: SeverityLow, Category: "Movement"},
	{Type: TypeDelivered, Description: "Delivered to recipient", Severity: SeverityLow, Category: "Movement"},
	{Type: TypeCustomsClearance, Description: "Cleared customs", Severity: SeverityMedium, Category: "Customs"},
	{Type: TypeHeldAtCustoms, Description: "Held at customs pending documentation", Severity: SeverityHigh, Category: "Customs"},
	{Type: TypeHeldAtCustoms, Subcode: "duty-unpaid", Description: "Held at customs, import duty unpaid", Severity: SeverityCritical, Category: "Customs"},
	{Type: TypePickupException, Description: "Pickup attempted, shipper unavailable", Severity: SeverityMedium, Category: "Timing"},
	{Type: TypeWeatherDelay, Description: "Delayed by weather conditions", Severity: SeverityMedium, Category: "Timing"},
	{Type: TypeDeliveryException, Description: "Delivery attempt failed", Severity: SeverityHigh, Category: "Exception"},
	{Type: TypeDeliveryException, Subcode: "recipient-absent", Description: "Delivery failed, recipient absent", Severity: SeverityMedium, Category: "Exception"},
	{Type: TypeDeliveryException, Subcode: "refused", Description: "Delivery refused by recipient", Severity: SeverityHigh, Category: "Exception"},
	{Type: TypeReturnToOrigin, Description: "Return to origin initiated", Severity: SeverityCritical, Category: "Exception"},
	{Type: TypeAddressCorrection, Description: "Delivery address corrected", Severity: SeverityMedium, Category: "Exception"},
	{Type: TypeDamaged, Description: "Package damage reported", Severity: SeverityCritical, Category: "Exception"},
}
