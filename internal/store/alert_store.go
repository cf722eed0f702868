// Package store is the indexed in-memory repository backing the alert
// rule engine: a primary map by id plus secondary indices by AWB and
// severity, so per-AWB evaluation never scans the full alert list.
package store

import (
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an alert.
type Status string

const (
	StatusActive       Status = "ACTIVE"
	StatusAcknowledged Status = "ACKNOWLEDGED"
	StatusResolved     Status = "RESOLVED"
	StatusOverridden   Status = "OVERRIDDEN"
)

// Severity of an alert.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

var (
	// ErrAlertNotFound is returned when no alert exists for the given id.
	ErrAlertNotFound = errors.New("alert not found")
	// ErrInvalidTransition is returned when a lifecycle transition is not
	// allowed from the alert's current status. Distinct from not-found so
	// callers can surface the two differently.
	ErrInvalidTransition = errors.New("invalid alert status transition")
)

// validTransitions encodes the lifecycle state machine. RESOLVED and
// OVERRIDDEN are terminal.
var validTransitions = map[Status][]Status{
	StatusActive:       {StatusAcknowledged, StatusResolved, StatusOverridden},
	StatusAcknowledged: {StatusResolved, StatusOverridden},
	StatusResolved:     {},
	StatusOverridden:   {},
}

// Note is a timestamped free-text annotation on an alert.
type Note struct {
	Timestamp time.Time `json:"timestamp"`
	Content   string    `json:"content"`
}

// Alert is an operator-actionable finding raised by the rule engine.
// Alerts reference a consignment by AWB but do not own it, and are
// never deleted: the note list and terminal states form the audit trail.
type Alert struct {
	ID          string         `json:"id"`
	AWB         string         `json:"awb"`
	RuleID      string         `json:"rule_id"`
	Severity    Severity       `json:"severity"`
	Description string         `json:"description"`
	Details     map[string]any `json:"details,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	Status      Status         `json:"status"`
	AssignedTo  string         `json:"assigned_to,omitempty"`
	Notes       []Note         `json:"notes"`
}

func (a *Alert) clone() *Alert {
	cp := *a
	cp.Notes = make([]Note, len(a.Notes))
	copy(cp.Notes, a.Notes)
	if a.Details != nil {
		cp.Details = make(map[string]any, len(a.Details))
		for k, v := range a.Details {
			cp.Details[k] = v
		}
	}
	return &cp
}

// Stats summarizes the store. BySeverity counts exclude RESOLVED and
// OVERRIDDEN alerts.
type Stats struct {
	Total        int              `json:"total"`
	Active       int              `json:"active"`
	Acknowledged int              `json:"acknowledged"`
	Resolved     int              `json:"resolved"`
	Overridden   int              `json:"overridden"`
	BySeverity   map[Severity]int `json:"by_severity"`
}

// Store is the thread-safe alert repository.
type Store struct {
	mu     sync.RWMutex
	logger *slog.Logger

	byID  map[string]*Alert
	byAWB map[string][]string
	order []string
}

// NewStore creates an empty alert store.
func NewStore(logger *slog.Logger) *Store {
	return &Store{
		logger: logger,
		byID:   make(map[string]*Alert),
		byAWB:  make(map[string][]string),
	}
}

// Create inserts a new alert, assigning id, creation time and ACTIVE
// status when unset, and returns a snapshot of the stored alert.
func (s *Store) Create(alert *Alert) *Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := alert.clone()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if a.Status == "" {
		a.Status = StatusActive
	}
	if a.Notes == nil {
		a.Notes = make([]Note, 0)
	}

	s.byID[a.ID] = a
	s.byAWB[a.AWB] = append(s.byAWB[a.AWB], a.ID)
	s.order = append(s.order, a.ID)

	s.logger.Info("Alert created",
		"alert_id", a.ID,
		"awb", a.AWB,
		"rule_id", a.RuleID,
		"severity", a.Severity)
	return a.clone()
}

// Get returns the alert with the given id.
func (s *Store) Get(id string) (*Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.byID[id]
	if !ok {
		return nil, ErrAlertNotFound
	}
	return a.clone(), nil
}

// ByAWB returns all alerts referencing the given AWB in creation order.
// An unknown AWB yields an empty slice, not an error.
func (s *Store) ByAWB(awb string) []*Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byAWB[awb]
	out := make([]*Alert, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.byID[id].clone())
	}
	return out
}

// BySeverity returns ACTIVE alerts of the given severity.
func (s *Store) BySeverity(severity Severity) []*Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Alert, 0)
	for _, id := range s.order {
		a := s.byID[id]
		if a.Severity == severity && a.Status == StatusActive {
			out = append(out, a.clone())
		}
	}
	return out
}

// All returns every alert in creation order.
func (s *Store) All() []*Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Alert, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id].clone())
	}
	return out
}

// SearchByAWB returns alerts whose AWB contains the given substring,
// grouped by AWB in sorted order.
func (s *Store) SearchByAWB(partial string) []*Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	awbs := make([]string, 0)
	for awb := range s.byAWB {
		if strings.Contains(awb, partial) {
			awbs = append(awbs, awb)
		}
	}
	sort.Strings(awbs)

	out := make([]*Alert, 0)
	for _, awb := range awbs {
		for _, id := range s.byAWB[awb] {
			out = append(out, s.byID[id].clone())
		}
	}
	return out
}

// HasOpen reports whether a non-terminal alert exists for the given
// (awb, ruleID) pair. Used by the engine's deduplication mode.
func (s *Store) HasOpen(awb, ruleID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.byAWB[awb] {
		a := s.byID[id]
		if a.RuleID == ruleID && (a.Status == StatusActive || a.Status == StatusAcknowledged) {
			return true
		}
	}
	return false
}

// Stats returns store-wide counts.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{BySeverity: make(map[Severity]int)}
	for _, a := range s.byID {
		stats.Total++
		switch a.Status {
		case StatusActive:
			stats.Active++
		case StatusAcknowledged:
			stats.Acknowledged++
		case StatusResolved:
			stats.Resolved++
		case StatusOverridden:
			stats.Overridden++
		}
		if a.Status != StatusResolved && a.Status != StatusOverridden {
			stats.BySeverity[a.Severity]++
		}
	}
	return stats
}

// Acknowledge moves an ACTIVE alert to ACKNOWLEDGED.
func (s *Store) Acknowledge(id, note string) error {
	return s.transition(id, StatusAcknowledged, note)
}

// Resolve moves an ACTIVE or ACKNOWLEDGED alert to the terminal
// RESOLVED state.
func (s *Store) Resolve(id, note string) error {
	return s.transition(id, StatusResolved, note)
}

// Override moves an ACTIVE or ACKNOWLEDGED alert to the terminal
// OVERRIDDEN state.
func (s *Store) Override(id, note string) error {
	return s.transition(id, StatusOverridden, note)
}

// Assign sets the operator responsible for a non-terminal alert.
func (s *Store) Assign(id, operator string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return ErrAlertNotFound
	}
	if a.Status == StatusResolved || a.Status == StatusOverridden {
		return ErrInvalidTransition
	}
	a.AssignedTo = operator
	s.logger.Info("Alert assigned", "alert_id", id, "assigned_to", operator)
	return nil
}

func (s *Store) transition(id string, to Status, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return ErrAlertNotFound
	}

	allowed := false
	for _, next := range validTransitions[a.Status] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return ErrInvalidTransition
	}

	a.Status = to
	if note != "" {
		a.Notes = append(a.Notes, Note{Timestamp: time.Now(), Content: note})
	}

	s.logger.Info("Alert status changed", "alert_id", id, "status", to)
	return nil
}
