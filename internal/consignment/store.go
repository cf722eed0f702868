package consignment

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/parcelops/scan-engine/internal/taxonomy"
)

// ErrNotFound is returned when an AWB has no consignment in the store.
var ErrNotFound = errors.New("consignment not found")

// Store keeps consignments in memory behind per-AWB mutexes. Appending
// a scan and re-evaluating rules for the same AWB run in one critical
// section; different AWBs proceed independently.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	logger  *slog.Logger
}

type entry struct {
	mu sync.Mutex
	c  *Consignment
}

// NewStore creates an empty consignment store.
func NewStore(logger *slog.Logger) *Store {
	return &Store{
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

// Upsert registers a consignment if its AWB is new and returns whether
// it was created. Existing consignments are left untouched: scans only
// ever enter through AppendScan or Update.
func (s *Store) Upsert(c *Consignment) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[c.AWB]; exists {
		return false
	}
	if c.Status == "" {
		c.Status = StatusCreated
	}
	s.entries[c.AWB] = &entry{c: c.Clone()}
	s.logger.Info("Consignment registered", "awb", c.AWB, "service_type", c.ServiceType)
	return true
}

// Get returns a snapshot of the consignment for the given AWB.
func (s *Store) Get(awb string) (*Consignment, error) {
	s.mu.RLock()
	e, ok := s.entries[awb]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.c.Clone(), nil
}

// Update runs fn against the live consignment inside its per-AWB
// critical section. Callers use this to append scans and re-evaluate
// rules atomically with respect to other writers of the same AWB.
func (s *Store) Update(awb string, fn func(c *Consignment) error) error {
	s.mu.RLock()
	e, ok := s.entries[awb]
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.c)
}

// AppendScan appends a scan to the consignment's sequence inside the
// per-AWB critical section.
func (s *Store) AppendScan(awb string, scan Scan) error {
	return s.Update(awb, func(c *Consignment) error {
		Append(c, scan)
		return nil
	})
}

// Append appends a scan to a consignment already held under its per-AWB
// lock, assigning an ID when the ingestion collaborator did not supply
// one and rolling the derived status forward.
func Append(c *Consignment, scan Scan) {
	if scan.ID == "" {
		scan.ID = uuid.NewString()
	}
	c.Scans = append(c.Scans, scan)
	switch scan.Type {
	case taxonomy.TypeDelivered:
		c.Status = StatusDelivered
	case taxonomy.TypeOutForDelivery:
		c.Status = StatusOutForDelivery
	case taxonomy.TypeDeliveryException, taxonomy.TypeReturnToOrigin:
		c.Status = StatusException
	default:
		if c.Status == StatusCreated {
			c.Status = StatusInTransit
		}
	}
}

// Working returns the sorted AWBs of consignments still in flight, the
// set the periodic sweep re-evaluates.
func (s *Store) Working() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	awbs := make([]string, 0, len(s.entries))
	for awb, e := range s.entries {
		e.mu.Lock()
		delivered := e.c.Status == StatusDelivered
		e.mu.Unlock()
		if !delivered {
			awbs = append(awbs, awb)
		}
	}
	sort.Strings(awbs)
	return awbs
}

// Len returns the number of tracked consignments.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
