// Package entitlement owns the paid/not-paid decision: the in-memory
// entitlement cache reconciled from provider webhook events, and the service
// that answers checkout and verification requests on top of it.
package entitlement

import (
	"sync"

	"paygate/internal/types"
)

// Store is the in-memory entitlement cache, keyed by customer email
// (case-sensitive). It is written only by webhook event application and the
// test grant; entitlement checks read it but never populate it. The cache is
// empty on every process start and converges as events arrive.
type Store struct {
	mu      sync.RWMutex
	records map[string]types.EntitlementRecord
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		records: make(map[string]types.EntitlementRecord),
	}
}

// Get returns the record for the email and whether one exists.
func (s *Store) Get(email string) (types.EntitlementRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[email]
	return rec, ok
}

// Upsert stores the record under its email, replacing any previous record.
// Last write wins; events are applied in delivery order.
func (s *Store) Upsert(rec types.EntitlementRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Email] = rec
}

// Delete removes the record for the email. Deleting an absent key is a no-op.
func (s *Store) Delete(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, email)
}

// Len returns the number of cached records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Snapshot returns a copy of all cached records, for diagnostics.
func (s *Store) Snapshot() []types.EntitlementRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.EntitlementRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out
}
