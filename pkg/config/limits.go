package config

import "sync"

// LimitStore holds the runtime-updatable risk limits. Reads return a value
// copy so a sizing computation always works against one consistent snapshot
// even while an operator update is in flight.
type LimitStore struct {
	mu     sync.RWMutex
	limits RiskLimits
}

// NewLimitStore creates a limit store seeded with the given limits
func NewLimitStore(limits RiskLimits) *LimitStore {
	return &LimitStore{limits: limits}
}

// Get returns a snapshot of the current limits
func (s *LimitStore) Get() RiskLimits {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.limits
}

// Update replaces the limits after validating them. Invalid limit sets are
// rejected and the previous limits stay in force.
func (s *LimitStore) Update(limits RiskLimits) error {
	if err := limits.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits = limits
	return nil
}
