package ratelimit

import (
	"context"
	"sync"
	"time"
)

// AttemptStore persists attempt timestamps keyed by (action, identity).
// Entries older than the policy window are logically dead; implementations
// prune them lazily on read and may additionally sweep them in bulk.
type AttemptStore interface {
	// CountInWindow returns the number of attempts recorded strictly after
	// cutoff, plus the timestamp of the oldest such attempt (zero when none).
	CountInWindow(ctx context.Context, action, identity string, cutoff time.Time) (int, time.Time, error)

	// Record stores one attempt at the given time
	Record(ctx context.Context, action, identity string, at time.Time) error

	// PruneBefore removes attempts older than cutoff across all keys
	PruneBefore(ctx context.Context, cutoff time.Time) error
}

// MemoryStore is an in-process AttemptStore holding a bounded ordered
// timestamp log per key. Suitable for tests and single-binary deployments.
type MemoryStore struct {
	attempts map[string][]time.Time
	mu       sync.Mutex
}

// NewMemoryStore creates a new in-memory attempt store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		attempts: make(map[string][]time.Time),
	}
}

func storeKey(action, identity string) string {
	return action + ":" + identity
}

// CountInWindow counts attempts after cutoff, pruning expired entries in place
func (s *MemoryStore) CountInWindow(_ context.Context, action, identity string, cutoff time.Time) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := storeKey(action, identity)
	log := s.attempts[key]

	// Drop expired entries; the log is append-only so it stays ordered.
	i := 0
	for i < len(log) && !log[i].After(cutoff) {
		i++
	}
	if i > 0 {
		log = append([]time.Time(nil), log[i:]...)
		if len(log) == 0 {
			delete(s.attempts, key)
		} else {
			s.attempts[key] = log
		}
	}

	if len(log) == 0 {
		return 0, time.Time{}, nil
	}
	return len(log), log[0], nil
}

// Record appends an attempt timestamp
func (s *MemoryStore) Record(_ context.Context, action, identity string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := storeKey(action, identity)
	s.attempts[key] = append(s.attempts[key], at)
	return nil
}

// PruneBefore removes attempts older than cutoff across all keys
func (s *MemoryStore) PruneBefore(_ context.Context, cutoff time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, log := range s.attempts {
		i := 0
		for i < len(log) && !log[i].After(cutoff) {
			i++
		}
		if i == len(log) {
			delete(s.attempts, key)
		} else if i > 0 {
			s.attempts[key] = append([]time.Time(nil), log[i:]...)
		}
	}
	return nil
}
