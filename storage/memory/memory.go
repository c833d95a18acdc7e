// Package memory provides an in-memory implementation of the quota.Store
// interface. This implementation is primarily intended for testing,
// development, and single-process deployments.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/impactlab/impactcast/pkg/quota"
)

// Store implements quota.Store using an in-memory map.
type Store struct {
	mu     sync.RWMutex
	counts map[string]int
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		counts: make(map[string]int),
	}
}

// Increment implements quota.Store. The mutex makes the read-check-write
// atomic across goroutines.
func (s *Store) Increment(ctx context.Context, userID, periodKey string, limit int) (quota.Counter, error) {
	if err := ctx.Err(); err != nil {
		return quota.Counter{}, fmt.Errorf("%w: %v", quota.ErrStoreUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := counterKey(userID, periodKey)
	current := s.counts[key]
	counter := quota.Counter{UserID: userID, PeriodKey: periodKey, Count: current, Cap: limit}

	if current+1 > limit {
		return counter, &quota.ExceededError{Count: current, Cap: limit}
	}

	s.counts[key] = current + 1
	counter.Count = current + 1
	return counter, nil
}

// Read implements quota.Store. A user with no usage yields a zero count.
func (s *Store) Read(ctx context.Context, userID, periodKey string) (quota.Counter, error) {
	if err := ctx.Err(); err != nil {
		return quota.Counter{}, fmt.Errorf("%w: %v", quota.ErrStoreUnavailable, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return quota.Counter{
		UserID:    userID,
		PeriodKey: periodKey,
		Count:     s.counts[counterKey(userID, periodKey)],
	}, nil
}

// Clear removes all data (useful for testing).
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counts = make(map[string]int)
}

func counterKey(userID, periodKey string) string {
	return fmt.Sprintf("%s:%s", userID, periodKey)
}
