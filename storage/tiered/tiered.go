// Package tiered provides a Hot/Cold tiered store that orchestrates a fast
// ephemeral backend (Hot) with a durable persistent backend (Cold). The hot
// store enforces caps atomically on the request path; the cold store keeps a
// durable audit copy of every admitted increment.
package tiered

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/impactlab/impactcast/pkg/quota"
)

// Config configures the tiered store behavior.
type Config struct {
	// Hot is the L1 store (e.g., Redis, Memory) that admits or rejects
	// increments on the request path.
	Hot quota.Store

	// Cold is the L2 store (e.g., Postgres, Firestore) that keeps the
	// durable copy of admitted counts.
	Cold quota.Store

	// AsyncSync mirrors admitted increments to Cold from a background
	// worker instead of blocking the request. If false, the mirror write
	// happens inline (slower but drift-free on clean shutdown).
	AsyncSync bool

	// SyncBufferSize is the size of the buffered channel for async mirror
	// jobs. Default: 1000.
	SyncBufferSize int

	// SyncErrorHandler is called when a mirror write fails or is dropped.
	// Essential for monitoring drift between the two backends.
	SyncErrorHandler func(error)
}

// Store implements quota.Store over two backends with different strategies
// per operation:
//   - Hot-Primary/Async-Audit: Increment (Hot atomic + mirrored Cold write)
//   - Read-Through: Read (Hot first, Cold when Hot is unavailable)
type Store struct {
	hot  quota.Store
	cold quota.Store
	conf Config

	syncQueue chan func() error
	shutdown  chan struct{}
	wg        sync.WaitGroup
}

// New creates a tiered store over a hot and a cold backend.
func New(config Config) (*Store, error) {
	if config.Hot == nil || config.Cold == nil {
		return nil, errors.New("tiered store: both hot and cold stores are required")
	}

	if config.SyncBufferSize <= 0 {
		config.SyncBufferSize = 1000
	}

	s := &Store{
		hot:       config.Hot,
		cold:      config.Cold,
		conf:      config,
		syncQueue: make(chan func() error, config.SyncBufferSize),
		shutdown:  make(chan struct{}),
	}

	if config.AsyncSync {
		s.startWorker()
	}

	return s, nil
}

// Close gracefully shuts down the async worker (if enabled), draining queued
// mirror writes best effort.
func (s *Store) Close() error {
	if s.conf.AsyncSync {
		select {
		case <-s.shutdown:
			// Already closed
		default:
			close(s.shutdown)
			s.wg.Wait()
		}
	}
	return nil
}

// startWorker runs the background mirror loop. Sequential processing keeps
// per-user writes in causal order.
func (s *Store) startWorker() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case job := <-s.syncQueue:
				if err := job(); err != nil {
					s.reportSyncError(fmt.Errorf("tiered sync failed: %w", err))
				}
			case <-s.shutdown:
				// Drain queue on shutdown (best effort)
				for {
					select {
					case job := <-s.syncQueue:
						_ = job()
					default:
						return
					}
				}
			}
		}
	}()
}

func (s *Store) reportSyncError(err error) {
	if s.conf.SyncErrorHandler != nil {
		s.conf.SyncErrorHandler(err)
	}
}

// Increment implements quota.Store with a hot-primary/async-audit strategy.
// The hot store admits or rejects atomically; every admitted increment is
// mirrored to the cold store with the same arguments, so the cold counter
// converges to the hot one. A rejected or failed hot increment is never
// mirrored.
func (s *Store) Increment(ctx context.Context, userID, periodKey string, limit int) (quota.Counter, error) {
	counter, err := s.hot.Increment(ctx, userID, periodKey, limit)
	if err != nil {
		return counter, err
	}

	if s.conf.AsyncSync {
		select {
		case s.syncQueue <- func() error {
			// Background context so the mirror write completes even
			// if the request that triggered it cancels.
			_, err := s.cold.Increment(context.Background(), userID, periodKey, limit)
			return err
		}:
		default:
			s.reportSyncError(errors.New("tiered store: sync queue full, dropping cold write"))
		}
		return counter, nil
	}

	// Synchronous mirror. Hot already enforced the limit, so a cold
	// failure is reported as drift rather than surfaced to the caller.
	if _, err := s.cold.Increment(ctx, userID, periodKey, limit); err != nil {
		s.reportSyncError(fmt.Errorf("tiered store: sync cold write failed: %w", err))
	}
	return counter, nil
}

// Read implements quota.Store with a read-through strategy. The hot store
// answers while it is healthy; the cold copy answers when it is not. After a
// hot store restart the cold count can run ahead until the period rolls over.
func (s *Store) Read(ctx context.Context, userID, periodKey string) (quota.Counter, error) {
	counter, err := s.hot.Read(ctx, userID, periodKey)
	if err == nil {
		return counter, nil
	}

	return s.cold.Read(ctx, userID, periodKey)
}
