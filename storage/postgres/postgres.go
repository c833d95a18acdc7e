// Package postgres provides a PostgreSQL implementation of the quota.Store
// interface. Increments run inside a transaction with SELECT FOR UPDATE so
// concurrent requests for the same counter serialize on the row lock.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/impactlab/impactcast/pkg/quota"
)

// Store implements quota.Store using a PostgreSQL connection pool.
type Store struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL store configuration.
type Config struct {
	// ConnectionString is the PostgreSQL connection string.
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a PostgreSQL-backed store and verifies connectivity.
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool, config: config}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema creates the counters table if it does not exist. Deployments
// that manage migrations elsewhere can skip this.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS quota_counters (
			user_id    TEXT        NOT NULL,
			period_key TEXT        NOT NULL,
			count      BIGINT      NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, period_key)
		)`)
	if err != nil {
		return fmt.Errorf("failed to create quota_counters table: %w", err)
	}
	return nil
}

// Increment implements quota.Store. The row is upserted first so the
// SELECT FOR UPDATE always finds something to lock, which avoids the
// insert race between two first-of-the-month requests.
func (s *Store) Increment(ctx context.Context, userID, periodKey string, limit int) (quota.Counter, error) {
	counter := quota.Counter{UserID: userID, PeriodKey: periodKey, Cap: limit}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return counter, fmt.Errorf("%w: begin transaction: %v", quota.ErrStoreUnavailable, err)
	}
	defer func() {
		// Rollback is a no-op after a successful commit.
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx,
		`INSERT INTO quota_counters (user_id, period_key, count, updated_at)
			VALUES ($1, $2, 0, NOW())
			ON CONFLICT (user_id, period_key) DO NOTHING`,
		userID, periodKey)
	if err != nil {
		return counter, fmt.Errorf("%w: ensure counter row: %v", quota.ErrStoreUnavailable, err)
	}

	var current int
	err = tx.QueryRow(ctx,
		`SELECT count FROM quota_counters
			WHERE user_id = $1 AND period_key = $2
			FOR UPDATE`,
		userID, periodKey).Scan(&current)
	if err != nil {
		return counter, fmt.Errorf("%w: lock counter row: %v", quota.ErrStoreUnavailable, err)
	}

	counter.Count = current
	if current+1 > limit {
		if err := tx.Commit(ctx); err != nil {
			return counter, fmt.Errorf("%w: commit: %v", quota.ErrStoreUnavailable, err)
		}
		return counter, &quota.ExceededError{Count: current, Cap: limit}
	}

	_, err = tx.Exec(ctx,
		`UPDATE quota_counters
			SET count = $1, updated_at = NOW()
			WHERE user_id = $2 AND period_key = $3`,
		current+1, userID, periodKey)
	if err != nil {
		return counter, fmt.Errorf("%w: update counter: %v", quota.ErrStoreUnavailable, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return counter, fmt.Errorf("%w: commit: %v", quota.ErrStoreUnavailable, err)
	}

	counter.Count = current + 1
	return counter, nil
}

// Read implements quota.Store. A missing row yields a zero count.
func (s *Store) Read(ctx context.Context, userID, periodKey string) (quota.Counter, error) {
	counter := quota.Counter{UserID: userID, PeriodKey: periodKey}

	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT count FROM quota_counters WHERE user_id = $1 AND period_key = $2`,
		userID, periodKey).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return counter, nil
	}
	if err != nil {
		return counter, fmt.Errorf("%w: read counter: %v", quota.ErrStoreUnavailable, err)
	}

	counter.Count = count
	return counter, nil
}
