// Package redis provides a Redis implementation of the quota.Store interface.
// Increments run through a Lua script so the check-and-increment is atomic
// across processes.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/impactlab/impactcast/pkg/quota"
)

// Store implements quota.Store using Redis.
type Store struct {
	client    redis.UniversalClient
	config    Config
	increment *redis.Script
}

// Config holds Redis store configuration.
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "impactcast:quota:").
	KeyPrefix string

	// CounterTTL is the TTL re-applied on every increment. It only needs to
	// outlive the calendar month the counter belongs to (default: 62 days).
	CounterTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		KeyPrefix:  "impactcast:quota:",
		CounterTTL: 62 * 24 * time.Hour,
	}
}

// New creates a new Redis store.
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring.
func New(client redis.UniversalClient, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "impactcast:quota:"
	}
	if config.CounterTTL <= 0 {
		config.CounterTTL = 62 * 24 * time.Hour
	}

	return &Store{
		client:    client,
		config:    config,
		increment: redis.NewScript(incrementScript),
	}, nil
}

// incrementScript checks the cap and increments in one atomic step. It
// returns {count, status} where status is 'ok' or 'quota_exceeded'.
const incrementScript = `
	local key = KEYS[1]
	local limit = tonumber(ARGV[1])
	local ttl = tonumber(ARGV[2])

	local current = tonumber(redis.call('GET', key) or '0')
	if current + 1 > limit then
		return {current, 'quota_exceeded'}
	end

	local count = redis.call('INCR', key)
	if ttl > 0 then
		redis.call('EXPIRE', key, ttl)
	end
	return {count, 'ok'}
`

// Increment implements quota.Store.
func (s *Store) Increment(ctx context.Context, userID, periodKey string, limit int) (quota.Counter, error) {
	key := s.counterKey(userID, periodKey)

	result, err := s.increment.Run(
		ctx,
		s.client,
		[]string{key},
		limit,
		int64(s.config.CounterTTL.Seconds()),
	).Result()
	if err != nil {
		return quota.Counter{}, fmt.Errorf("%w: increment script: %v", quota.ErrStoreUnavailable, err)
	}

	count, status, err := parseIncrementResult(result)
	if err != nil {
		return quota.Counter{}, fmt.Errorf("%w: %v", quota.ErrStoreUnavailable, err)
	}

	counter := quota.Counter{UserID: userID, PeriodKey: periodKey, Count: count, Cap: limit}
	if status == "quota_exceeded" {
		return counter, &quota.ExceededError{Count: count, Cap: limit}
	}
	return counter, nil
}

// Read implements quota.Store.
func (s *Store) Read(ctx context.Context, userID, periodKey string) (quota.Counter, error) {
	val, err := s.client.Get(ctx, s.counterKey(userID, periodKey)).Result()
	if err == redis.Nil {
		return quota.Counter{UserID: userID, PeriodKey: periodKey}, nil
	}
	if err != nil {
		return quota.Counter{}, fmt.Errorf("%w: get counter: %v", quota.ErrStoreUnavailable, err)
	}

	count, err := strconv.Atoi(val)
	if err != nil {
		return quota.Counter{}, fmt.Errorf("%w: counter %q is not a number", quota.ErrStoreUnavailable, val)
	}
	return quota.Counter{UserID: userID, PeriodKey: periodKey, Count: count}, nil
}

func (s *Store) counterKey(userID, periodKey string) string {
	return fmt.Sprintf("%s%s:%s", s.config.KeyPrefix, userID, periodKey)
}

// parseIncrementResult unpacks the {count, status} pair the script returns.
func parseIncrementResult(result interface{}) (int, string, error) {
	pair, ok := result.([]interface{})
	if !ok || len(pair) != 2 {
		return 0, "", fmt.Errorf("unexpected script result %T", result)
	}
	count, ok := pair[0].(int64)
	if !ok {
		return 0, "", fmt.Errorf("unexpected count type %T", pair[0])
	}
	status, ok := pair[1].(string)
	if !ok {
		return 0, "", fmt.Errorf("unexpected status type %T", pair[1])
	}
	return int(count), status, nil
}
