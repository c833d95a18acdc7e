// Package firestore provides a Firestore implementation of the quota.Store
// interface, for deployments already running on Google Cloud. Increments run
// inside a transaction so the check-and-increment is atomic across processes.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/impactlab/impactcast/pkg/quota"
)

// Store implements quota.Store using Google Cloud Firestore.
type Store struct {
	client     *firestore.Client
	collection string
}

// Config holds Firestore store configuration.
type Config struct {
	// Collection is the Firestore collection holding monthly counters.
	// Default: "quota_counters".
	Collection string
}

// New creates a new Firestore store.
func New(client *firestore.Client, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	if config.Collection == "" {
		config.Collection = "quota_counters"
	}

	return &Store{
		client:     client,
		collection: config.Collection,
	}, nil
}

// Increment implements quota.Store with a transactional read-modify-write.
func (s *Store) Increment(ctx context.Context, userID, periodKey string, limit int) (quota.Counter, error) {
	doc := s.counterDoc(userID, periodKey)
	var count int

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(doc)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}

		current := 0
		if err == nil && snap.Exists() {
			current = getInt(snap.Data(), "count")
		}

		if current+1 > limit {
			count = current
			return &quota.ExceededError{Count: current, Cap: limit}
		}

		count = current + 1
		return tx.Set(doc, map[string]interface{}{
			"userId":    userID,
			"periodKey": periodKey,
			"count":     count,
			"cap":       limit,
			"updatedAt": time.Now().UTC(),
		}, firestore.MergeAll)
	})

	counter := quota.Counter{UserID: userID, PeriodKey: periodKey, Count: count, Cap: limit}
	if err != nil {
		var exceeded *quota.ExceededError
		if errors.As(err, &exceeded) {
			return counter, exceeded
		}
		return quota.Counter{}, fmt.Errorf("%w: increment transaction: %v", quota.ErrStoreUnavailable, err)
	}
	return counter, nil
}

// Read implements quota.Store.
func (s *Store) Read(ctx context.Context, userID, periodKey string) (quota.Counter, error) {
	snap, err := s.counterDoc(userID, periodKey).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return quota.Counter{UserID: userID, PeriodKey: periodKey}, nil
	}
	if err != nil {
		return quota.Counter{}, fmt.Errorf("%w: get counter: %v", quota.ErrStoreUnavailable, err)
	}

	return quota.Counter{
		UserID:    userID,
		PeriodKey: periodKey,
		Count:     getInt(snap.Data(), "count"),
	}, nil
}

func (s *Store) counterDoc(userID, periodKey string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(fmt.Sprintf("%s_%s", userID, periodKey))
}

// getInt extracts an integer field from Firestore document data, which stores
// numbers as int64 or float64.
func getInt(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
