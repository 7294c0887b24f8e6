// Package cache holds the redis-backed short-TTL cache for active-session
// lookups. The reconcile loops of every connected client poll the same
// endpoint every few seconds; this keeps that load off the upstream.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"voltlink/internal/models"
)

// ActiveSessionsStore caches the active transaction per charge box.
type ActiveSessionsStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewActiveSessionsStore returns a redis-backed store.
func NewActiveSessionsStore(client *redis.Client, ttl time.Duration) *ActiveSessionsStore {
	return &ActiveSessionsStore{client: client, ttl: ttl}
}

func (s *ActiveSessionsStore) key(chargeBoxID string) string {
	return "relay:active-tx:" + chargeBoxID
}

// Save caches the active transaction for a charge box.
func (s *ActiveSessionsStore) Save(ctx context.Context, chargeBoxID string, tx models.Transaction) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(chargeBoxID), data, s.ttl).Err()
}

// Get returns the cached transaction, or (nil, false) on a miss.
func (s *ActiveSessionsStore) Get(ctx context.Context, chargeBoxID string) (*models.Transaction, bool, error) {
	result, err := s.client.Get(ctx, s.key(chargeBoxID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var tx models.Transaction
	if err := json.Unmarshal([]byte(result), &tx); err != nil {
		return nil, false, err
	}
	return &tx, true, nil
}

// Delete drops the cached entry, e.g. right after a stop command.
func (s *ActiveSessionsStore) Delete(ctx context.Context, chargeBoxID string) error {
	return s.client.Del(ctx, s.key(chargeBoxID)).Err()
}
