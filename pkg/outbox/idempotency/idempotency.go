package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Store is the subset of the redis client the guard needs.
type Store interface {
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	IdempotencyKey(scope, id string) string
	Del(context.Context, ...string) error
}

// Manager tracks processed message ids per consumer using Redis SETNX with a TTL.
// Keys follow the `sm:idempotency:processed:<consumer>:<id>` pattern.
type Manager struct {
	store Store
	ttl   time.Duration
}

// NewManager builds an idempotency guard that marks ids as processed for the given TTL.
func NewManager(store Store, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{store: store, ttl: ttl}, nil
}

// CheckAndMarkProcessed returns true if id has already been processed and
// otherwise marks it as processed with the configured TTL.
func (m *Manager) CheckAndMarkProcessed(ctx context.Context, consumer string, id string) (bool, error) {
	key, err := m.processedKey(consumer, id)
	if err != nil {
		return false, err
	}
	set, err := m.store.SetNX(ctx, key, "1", m.ttl)
	if err != nil {
		return false, err
	}
	return !set, nil
}

// Delete forgets id so a failed attempt can be retried.
func (m *Manager) Delete(ctx context.Context, consumer string, id string) error {
	key, err := m.processedKey(consumer, id)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) processedKey(consumer string, id string) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if id == "" {
		return "", errors.New("message id is required")
	}
	return m.store.IdempotencyKey(fmt.Sprintf("processed:%s", consumer), id), nil
}
