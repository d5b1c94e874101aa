// Package session provides the Redis-backed login lockout counters; rate
// limiting lives in internal/ratelimit. The revocation ledger itself (the authoritative session/
// refresh-token rows) lives in internal/store, backed by SQL; this
// package only ever holds short-TTL counters that are safe to lose on a
// cache flush.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	LockoutTTL       = 15 * time.Minute
	LockoutThreshold = 5
)

type Manager struct {
	client *redis.Client
}

func NewManager(addr string, password string) *Manager {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	return &Manager{client: rdb}
}

func NewManagerFromClient(client *redis.Client) *Manager {
	return &Manager{client: client}
}

// CheckLockout returns true if the given identifier (username or email) is
// currently locked out of authentication.
func (m *Manager) CheckLockout(ctx context.Context, identifier string) (bool, error) {
	key := fmt.Sprintf("lockout:%s", identifier)
	val, err := m.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val == "locked", nil
}

// RecordFailedAttempt increments the failure counter for identifier and
// locks it out once LockoutThreshold is reached within LockoutTTL.
func (m *Manager) RecordFailedAttempt(ctx context.Context, identifier string) error {
	key := fmt.Sprintf("lockout_count:%s", identifier)
	count, err := m.client.Incr(ctx, key).Result()
	if err != nil {
		return err
	}

	if count == 1 {
		m.client.Expire(ctx, key, LockoutTTL)
	}

	if count >= LockoutThreshold {
		lockKey := fmt.Sprintf("lockout:%s", identifier)
		m.client.Set(ctx, lockKey, "locked", LockoutTTL)
		m.client.Del(ctx, key)
	}
	return nil
}

// ClearFailedAttempts resets the failure counter on a successful login.
func (m *Manager) ClearFailedAttempts(ctx context.Context, identifier string) error {
	return m.client.Del(ctx, fmt.Sprintf("lockout_count:%s", identifier)).Err()
}

func (m *Manager) Close() error { return m.client.Close() }
