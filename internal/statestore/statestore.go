// Package statestore keeps the externally polled session status snapshots.
// Redis backs the server deployment; the in-memory variant serves tests and
// the one-shot CLI.
package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/prismlab/prism/config"
	"github.com/prismlab/prism/internal/research"
)

// Store is the status snapshot boundary. Put replaces the whole snapshot;
// partial updates do not exist.
type Store interface {
	Put(ctx context.Context, rec research.StatusRecord) error
	Get(ctx context.Context, sessionID string) (research.StatusRecord, bool, error)
}

func key(sessionID string) string { return "session:" + sessionID }

// Redis stores one JSON value per session.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects and pings before returning.
func NewRedis(ctx context.Context, cfg config.RedisConfig, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.Timeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{client: client, ttl: ttl}, nil
}

func (r *Redis) Put(ctx context.Context, rec research.StatusRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding status for %s: %w", rec.SessionID, err)
	}
	if err := r.client.Set(ctx, key(rec.SessionID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("storing status for %s: %w", rec.SessionID, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, sessionID string) (research.StatusRecord, bool, error) {
	data, err := r.client.Get(ctx, key(sessionID)).Bytes()
	if err == redis.Nil {
		return research.StatusRecord{}, false, nil
	}
	if err != nil {
		return research.StatusRecord{}, false, fmt.Errorf("loading status for %s: %w", sessionID, err)
	}
	var rec research.StatusRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return research.StatusRecord{}, false, fmt.Errorf("decoding status for %s: %w", sessionID, err)
	}
	return rec, true, nil
}

// InMemory is a process-local Store.
type InMemory struct {
	mu   sync.RWMutex
	recs map[string]research.StatusRecord
}

func NewInMemory() *InMemory {
	return &InMemory{recs: make(map[string]research.StatusRecord)}
}

func (m *InMemory) Put(_ context.Context, rec research.StatusRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[rec.SessionID] = rec
	return nil
}

func (m *InMemory) Get(_ context.Context, sessionID string) (research.StatusRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.recs[sessionID]
	return rec, ok, nil
}
