// Package idempotency remembers the result of create requests that carry an
// Idempotency-Key so that retries return the original record instead of
// inserting a duplicate.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/entitystore/model"
)

// Store saves created records under an idempotency key.
type Store interface {
	// Lookup returns the record saved under key. A key saved with a
	// different request hash yields a CONFLICT error.
	Lookup(ctx context.Context, key, requestHash string) (model.Entity, bool, error)

	// Save records created under key for ttl.
	Save(ctx context.Context, key, requestHash string, created model.Entity, ttl time.Duration) error
}

// Key scopes a client supplied key to an entity type and caller.
func Key(entityType, subject, clientKey string) string {
	return fmt.Sprintf("idem:%s:%s:%s", entityType, subject, clientKey)
}

// Hash fingerprints a request body.
func Hash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

type entry struct {
	RequestHash string       `json:"request_hash"`
	Created     model.Entity `json:"created"`
}

func (e entry) match(key, requestHash string) (model.Entity, bool, error) {
	if e.RequestHash != requestHash {
		return nil, true, model.NewConflictError(
			fmt.Sprintf("idempotency key %q was already used with a different request", key),
		)
	}
	return e.Created.Clone(), true, nil
}

// Memory is a process-local Store.
type Memory struct {
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memEntry
}

type memEntry struct {
	entry
	expiresAt time.Time
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{now: time.Now, entries: make(map[string]memEntry)}
}

func (m *Memory) Lookup(_ context.Context, key, requestHash string) (model.Entity, bool, error) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if ok && !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		ok = false
	}
	m.mu.Unlock()

	if !ok {
		return nil, false, nil
	}
	return e.match(key, requestHash)
}

func (m *Memory) Save(_ context.Context, key, requestHash string, created model.Entity, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memEntry{
		entry:     entry{RequestHash: requestHash, Created: created.Clone()},
		expiresAt: m.now().Add(ttl),
	}
	return nil
}

// Len returns the number of stored keys, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Redis is a Store shared by every process using the same Redis.
type Redis struct {
	client redis.Cmdable
}

// NewRedis creates a Redis store.
func NewRedis(client redis.Cmdable) *Redis {
	return &Redis{client: client}
}

func (s *Redis) Lookup(ctx context.Context, key, requestHash string) (model.Entity, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, model.NewTransportError("idempotency lookup", err)
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false, fmt.Errorf("decoding idempotency entry %q: %w", key, err)
	}
	return e.match(key, requestHash)
}

func (s *Redis) Save(ctx context.Context, key, requestHash string, created model.Entity, ttl time.Duration) error {
	data, err := json.Marshal(entry{RequestHash: requestHash, Created: created})
	if err != nil {
		return fmt.Errorf("encoding idempotency entry: %w", err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return model.NewTransportError("idempotency save", err)
	}
	return nil
}
