// Package state provides an expiring per-conversation state store backed
// by Redis. It holds typed state blobs keyed by (conversation, kind), each
// with its own time-to-live — lightweight dialog state that must survive
// between turns but expire on its own, not durable domain data. Durable
// data belongs in the message log.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Kind names one category of session state. At most one live entry exists
// per (conversation, kind) pair.
type Kind string

// DefaultTTL is used when a caller passes a non-positive TTL and when the
// remaining TTL of an entry cannot be read back during Update.
const DefaultTTL = 10 * time.Minute

// Store is an expiring key-value store for session state. All operations
// key on the (conversationID, kind) pair. No locking is provided:
// concurrent writers to the same key race, so callers that need ordered
// updates must serialize turns per conversation upstream.
type Store struct {
	rdb        redis.UniversalClient
	defaultTTL time.Duration
	logger     *slog.Logger
}

// New creates a state store on the given Redis client. A non-positive
// defaultTTL falls back to DefaultTTL; a nil logger falls back to
// slog.Default().
func New(rdb redis.UniversalClient, defaultTTL time.Duration, logger *slog.Logger) *Store {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{rdb: rdb, defaultTTL: defaultTTL, logger: logger}
}

// DefaultTTL returns the store's fallback time-to-live.
func (s *Store) DefaultTTL() time.Duration {
	return s.defaultTTL
}

func (s *Store) key(conversationID string, kind Kind) string {
	return fmt.Sprintf("state:%s:%s", conversationID, kind)
}

// Set writes the JSON encoding of data under (conversationID, kind) with
// the given TTL, overwriting any previous entry. A non-positive TTL uses
// the store default.
func (s *Store) Set(ctx context.Context, conversationID string, kind Kind, data any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal state %s/%s: %w", conversationID, kind, err)
	}
	if err := s.rdb.Set(ctx, s.key(conversationID, kind), raw, ttl).Err(); err != nil {
		return fmt.Errorf("set state %s/%s: %w", conversationID, kind, err)
	}
	return nil
}

// Exists reports whether a live entry exists for (conversationID, kind).
func (s *Store) Exists(ctx context.Context, conversationID string, kind Kind) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.key(conversationID, kind)).Result()
	if err != nil {
		return false, fmt.Errorf("exists state %s/%s: %w", conversationID, kind, err)
	}
	return n > 0, nil
}

// Delete removes the entry for (conversationID, kind). Deleting a missing
// entry is not an error.
func (s *Store) Delete(ctx context.Context, conversationID string, kind Kind) error {
	if err := s.rdb.Del(ctx, s.key(conversationID, kind)).Err(); err != nil {
		return fmt.Errorf("delete state %s/%s: %w", conversationID, kind, err)
	}
	return nil
}

// getRaw returns the stored bytes and remaining TTL, deleting the key and
// reporting absence when the value cannot be used. A corrupt or foreign
// entry must never reach business logic.
func (s *Store) getRaw(ctx context.Context, conversationID string, kind Kind) ([]byte, time.Duration, error) {
	key := s.key(conversationID, kind)
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("get state %s/%s: %w", conversationID, kind, err)
	}
	ttl, err := s.rdb.TTL(ctx, key).Result()
	if err != nil {
		ttl = 0
	}
	return raw, ttl, nil
}

// Get reads the entry for (conversationID, kind) into T. A missing entry
// returns (nil, nil). An entry that fails to decode is deleted and
// reported as missing — fail-open, per the recoverable error taxonomy.
func Get[T any](ctx context.Context, s *Store, conversationID string, kind Kind) (*T, error) {
	raw, _, err := s.getRaw(ctx, conversationID, kind)
	if err != nil || raw == nil {
		return nil, err
	}

	var data T
	if err := json.Unmarshal(raw, &data); err != nil {
		s.logger.Warn("discarding unparseable state entry",
			"conversation_id", conversationID,
			"kind", string(kind),
			"error", err,
		)
		if delErr := s.Delete(ctx, conversationID, kind); delErr != nil {
			return nil, delErr
		}
		return nil, nil
	}
	return &data, nil
}

// Update performs a read-modify-write on an existing entry, preserving its
// remaining TTL (or resetting to the store default when the remaining TTL
// cannot be read back). Updating a missing entry is a no-op that logs a
// warning: state must not originate implicitly through a partial update.
// The read and write are separate Redis calls, so concurrent updates to
// the same key can lose increments.
func Update[T any](ctx context.Context, s *Store, conversationID string, kind Kind, mutate func(*T)) error {
	raw, ttl, err := s.getRaw(ctx, conversationID, kind)
	if err != nil {
		return err
	}
	if raw == nil {
		s.logger.Warn("update on missing state entry ignored",
			"conversation_id", conversationID,
			"kind", string(kind),
		)
		return nil
	}

	var data T
	if err := json.Unmarshal(raw, &data); err != nil {
		s.logger.Warn("discarding unparseable state entry on update",
			"conversation_id", conversationID,
			"kind", string(kind),
			"error", err,
		)
		return s.Delete(ctx, conversationID, kind)
	}

	mutate(&data)

	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	return s.Set(ctx, conversationID, kind, data, ttl)
}
