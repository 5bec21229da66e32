// Package history maintains a per-conversation cache of recent messages
// used as conversational context for rewrite and completion calls. It is
// intentionally a cache, not a system of record: the authoritative message
// store is the relational log, and losing this cache only degrades rewrite
// quality. Reads fail open to "no history" — a turn is never blocked on
// cache trouble.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/velosa/atende/internal/turn"
)

// DefaultTTL is how long a conversation's history survives without new
// appends. Every append refreshes the whole collection's expiry.
const DefaultTTL = 6 * time.Hour

// Cache is an append-only, time-ordered recent-message window per
// conversation, stored as one Redis hash keyed by message ID.
type Cache struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

// NewCache creates a history cache. A non-positive ttl falls back to
// DefaultTTL; a nil logger falls back to slog.Default().
func NewCache(rdb redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{rdb: rdb, ttl: ttl, logger: logger}
}

func (c *Cache) key(conversationID string) string {
	return "history:" + conversationID
}

// Append stores a message in the conversation's window and refreshes the
// shared TTL.
func (c *Cache) Append(ctx context.Context, msg *turn.ContextMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal history message %s: %w", msg.ID, err)
	}

	key := c.key(msg.ConversationID)
	if err := c.rdb.HSet(ctx, key, msg.ID, raw).Err(); err != nil {
		return fmt.Errorf("append history %s: %w", msg.ConversationID, err)
	}
	if err := c.rdb.Expire(ctx, key, c.ttl).Err(); err != nil {
		return fmt.Errorf("refresh history ttl %s: %w", msg.ConversationID, err)
	}
	return nil
}

// Recent returns up to limit most recent messages for a conversation in
// ascending creation order (oldest of the window first), ready to splice
// into model context. Any deserialization failure degrades the whole read
// to an empty window.
func (c *Cache) Recent(ctx context.Context, conversationID string, limit int) []turn.ContextMessage {
	fields, err := c.rdb.HGetAll(ctx, c.key(conversationID)).Result()
	if err != nil {
		c.logger.Warn("history read failed, continuing without context",
			"conversation_id", conversationID,
			"error", err,
		)
		return nil
	}
	if len(fields) == 0 {
		return nil
	}

	msgs := make([]turn.ContextMessage, 0, len(fields))
	for id, raw := range fields {
		var msg turn.ContextMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			c.logger.Warn("history entry unparseable, discarding window",
				"conversation_id", conversationID,
				"message_id", id,
				"error", err,
			)
			return nil
		}
		msgs = append(msgs, msg)
	}

	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})

	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs
}

// Clear drops a conversation's window.
func (c *Cache) Clear(ctx context.Context, conversationID string) error {
	if err := c.rdb.Del(ctx, c.key(conversationID)).Err(); err != nil {
		return fmt.Errorf("clear history %s: %w", conversationID, err)
	}
	return nil
}
