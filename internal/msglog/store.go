// Package msglog is the system of record for conversation messages. Every
// turn writes its user/system pair here; the rewrite stage additionally
// records its internal exchanges under the rewrite kind. Unlike the
// history cache, entries never expire.
package msglog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/velosa/atende/internal/turn"
)

// Store is a SQLite-backed message log. All public methods are safe for
// concurrent use (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) a message log at the given database path.
// The schema is created automatically on first use.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id                TEXT PRIMARY KEY,
		conversation_id   TEXT NOT NULL,
		role              TEXT NOT NULL,
		content           TEXT NOT NULL,
		reference_id      TEXT NOT NULL,
		kind              TEXT NOT NULL,
		prompt_tokens     INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		created_at        TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_reference ON messages(reference_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Create persists one message. A missing ID or CreatedAt is filled in.
func (s *Store) Create(ctx context.Context, msg *turn.ContextMessage) error {
	fill(msg)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages
		   (id, conversation_id, role, content, reference_id, kind,
		    prompt_tokens, completion_tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, string(msg.Role), msg.Content,
		msg.ReferenceID, string(msg.Kind),
		msg.PromptTokens, msg.CompletionTokens,
		msg.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("create message %s: %w", msg.ID, err)
	}
	return nil
}

// BulkCreate persists a batch of messages in one transaction.
func (s *Store) BulkCreate(ctx context.Context, msgs []*turn.ContextMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bulk create: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO messages
		   (id, conversation_id, role, content, reference_id, kind,
		    prompt_tokens, completion_tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare bulk create: %w", err)
	}
	defer stmt.Close()

	for _, msg := range msgs {
		fill(msg)
		if _, err := stmt.ExecContext(ctx,
			msg.ID, msg.ConversationID, string(msg.Role), msg.Content,
			msg.ReferenceID, string(msg.Kind),
			msg.PromptTokens, msg.CompletionTokens,
			msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("bulk create message %s: %w", msg.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bulk create: %w", err)
	}
	return nil
}

// ListVisible returns up to limit most recent user-visible messages for a
// conversation in ascending creation order. Rewrite-kind rows record the
// internal question-rewrite dialog and are excluded: they are not part of
// the conversation the user saw.
func (s *Store) ListVisible(ctx context.Context, conversationID string, limit int) ([]turn.ContextMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, reference_id, kind,
		        prompt_tokens, completion_tokens, created_at
		   FROM (SELECT * FROM messages
		          WHERE conversation_id = ? AND kind = ?
		          ORDER BY created_at DESC LIMIT ?)
		  ORDER BY created_at ASC`,
		conversationID, string(turn.KindMessage), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list visible %s: %w", conversationID, err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// ListByReference returns all messages sharing a reference ID (the two
// halves of a turn pair, plus any rewrite exchange recorded for it).
func (s *Store) ListByReference(ctx context.Context, referenceID string) ([]turn.ContextMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, reference_id, kind,
		        prompt_tokens, completion_tokens, created_at
		   FROM messages WHERE reference_id = ? ORDER BY created_at ASC`,
		referenceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list by reference %s: %w", referenceID, err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]turn.ContextMessage, error) {
	var msgs []turn.ContextMessage
	for rows.Next() {
		var m turn.ContextMessage
		var role, kind, createdAt string
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content,
			&m.ReferenceID, &kind, &m.PromptTokens, &m.CompletionTokens,
			&createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = turn.Role(role)
		m.Kind = turn.MessageKind(kind)
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func fill(msg *turn.ContextMessage) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Kind == "" {
		msg.Kind = turn.KindMessage
	}
}
