// Package clarify tracks outstanding clarification dialogs. When the
// rewrite stage cannot resolve a reference it asks the user a follow-up
// question; this package records that an answer is pending and how many
// times we have already asked, so the pipeline can fall through to
// "proceed without clarification" once the attempt limit is hit instead
// of looping forever.
//
// The tracker never decides whether to clarify — that decision belongs to
// the rewrite service. It only records.
package clarify

import (
	"context"
	"log/slog"
	"time"

	"github.com/velosa/atende/internal/state"
)

// KindClarification is the state-store kind under which pending
// clarifications live.
const KindClarification state.Kind = "clarification"

// DefaultMaxAttempts bounds consecutive clarifications per conversation.
const DefaultMaxAttempts = 2

// DefaultTTL is how long an unanswered clarification stays pending.
const DefaultTTL = 10 * time.Minute

// State is the payload stored for a pending clarification.
// Invariant: 0 < Attempts <= MaxAttempts while the state exists.
type State struct {
	// Question is the clarification most recently asked.
	Question string `json:"question"`

	// OriginalMessage is the user message that triggered the first
	// clarification, kept so the original intent survives the detour.
	OriginalMessage string `json:"originalMessage,omitempty"`

	Attempts    int `json:"attempts"`
	MaxAttempts int `json:"maxAttempts"`

	// FirstAttemptEpochMs is when the first clarification was asked.
	// Preserved across repeated attempts.
	FirstAttemptEpochMs int64 `json:"firstAttemptEpochMs"`
}

// Tracker records clarification attempts in the expiring state store.
type Tracker struct {
	store       *state.Store
	maxAttempts int
	ttl         time.Duration
	logger      *slog.Logger
	nowFunc     func() time.Time
}

// NewTracker creates a tracker on the given state store. Non-positive
// maxAttempts and ttl fall back to the package defaults; a nil logger
// falls back to slog.Default().
func NewTracker(store *state.Store, maxAttempts int, ttl time.Duration, logger *slog.Logger) *Tracker {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		store:       store,
		maxAttempts: maxAttempts,
		ttl:         ttl,
		logger:      logger,
		nowFunc:     time.Now,
	}
}

// State returns the pending clarification for a conversation, or nil when
// none is pending.
func (t *Tracker) State(ctx context.Context, conversationID string) (*State, error) {
	return state.Get[State](ctx, t.store, conversationID, KindClarification)
}

// Record registers that a clarification was just asked. The first call
// for a conversation creates the state with Attempts=1; subsequent calls
// increment Attempts and overwrite Question while preserving
// OriginalMessage and FirstAttemptEpochMs. The pending window restarts on
// every attempt.
func (t *Tracker) Record(ctx context.Context, conversationID, question, originalMessage string) (*State, error) {
	cur, err := t.State(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	var next State
	if cur == nil {
		next = State{
			Question:            question,
			OriginalMessage:     originalMessage,
			Attempts:            1,
			MaxAttempts:         t.maxAttempts,
			FirstAttemptEpochMs: t.nowFunc().UnixMilli(),
		}
	} else {
		next = *cur
		next.Question = question
		next.Attempts++
	}

	if err := t.store.Set(ctx, conversationID, KindClarification, next, t.ttl); err != nil {
		return nil, err
	}

	t.logger.Debug("clarification recorded",
		"conversation_id", conversationID,
		"attempts", next.Attempts,
		"max_attempts", next.MaxAttempts,
	)
	return &next, nil
}

// Exceeded reports whether the conversation has used up its clarification
// attempts. Conversations with no pending clarification have not.
func (t *Tracker) Exceeded(ctx context.Context, conversationID string) (bool, error) {
	cur, err := t.State(ctx, conversationID)
	if err != nil {
		return false, err
	}
	if cur == nil {
		return false, nil
	}
	max := cur.MaxAttempts
	if max <= 0 {
		max = t.maxAttempts
	}
	return cur.Attempts >= max, nil
}

// Clear deletes the pending clarification unconditionally.
func (t *Tracker) Clear(ctx context.Context, conversationID string) error {
	return t.store.Delete(ctx, conversationID, KindClarification)
}
