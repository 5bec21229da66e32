// Package rewrite decides, per turn, whether the user's question can be
// answered as-is, needs rewriting against conversation context, or needs
// a clarification question back to the user. It orchestrates the history
// cache, the clarification tracker, the prompt builder, and the external
// completion model, and records the internal exchange in the message log.
package rewrite

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/forPelevin/gomoji"

	"github.com/velosa/atende/internal/clarify"
	"github.com/velosa/atende/internal/history"
	"github.com/velosa/atende/internal/prompts"
	"github.com/velosa/atende/internal/turn"
)

// DefaultHistoryLimit is how many recent messages are supplied to the
// model as conversational context.
const DefaultHistoryLimit = 5

// Result is the outcome of the rewrite stage: the question the rest of
// the pipeline should answer, and how it was arrived at.
type Result struct {
	Question string
	Decision turn.Decision

	// Clarification holds the model's clarification details when
	// Decision is CLARIFY.
	Reason   string
	Evidence []string
}

// Service is the question-rewrite decision service.
//
// Upstream contract: callers must check the clarification tracker's
// Exceeded before invoking Rewrite; when attempts are exhausted the
// caller clears state and proceeds without clarification, skipping the
// model round-trip entirely. This bound is what guarantees the clarify
// loop terminates.
type Service struct {
	history      *history.Cache
	tracker      *clarify.Tracker
	completion   turn.CompletionClient
	log          turn.MessageLog
	historyLimit int
	logger       *slog.Logger
}

// NewService wires the rewrite service. A non-positive historyLimit falls
// back to DefaultHistoryLimit; a nil logger falls back to slog.Default().
func NewService(hist *history.Cache, tracker *clarify.Tracker, completion turn.CompletionClient, log turn.MessageLog, historyLimit int, logger *slog.Logger) *Service {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		history:      hist,
		tracker:      tracker,
		completion:   completion,
		log:          log,
		historyLimit: historyLimit,
		logger:       logger,
	}
}

// Rewrite runs the decision procedure for one question and returns the
// question the pipeline should continue with. Completion-call failures
// propagate; everything else degrades to COPY.
func (s *Service) Rewrite(ctx context.Context, agent turn.Agent, conversationID, question, referenceID string) (*Result, error) {
	// Emoji-only messages carry no resolvable reference. Skip the model
	// call and every state mutation.
	if emojiOnly(question) {
		return &Result{Question: question, Decision: turn.DecisionCopy}, nil
	}

	window := s.history.Recent(ctx, conversationID, s.historyLimit)

	pending, err := s.tracker.State(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("read clarification state: %w", err)
	}

	var promptPending *prompts.PendingClarification
	if pending != nil {
		promptPending = &prompts.PendingClarification{
			Question:        pending.Question,
			OriginalMessage: pending.OriginalMessage,
		}
	}

	completion, err := s.completion.Complete(ctx, turn.CompletionRequest{
		Messages:    chatContext(window),
		Prompt:      prompts.RewritePrompt(question, promptPending),
		Model:       agent.Model,
		MaxTokens:   agent.MaxTokens,
		Temperature: agent.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("rewrite completion call: %w", err)
	}

	md, err := ParseModelDecision(completion.Message)
	if err != nil {
		// Degrade, never fail the turn: an unusable reply means the
		// original question rides through as COPY.
		s.logger.Warn("rewrite decision unparseable, copying question",
			"conversation_id", conversationID,
			"error", err,
		)
		md = &ModelDecision{Decision: turn.DecisionCopy}
	}

	result, err := s.apply(ctx, conversationID, question, md, pending != nil)
	if err != nil {
		return nil, err
	}

	s.persistExchange(ctx, conversationID, referenceID, question, result.Question, completion)

	s.logger.Info("question rewrite decided",
		"conversation_id", conversationID,
		"decision", string(result.Decision),
		"reason", md.Reason,
	)
	return result, nil
}

// apply executes the state transitions for a decision and produces the
// outgoing question.
func (s *Service) apply(ctx context.Context, conversationID, question string, md *ModelDecision, hadPending bool) (*Result, error) {
	switch md.Decision {
	case turn.DecisionRewrite:
		out := md.Rewritten
		if out == "" {
			out = question
		}
		// A rewrite resolves whatever ambiguity was pending.
		if err := s.tracker.Clear(ctx, conversationID); err != nil {
			return nil, fmt.Errorf("clear clarification state: %w", err)
		}
		return &Result{Question: out, Decision: turn.DecisionRewrite, Reason: md.Reason, Evidence: md.Evidence}, nil

	case turn.DecisionClarify:
		clarification := md.Clarification
		if clarification == "" {
			clarification = prompts.FallbackClarification
		}
		if _, err := s.tracker.Record(ctx, conversationID, clarification, question); err != nil {
			return nil, fmt.Errorf("record clarification attempt: %w", err)
		}
		return &Result{Question: clarification, Decision: turn.DecisionClarify, Reason: md.Reason, Evidence: md.Evidence}, nil

	default:
		// COPY: a self-contained question cancels any pending clarification.
		if hadPending {
			if err := s.tracker.Clear(ctx, conversationID); err != nil {
				return nil, fmt.Errorf("clear clarification state: %w", err)
			}
		}
		return &Result{Question: question, Decision: turn.DecisionCopy, Reason: md.Reason, Evidence: md.Evidence}, nil
	}
}

// persistExchange records the internal rewrite dialog in the message log
// when the outgoing question differs from the input. Prompt tokens land
// on the user-side message, completion tokens on the system-side one.
// Log failures degrade: the turn already has its question.
func (s *Service) persistExchange(ctx context.Context, conversationID, referenceID, in, out string, completion *turn.Completion) {
	if in == out {
		return
	}
	pair := []*turn.ContextMessage{
		{
			ConversationID: conversationID,
			Role:           turn.RoleUser,
			Content:        in,
			ReferenceID:    referenceID,
			Kind:           turn.KindRewrite,
			PromptTokens:   completion.PromptTokens,
		},
		{
			ConversationID:   conversationID,
			Role:             turn.RoleSystem,
			Content:          out,
			ReferenceID:      referenceID,
			Kind:             turn.KindRewrite,
			CompletionTokens: completion.CompletionTokens,
		},
	}
	if err := s.log.BulkCreate(ctx, pair); err != nil {
		s.logger.Warn("persist rewrite exchange failed",
			"conversation_id", conversationID,
			"reference_id", referenceID,
			"error", err,
		)
	}
}

// chatContext converts cached history into completion-call messages.
// System-role entries become assistant turns for the model.
func chatContext(window []turn.ContextMessage) []turn.ChatMessage {
	if len(window) == 0 {
		return nil
	}
	msgs := make([]turn.ChatMessage, 0, len(window))
	for _, m := range window {
		role := "user"
		if m.Role == turn.RoleSystem {
			role = "assistant"
		}
		msgs = append(msgs, turn.ChatMessage{Role: role, Content: m.Content})
	}
	return msgs
}

// emojiOnly reports whether the message consists solely of emoji (and
// whitespace). Empty messages do not count.
func emojiOnly(message string) bool {
	stripped := strings.TrimFunc(gomoji.RemoveEmojis(message), func(r rune) bool {
		return unicode.IsSpace(r) || r == '️' || r == '‍'
	})
	return stripped == "" && strings.TrimSpace(message) != ""
}
