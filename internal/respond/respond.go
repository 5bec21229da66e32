// Package respond assembles the final response envelope for a turn:
// response-type derivation, turn-pair persistence, the context-switch
// transition sentence, and the audio synthesis policy.
package respond

import (
	"context"
	"log/slog"

	"github.com/velosa/atende/internal/history"
	"github.com/velosa/atende/internal/turn"
)

// ErrorCode is a caller-surfaced error condition. It travels on the
// envelope, not as a Go error, so the calling channel can render a
// user-facing fallback message.
type ErrorCode string

const (
	ErrNoProcessorsHandled ErrorCode = "NO_PROCESSORS_HANDLED"
	ErrNoActiveAgents      ErrorCode = "NO_ACTIVE_AGENTS"
	ErrInternal            ErrorCode = "INTERNAL_PROCESSING_ERROR"
)

// ResponseType classifies the outgoing response for the channel layer.
type ResponseType string

const (
	ResponseClarification ResponseType = "clarification"
	ResponseFallback      ResponseType = "fallback"
	ResponseTool          ResponseType = "tool"
	ResponseError         ResponseType = "error"
	ResponseCompleted     ResponseType = "completed"
)

// TransitionSentence is prepended to the content when a context switch
// was detected mid-dialog.
const TransitionSentence = "Certo, mudando de assunto então. "

// Envelope is the outbound response returned to the caller.
type Envelope struct {
	Message      string            `json:"message"`
	Variables    map[string]string `json:"variables,omitempty"`
	ResponseType ResponseType      `json:"responseType"`
	TraceID      string            `json:"traceId"`
	Intent       string            `json:"intent,omitempty"`
	NextStep     string            `json:"nextStep,omitempty"`
	IsAudio      bool              `json:"isAudio,omitempty"`
	AudioURL     string            `json:"audioUrl,omitempty"`
	ErrorCode    ErrorCode         `json:"errorCode,omitempty"`
}

// Builder assembles envelopes and persists the turn. The message log is
// the system of record; the history cache is refreshed alongside so the
// next turn's rewrite stage sees this exchange.
type Builder struct {
	log    turn.MessageLog
	hist   *history.Cache
	synth  turn.Synthesizer
	policy AudioPolicy
	logger *slog.Logger
}

// NewBuilder wires a response builder. A nil synthesizer disables audio
// entirely; a nil policy falls back to DefaultAudioPolicy(); a nil logger
// falls back to slog.Default().
func NewBuilder(log turn.MessageLog, hist *history.Cache, synth turn.Synthesizer, policy AudioPolicy, logger *slog.Logger) *Builder {
	if policy == nil {
		policy = DefaultAudioPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{log: log, hist: hist, synth: synth, policy: policy, logger: logger}
}

// Build turns the pipeline's final result into a response envelope and
// persists the user/system message pair. Caller-surfaced conditions come
// back as envelope error codes, not Go errors; only persistence failures
// of the system of record are returned as errors.
func (b *Builder) Build(ctx context.Context, pc *turn.ProcessingContext, res *turn.ProcessingResult) (*Envelope, error) {
	if res == nil || (res.Content == "" && !res.NoContentExpected) {
		b.logger.Error("no processor produced content",
			"conversation_id", pc.ConversationID,
			"reference_id", pc.ReferenceID,
		)
		return b.ErrorEnvelope(ErrNoProcessorsHandled, pc.ReferenceID), nil
	}

	env := &Envelope{
		TraceID:      pc.ReferenceID,
		ResponseType: deriveType(res),
		Intent:       res.Metadata.Intent,
		NextStep:     res.NextStep,
	}

	if res.Content == "" {
		// Webhook-style terminal state: the action was the response.
		return env, nil
	}

	content := res.Content
	if res.Metadata.ContextSwitch {
		content = TransitionSentence + content
	}
	env.Message = content

	if err := b.persistPair(ctx, pc, res, content); err != nil {
		return nil, err
	}

	b.synthesize(ctx, pc, res, env)

	if pc.Debug {
		env.Variables = map[string]string{
			"decision":      string(res.Metadata.RewriteDecision),
			"processor":     string(res.Processor),
			"wasRewritten":  boolString(res.Metadata.WasRewritten),
			"contextSwitch": boolString(res.Metadata.ContextSwitch),
		}
	}
	return env, nil
}

// ErrorEnvelope builds an envelope carrying a caller-surfaced error code.
func (b *Builder) ErrorEnvelope(code ErrorCode, traceID string) *Envelope {
	return &Envelope{
		ResponseType: ResponseError,
		TraceID:      traceID,
		ErrorCode:    code,
	}
}

// persistPair writes the user message and the system response as a turn
// pair sharing the reference ID, then refreshes the history cache. Cache
// failures degrade; log failures do not.
func (b *Builder) persistPair(ctx context.Context, pc *turn.ProcessingContext, res *turn.ProcessingResult, content string) error {
	userContent := res.Metadata.OriginalMessage
	if userContent == "" {
		userContent = pc.Message
	}

	pair := []*turn.ContextMessage{
		{
			ConversationID: pc.ConversationID,
			Role:           turn.RoleUser,
			Content:        userContent,
			ReferenceID:    pc.ReferenceID,
			Kind:           turn.KindMessage,
		},
		{
			ConversationID: pc.ConversationID,
			Role:           turn.RoleSystem,
			Content:        content,
			ReferenceID:    pc.ReferenceID,
			Kind:           turn.KindMessage,
		},
	}
	if err := b.log.BulkCreate(ctx, pair); err != nil {
		return err
	}

	for _, msg := range pair {
		if err := b.hist.Append(ctx, msg); err != nil {
			b.logger.Warn("history append failed",
				"conversation_id", pc.ConversationID,
				"error", err,
			)
			break
		}
	}
	return nil
}

// synthesize requests audio when the policy allows it. Failures are
// never fatal: the envelope simply stays text-only.
func (b *Builder) synthesize(ctx context.Context, pc *turn.ProcessingContext, res *turn.ProcessingResult, env *Envelope) {
	if b.synth == nil || !b.policy.Allows(res.Processor, pc.FromAudio) {
		return
	}

	text := env.Message
	if res.Audio != nil && res.Audio.Text != "" {
		text = res.Audio.Text
	}

	url, err := b.synth.Create(ctx, turn.SynthesisRequest{
		Text:           text,
		ConversationID: pc.ConversationID,
		ReferenceID:    pc.ReferenceID,
	})
	if err != nil {
		b.logger.Warn("audio synthesis failed, responding text-only",
			"conversation_id", pc.ConversationID,
			"error", err,
		)
		return
	}
	if url != "" {
		env.IsAudio = true
		env.AudioURL = url
	}
}

// deriveType picks the response type by priority:
// clarification > fallback > tool/intent > completed. The error type is
// handled before content exists.
func deriveType(res *turn.ProcessingResult) ResponseType {
	switch {
	case res.Metadata.RewriteDecision == turn.DecisionClarify && res.Processor == turn.ProcessorRewrite:
		return ResponseClarification
	case res.Processor == turn.ProcessorFallback:
		return ResponseFallback
	case res.NextStep != "" || res.Processor == turn.ProcessorIntent || res.Processor == turn.ProcessorSkill:
		return ResponseTool
	default:
		return ResponseCompleted
	}
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
