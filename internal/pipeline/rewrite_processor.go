package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/velosa/atende/internal/clarify"
	"github.com/velosa/atende/internal/rewrite"
	"github.com/velosa/atende/internal/turn"
)

// RewriteProcessor is the question-rewrite stage. It runs on every turn,
// enforces the clarification attempt bound before calling the rewrite
// service, and either stops the pipeline with a clarification question or
// continues it with the (possibly rewritten) message.
type RewriteProcessor struct {
	svc     *rewrite.Service
	tracker *clarify.Tracker
	logger  *slog.Logger
}

// NewRewriteProcessor wires the rewrite stage. A nil logger falls back to
// slog.Default().
func NewRewriteProcessor(svc *rewrite.Service, tracker *clarify.Tracker, logger *slog.Logger) *RewriteProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &RewriteProcessor{svc: svc, tracker: tracker, logger: logger}
}

// Type identifies the rewrite stage.
func (p *RewriteProcessor) Type() turn.ProcessorType {
	return turn.ProcessorRewrite
}

// CanHandle is always true: every turn passes through the rewrite stage.
func (p *RewriteProcessor) CanHandle(context.Context, *turn.ProcessingContext) bool {
	return true
}

// Process enforces the attempt bound, runs the rewrite decision, and maps
// the outcome onto a pipeline result.
func (p *RewriteProcessor) Process(ctx context.Context, pc *turn.ProcessingContext) (*turn.ProcessingResult, error) {
	exceeded, err := p.tracker.Exceeded(ctx, pc.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("check clarification attempts: %w", err)
	}
	if exceeded {
		// The user has been asked enough. Clear the pending state and
		// let the turn proceed untouched; downstream stages see the
		// flag and must not re-trigger clarification logic.
		if err := p.tracker.Clear(ctx, pc.ConversationID); err != nil {
			return nil, fmt.Errorf("clear exhausted clarification: %w", err)
		}
		p.logger.Info("clarification attempts exhausted, proceeding without clarification",
			"conversation_id", pc.ConversationID,
		)
		cp := pc.Clone()
		cp.Metadata.SkipClarification = true
		return turn.Continue(turn.ProcessorRewrite, cp), nil
	}

	res, err := p.svc.Rewrite(ctx, pc.Agent, pc.ConversationID, pc.Message, pc.ReferenceID)
	if err != nil {
		return nil, err
	}

	if res.Decision == turn.DecisionClarify {
		out := turn.Stop(turn.ProcessorRewrite, res.Question)
		out.Metadata = pc.Metadata
		out.Metadata.OriginalMessage = pc.Message
		out.Metadata.RewriteDecision = res.Decision
		out.Audio = &turn.AudioRequest{Text: res.Question}
		return out, nil
	}

	cp := pc.WithMessage(res.Question)
	cp.Metadata.OriginalMessage = pc.Message
	cp.Metadata.WasRewritten = res.Question != pc.Message
	cp.Metadata.RewriteDecision = res.Decision
	return turn.Continue(turn.ProcessorRewrite, cp), nil
}
