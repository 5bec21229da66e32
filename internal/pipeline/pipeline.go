// Package pipeline runs an inbound turn through an ordered chain of
// processors. Each processor may end the turn with a final answer or pass
// a mutated context to the next stage. Processor failures propagate to
// the caller: a failed processor fails the turn rather than silently
// producing a wrong answer.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/velosa/atende/internal/turn"
)

// Processor is one stage of the turn pipeline.
type Processor interface {
	// Type identifies the processor for logging and audio policy.
	Type() turn.ProcessorType

	// CanHandle reports whether this processor applies to the context.
	CanHandle(ctx context.Context, pc *turn.ProcessingContext) bool

	// Process runs the stage. A SignalStop result is terminal for the
	// turn; a SignalContinue result's Context feeds the next stage.
	Process(ctx context.Context, pc *turn.ProcessingContext) (*turn.ProcessingResult, error)
}

// Pipeline tries processors in a fixed, configured order.
type Pipeline struct {
	processors []Processor
	logger     *slog.Logger
}

// New creates a pipeline over the given processors. Order is meaningful.
func New(logger *slog.Logger, processors ...Processor) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{processors: processors, logger: logger}
}

// Run processes one turn. The first processor whose CanHandle is true and
// whose Process returns SignalStop ends the turn with that result;
// SignalContinue results thread their context into the next stage. When
// no processor stops the turn, Run returns a contentless continue result
// — the response builder turns that into the no-processors-handled error.
func (p *Pipeline) Run(ctx context.Context, pc *turn.ProcessingContext) (*turn.ProcessingResult, error) {
	current := pc
	for _, proc := range p.processors {
		if !proc.CanHandle(ctx, current) {
			continue
		}

		res, err := proc.Process(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("processor %s: %w", proc.Type(), err)
		}

		p.logger.Debug("processor ran",
			"processor", string(proc.Type()),
			"conversation_id", current.ConversationID,
			"signal", res.Signal.String(),
		)

		if res.Signal == turn.SignalStop {
			return res, nil
		}
		if res.Context != nil {
			current = res.Context
		}
	}

	return &turn.ProcessingResult{
		Signal:   turn.SignalContinue,
		Context:  current,
		Metadata: current.Metadata,
	}, nil
}
