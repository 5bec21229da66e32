// Package orchestrate ties the pipeline together: it accepts inbound
// turns, serializes them per conversation, runs the processor chain, and
// shapes the outcome into a response envelope.
package orchestrate

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/velosa/atende/internal/pipeline"
	"github.com/velosa/atende/internal/respond"
	"github.com/velosa/atende/internal/turn"
	"github.com/velosa/atende/internal/turnqueue"
)

// TurnRequest is one inbound user message.
type TurnRequest struct {
	ConversationID string
	Message        string
	Agent          turn.Agent
	Debug          bool
	FromAudio      bool
}

// Dispatcher routes turns through the pipeline. Turns for the same
// conversation run strictly in order; turns for different conversations
// run concurrently.
type Dispatcher struct {
	pipe    *pipeline.Pipeline
	builder *respond.Builder
	queue   *turnqueue.Serializer
	logger  *slog.Logger
}

func NewDispatcher(pipe *pipeline.Pipeline, builder *respond.Builder, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		pipe:    pipe,
		builder: builder,
		queue:   turnqueue.New(),
		logger:  logger,
	}
}

// HandleTurn processes one turn end to end and always returns an
// envelope. Failures the caller can act on (no agent, processor error)
// come back as envelope error codes; the error return is reserved for
// serializer shutdown and persistence failures of the message log.
func (d *Dispatcher) HandleTurn(ctx context.Context, req TurnRequest) (*respond.Envelope, error) {
	pc := &turn.ProcessingContext{
		ConversationID: req.ConversationID,
		Message:        req.Message,
		Agent:          req.Agent,
		ReferenceID:    uuid.NewString(),
		Debug:          req.Debug,
		FromAudio:      req.FromAudio,
	}

	if req.Agent.ID == "" {
		d.logger.Warn("turn received with no active agent",
			"conversation_id", req.ConversationID,
			"reference_id", pc.ReferenceID,
		)
		return d.builder.ErrorEnvelope(respond.ErrNoActiveAgents, pc.ReferenceID), nil
	}

	var env *respond.Envelope
	err := d.queue.Do(ctx, req.ConversationID, func(ctx context.Context) error {
		var err error
		env, err = d.runTurn(ctx, pc)
		return err
	})
	if err != nil {
		return nil, err
	}
	return env, nil
}

func (d *Dispatcher) runTurn(ctx context.Context, pc *turn.ProcessingContext) (*respond.Envelope, error) {
	res, err := d.pipe.Run(ctx, pc)
	if err != nil {
		d.logger.Error("pipeline failed",
			"conversation_id", pc.ConversationID,
			"reference_id", pc.ReferenceID,
			"error", err,
		)
		return d.builder.ErrorEnvelope(respond.ErrInternal, pc.ReferenceID), nil
	}
	return d.builder.Build(ctx, pc, res)
}

// Stop drains in-flight turns and rejects new ones.
func (d *Dispatcher) Stop() {
	d.queue.Stop()
}
