package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/velosa/atende/internal/history"
	"github.com/velosa/atende/internal/prompts"
	"github.com/velosa/atende/internal/turn"
)

// fallbackHistoryLimit is how much recent conversation the answering
// model sees.
const fallbackHistoryLimit = 10

// FallbackProcessor is the terminal stage: it answers whatever question
// reaches the end of the chain with a plain completion call. It handles
// every turn, so it must be registered last.
type FallbackProcessor struct {
	hist       *history.Cache
	completion turn.CompletionClient
	logger     *slog.Logger
}

func NewFallbackProcessor(hist *history.Cache, completion turn.CompletionClient, logger *slog.Logger) *FallbackProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackProcessor{hist: hist, completion: completion, logger: logger}
}

func (p *FallbackProcessor) Type() turn.ProcessorType {
	return turn.ProcessorFallback
}

func (p *FallbackProcessor) CanHandle(context.Context, *turn.ProcessingContext) bool {
	return true
}

func (p *FallbackProcessor) Process(ctx context.Context, pc *turn.ProcessingContext) (*turn.ProcessingResult, error) {
	window := p.hist.Recent(ctx, pc.ConversationID, fallbackHistoryLimit)
	msgs := make([]turn.ChatMessage, 0, len(window)+1)
	for _, m := range window {
		role := "user"
		if m.Role == turn.RoleSystem {
			role = "assistant"
		}
		msgs = append(msgs, turn.ChatMessage{Role: role, Content: m.Content})
	}
	msgs = append(msgs, turn.ChatMessage{Role: "user", Content: pc.Message})

	completion, err := p.completion.Complete(ctx, turn.CompletionRequest{
		Messages:    msgs,
		Prompt:      prompts.AnswerSystem,
		Model:       pc.Agent.Model,
		MaxTokens:   pc.Agent.MaxTokens,
		Temperature: pc.Agent.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("answer completion call: %w", err)
	}

	p.logger.Debug("fallback answer produced",
		"conversation_id", pc.ConversationID,
		"prompt_tokens", completion.PromptTokens,
		"completion_tokens", completion.CompletionTokens,
	)

	res := turn.Stop(turn.ProcessorFallback, completion.Message)
	res.Context = pc
	res.Metadata = pc.Metadata
	return res, nil
}
