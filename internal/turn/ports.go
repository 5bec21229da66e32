package turn

import "context"

// ChatMessage is one message of conversational context for a completion
// call.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the text-in contract of the external completion
// model. Messages carry conversational context; Prompt carries the
// instruction block.
type CompletionRequest struct {
	Messages    []ChatMessage
	Prompt      string
	MaxTokens   int
	Temperature float64
	Model       string
}

// Completion is the model's reply with token accounting.
type Completion struct {
	Message          string
	PromptTokens     int
	CompletionTokens int
}

// CompletionClient is the opaque external completion call. The pipeline
// only requires that Message be parseable as a rewrite decision; any
// other shape is handled as a parse failure downstream.
type CompletionClient interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// MessageLog is the system of record for conversation messages. The
// pipeline calls it once per produced message and does not depend on its
// internal schema.
type MessageLog interface {
	Create(ctx context.Context, msg *ContextMessage) error
	BulkCreate(ctx context.Context, msgs []*ContextMessage) error
}

// SynthesisRequest asks the external audio service to voice a response.
type SynthesisRequest struct {
	Text           string
	ConversationID string
	ReferenceID    string
}

// Synthesizer converts response text to audio. Failures are treated as
// "no audio", never as a turn failure.
type Synthesizer interface {
	Create(ctx context.Context, req SynthesisRequest) (string, error)
}
