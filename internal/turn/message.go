package turn

import "time"

// Role distinguishes the two halves of a turn pair.
type Role string

const (
	RoleUser   Role = "user"
	RoleSystem Role = "system"
)

// MessageKind separates the user-visible conversation from internal
// exchanges. Rewrite-kind messages record the question-rewrite dialog and
// must be excluded when reconstructing visible history.
type MessageKind string

const (
	KindMessage MessageKind = "message"
	KindRewrite MessageKind = "rewrite"
)

// ContextMessage is one persisted message. Two messages sharing a
// ReferenceID form a turn pair (user input, system output).
type ContextMessage struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	Content        string      `json:"content"`
	Role           Role        `json:"role"`
	ReferenceID    string      `json:"referenceId"`
	Kind           MessageKind `json:"kind"`

	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`

	CreatedAt time.Time `json:"createdAt"`
}
