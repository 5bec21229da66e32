// Package turn defines the shared types that flow through the
// conversational turn pipeline: the per-turn processing context, processor
// results, rewrite decisions, and the ports the pipeline needs from its
// collaborators (completion model, message log, audio synthesis).
//
// One inbound user message becomes exactly one ProcessingContext; the
// context is cloned, never shared, as it moves between processors.
package turn

// Metadata carries decisions made by earlier pipeline stages so later
// stages can act on them. It is an explicit struct rather than an open
// map so the contract between stages stays checkable at compile time.
type Metadata struct {
	// OriginalMessage is the user's message before any rewrite.
	OriginalMessage string

	// WasRewritten is true when the rewrite stage substituted the message.
	WasRewritten bool

	// RewriteDecision records the outcome of the rewrite stage.
	RewriteDecision Decision

	// SkipClarification tells downstream stages not to re-trigger
	// clarification logic; set when clarification attempts are exhausted.
	SkipClarification bool

	// ContextSwitch is set when a stage detects the user changed subject
	// mid-dialog. The response builder prepends a transition sentence.
	ContextSwitch bool

	// Intent is the detected intent name, when an intent stage ran.
	Intent string
}

// ProcessingContext is one turn's working set. It is mutated copy-on-write
// as it passes through the pipeline: processors that change it must return
// a clone, and a context is never shared across turns.
type ProcessingContext struct {
	ConversationID string
	Message        string
	Agent          Agent

	// ReferenceID correlates the user message with the system message
	// produced for it. Both halves of the turn pair share it.
	ReferenceID string

	Metadata  Metadata
	Debug     bool
	FromAudio bool
}

// Clone returns an independent copy of the context. Metadata is a value
// struct, so a shallow copy is a full copy.
func (c *ProcessingContext) Clone() *ProcessingContext {
	cp := *c
	return &cp
}

// WithMessage returns a clone carrying a replacement message text.
func (c *ProcessingContext) WithMessage(message string) *ProcessingContext {
	cp := c.Clone()
	cp.Message = message
	return cp
}
