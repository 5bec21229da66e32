package turn

// Signal is a processor's control outcome for the turn.
type Signal int

const (
	// SignalContinue hands the (possibly rewritten) context to the next
	// processor in the chain.
	SignalContinue Signal = iota

	// SignalStop ends the turn with this processor's result.
	SignalStop
)

func (s Signal) String() string {
	if s == SignalStop {
		return "stop"
	}
	return "continue"
}

// ProcessorType identifies which kind of processor produced a result.
// The response builder's audio policy is keyed on it.
type ProcessorType string

const (
	ProcessorGreeting ProcessorType = "greeting"
	ProcessorRewrite  ProcessorType = "rewrite"
	ProcessorRAG      ProcessorType = "rag"
	ProcessorSkill    ProcessorType = "skill"
	ProcessorIntent   ProcessorType = "intent"
	ProcessorFallback ProcessorType = "fallback"

	// ProcessorWebhook covers terminal actions that legitimately produce
	// no response content (the action itself is the response).
	ProcessorWebhook ProcessorType = "webhook"
)

// AudioRequest asks the response builder to synthesize the content as
// audio. Synthesis failure degrades to a text-only response.
type AudioRequest struct {
	Text string
}

// ProcessingResult is the outcome of one processor. A SignalStop result
// is terminal for the turn; a SignalContinue result's Context becomes the
// input to the next processor.
type ProcessingResult struct {
	Signal    Signal
	Processor ProcessorType

	// Content is the final answer text for SignalStop results. Empty
	// content on a terminal result is an error unless NoContentExpected.
	Content string

	// NoContentExpected marks terminal states (e.g. webhook-only actions)
	// where the absence of content is by contract, not a failure.
	NoContentExpected bool

	// Context is the (possibly mutated) context to hand to the next
	// processor for SignalContinue results.
	Context *ProcessingContext

	// Metadata snapshots the stage decisions at the time the result was
	// produced, so terminal results keep them without a context.
	Metadata Metadata

	// NextStep names a follow-up the orchestrator should take, such as a
	// detected intent to execute.
	NextStep string

	// Audio, when non-nil, requests audio synthesis subject to the
	// response builder's policy table.
	Audio *AudioRequest
}

// Continue builds a pass-through result carrying ctx to the next stage.
func Continue(p ProcessorType, ctx *ProcessingContext) *ProcessingResult {
	return &ProcessingResult{Signal: SignalContinue, Processor: p, Context: ctx, Metadata: ctx.Metadata}
}

// Stop builds a terminal result with the given content.
func Stop(p ProcessorType, content string) *ProcessingResult {
	return &ProcessingResult{Signal: SignalStop, Processor: p, Content: content}
}
