package prompts

import (
	"fmt"
	"strings"
)

// FallbackClarification is returned to the user when the model decides to
// clarify but supplies no clarification text of its own.
const FallbackClarification = "Desculpe, não entendi. Pode reformular sua pergunta com mais detalhes?"

// rewriteBaseTemplate is the fixed rewrite-decision prompt. The two
// format verbs receive the splice block for a pending clarification (or
// an empty string) and the user's current question.
const rewriteBaseTemplate = `You resolve ambiguous user questions in an ongoing conversation before
they reach the answering system. The recent conversation is provided as
chat context. Analyze the CURRENT QUESTION against that context and pick
exactly one decision:

- COPY: the question is self-contained and needs no change.
- REWRITE: the question relies on context (pronouns, partial names,
  elliptical follow-ups). Rewrite it as a standalone question, resolving
  every reference explicitly. Keep the user's language and intent; add
  nothing the context does not support.
- CLARIFY: a reference genuinely cannot be resolved from context. Write a
  short, specific follow-up question for the user. Never ask for
  information the context already contains.
%s
Respond with a single JSON object and nothing else:

{
  "decision": "COPY" | "REWRITE" | "CLARIFY",
  "rewritten": "standalone question (REWRITE only)",
  "reason": "one sentence explaining the decision",
  "evidence": ["context span(s) supporting the decision"],
  "clarification": "follow-up question for the user (CLARIFY only)"
}

CURRENT QUESTION: %s`

// pendingClarificationTemplate describes the outstanding clarification.
// The format verb receives the clarification question previously sent.
const pendingClarificationTemplate = `
## Pending clarification

The user was just asked the following clarification and has not answered
it yet:

  %q

The CURRENT QUESTION is most likely the user's answer to it.
`

// pendingAnswerRecognition teaches the model to accept fragmentary
// answers. Users replying to a clarification rarely repeat the whole
// question back.
const pendingAnswerRecognition = `
When treating the CURRENT QUESTION as an answer to the pending
clarification:

- A bare name, partial name, or single term ("roberto", "cardiologia",
  "o segundo") is a valid, complete answer. Combine it with the original
  question into one standalone REWRITE.
- If the answer names a different person or subject than the one the
  conversation was about, follow the user: the rewrite must reference
  what they answered, not what was discussed before.
- If the message is clearly NOT an answer (a new, unrelated,
  self-contained question), decide COPY and drop the pending
  clarification from consideration.
`

// pendingPriorityDirective forces resolution of the pending clarification
// ahead of every other rule.
const pendingPriorityDirective = `
PRIORITY: resolving the pending clarification takes precedence over every
other rule above. Only decide CLARIFY again if the CURRENT QUESTION can be
read neither as an answer to the pending clarification nor as a
self-contained question.
`

// PendingClarification carries the parts of an outstanding clarification
// the prompt needs. A nil value means no clarification is pending.
type PendingClarification struct {
	// Question is the clarification the user was asked.
	Question string

	// OriginalMessage is the user message that triggered it, when known.
	OriginalMessage string
}

// RewritePrompt builds the rewrite-decision prompt for a question.
// Construction is pure: the same (question, pending) pair always yields
// the same prompt. When pending is non-nil, three blocks are spliced into
// the template — the pending-clarification description, the
// partial-answer recognition instructions, and the priority directive.
func RewritePrompt(question string, pending *PendingClarification) string {
	var splice string
	if pending != nil {
		var b strings.Builder
		b.WriteString(fmt.Sprintf(pendingClarificationTemplate, pending.Question))
		if pending.OriginalMessage != "" {
			b.WriteString(fmt.Sprintf("\nThe question that triggered the clarification was: %q\n", pending.OriginalMessage))
		}
		b.WriteString(pendingAnswerRecognition)
		b.WriteString(pendingPriorityDirective)
		splice = b.String()
	}
	return fmt.Sprintf(rewriteBaseTemplate, splice, question)
}
