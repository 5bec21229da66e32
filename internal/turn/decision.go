package turn

import "strings"

// Decision is the outcome of the question-rewrite stage.
type Decision string

const (
	// DecisionCopy passes the user's question through unchanged.
	DecisionCopy Decision = "COPY"

	// DecisionRewrite substitutes a resolved version of the question.
	DecisionRewrite Decision = "REWRITE"

	// DecisionClarify asks the user a follow-up question instead of
	// answering, because a reference could not be resolved.
	DecisionClarify Decision = "CLARIFY"
)

// Valid reports whether d is one of the known decisions.
func (d Decision) Valid() bool {
	switch d {
	case DecisionCopy, DecisionRewrite, DecisionClarify:
		return true
	}
	return false
}

// ParseDecision maps a model-emitted decision string to a Decision.
// Matching is case-insensitive and whitespace-tolerant. Unrecognized
// values return DecisionCopy and false: the pipeline must always have a
// usable question, even when the model misbehaves.
func ParseDecision(s string) (Decision, bool) {
	d := Decision(strings.ToUpper(strings.TrimSpace(s)))
	if d.Valid() {
		return d, true
	}
	return DecisionCopy, false
}
