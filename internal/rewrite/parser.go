package rewrite

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/velosa/atende/internal/turn"
)

// ModelDecision is the structured decision extracted from the completion
// model's reply.
type ModelDecision struct {
	Decision      turn.Decision
	Rewritten     string
	Reason        string
	Evidence      []string
	Clarification string
}

// ErrNoDecision is returned when the model's reply carries no usable
// decision field. Callers degrade to COPY; this is never fatal.
var ErrNoDecision = errors.New("model reply has no decision field")

// ParseModelDecision extracts a ModelDecision from free-text model
// output. Models wrap JSON in code fences or prose often enough that
// strict unmarshalling would reject usable replies, so extraction is
// best-effort: the first JSON object found in the text is used. A reply
// without a recognizable decision returns ErrNoDecision.
func ParseModelDecision(raw string) (*ModelDecision, error) {
	payload := extractJSON(raw)
	if payload == "" {
		return nil, ErrNoDecision
	}

	decisionField := gjson.Get(payload, "decision")
	if !decisionField.Exists() {
		return nil, ErrNoDecision
	}
	decision, ok := turn.ParseDecision(decisionField.String())
	if !ok {
		return nil, ErrNoDecision
	}

	md := &ModelDecision{
		Decision:      decision,
		Rewritten:     strings.TrimSpace(gjson.Get(payload, "rewritten").String()),
		Reason:        strings.TrimSpace(gjson.Get(payload, "reason").String()),
		Clarification: strings.TrimSpace(gjson.Get(payload, "clarification").String()),
	}
	for _, ev := range gjson.Get(payload, "evidence").Array() {
		if s := strings.TrimSpace(ev.String()); s != "" {
			md.Evidence = append(md.Evidence, s)
		}
	}
	return md, nil
}

// extractJSON returns the outermost JSON object embedded in s, or ""
// when none is found.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	candidate := s[start : end+1]
	if !gjson.Valid(candidate) {
		return ""
	}
	return candidate
}
