package respond

import "github.com/velosa/atende/internal/turn"

// AudioRule is one processor type's synthesis stance.
type AudioRule int

const (
	// AudioDefault synthesizes for this processor type on every turn.
	AudioDefault AudioRule = iota

	// AudioOnVoice synthesizes only when the inbound turn arrived as
	// audio (audio-in implies audio-out).
	AudioOnVoice

	// AudioNever forbids synthesis for this processor type, even for
	// voice turns.
	AudioNever
)

// AudioPolicy maps processor types to synthesis rules. Types absent from
// the table behave as AudioOnVoice.
type AudioPolicy map[turn.ProcessorType]AudioRule

// DefaultAudioPolicy reflects the product defaults: conversational
// answers are voiced, mechanical stages are not, webhook actions never
// are.
func DefaultAudioPolicy() AudioPolicy {
	return AudioPolicy{
		turn.ProcessorGreeting: AudioDefault,
		turn.ProcessorRAG:      AudioDefault,
		turn.ProcessorFallback: AudioDefault,
		turn.ProcessorRewrite:  AudioOnVoice,
		turn.ProcessorSkill:    AudioOnVoice,
		turn.ProcessorIntent:   AudioOnVoice,
		turn.ProcessorWebhook:  AudioNever,
	}
}

// Allows reports whether synthesis may run for a result produced by the
// given processor type on a turn that did (or did not) arrive as audio.
func (p AudioPolicy) Allows(t turn.ProcessorType, fromAudio bool) bool {
	rule, ok := p[t]
	if !ok {
		rule = AudioOnVoice
	}
	switch rule {
	case AudioDefault:
		return true
	case AudioOnVoice:
		return fromAudio
	default:
		return false
	}
}
