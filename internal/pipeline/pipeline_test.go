package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/velosa/atende/internal/clarify"
	"github.com/velosa/atende/internal/history"
	"github.com/velosa/atende/internal/rewrite"
	"github.com/velosa/atende/internal/state"
	"github.com/velosa/atende/internal/turn"
)

// scriptedCompletion replays canned replies in order and counts calls.
type scriptedCompletion struct {
	replies []string
	calls   int
	err     error
}

func (s *scriptedCompletion) Complete(_ context.Context, _ turn.CompletionRequest) (*turn.Completion, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	reply := "{}"
	if len(s.replies) > 0 {
		reply = s.replies[0]
		s.replies = s.replies[1:]
	}
	return &turn.Completion{Message: reply, PromptTokens: 10, CompletionTokens: 5}, nil
}

type nopLog struct{}

func (nopLog) Create(context.Context, *turn.ContextMessage) error       { return nil }
func (nopLog) BulkCreate(context.Context, []*turn.ContextMessage) error { return nil }

// answerProcessor is a stand-in downstream stage that answers with the
// message it received, so tests can observe what the rewrite stage
// passed along.
type answerProcessor struct{}

func (answerProcessor) Type() turn.ProcessorType { return turn.ProcessorRAG }

func (answerProcessor) CanHandle(context.Context, *turn.ProcessingContext) bool { return true }

func (answerProcessor) Process(_ context.Context, pc *turn.ProcessingContext) (*turn.ProcessingResult, error) {
	out := turn.Stop(turn.ProcessorRAG, "answer to: "+pc.Message)
	out.Metadata = pc.Metadata
	return out, nil
}

type fixture struct {
	pipe       *Pipeline
	tracker    *clarify.Tracker
	hist       *history.Cache
	completion *scriptedCompletion
	mr         *miniredis.Miniredis
}

func newFixture(t *testing.T, replies ...string) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	st := state.New(rdb, time.Minute, nil)
	tracker := clarify.NewTracker(st, 2, time.Minute, nil)
	hist := history.NewCache(rdb, time.Hour, nil)
	completion := &scriptedCompletion{replies: replies}
	svc := rewrite.NewService(hist, tracker, completion, nopLog{}, 5, nil)

	pipe := New(nil,
		NewRewriteProcessor(svc, tracker, nil),
		answerProcessor{},
	)
	return &fixture{pipe: pipe, tracker: tracker, hist: hist, completion: completion, mr: mr}
}

func turnContext(message, referenceID string) *turn.ProcessingContext {
	return &turn.ProcessingContext{
		ConversationID: "conv-1",
		Message:        message,
		Agent:          turn.Agent{ID: "agent-1", Model: "gpt-test"},
		ReferenceID:    referenceID,
	}
}

func TestClarificationRoundTrip(t *testing.T) {
	f := newFixture(t,
		`{"decision":"CLARIFY","clarification":"Qual profissional você quer saber o valor?","evidence":["Dr. Mauricio","cardiologia"]}`,
		`{"decision":"REWRITE","rewritten":"Qual o valor da consulta do Roberto?"}`,
	)
	ctx := context.Background()

	// Turn 1 seeded history: the clinic told the user about Dr. Mauricio.
	err := f.hist.Append(ctx, &turn.ContextMessage{
		ID: "m1", ConversationID: "conv-1", Role: turn.RoleUser,
		Content: "Dr. Mauricio atende cardiologia", Kind: turn.KindMessage,
		CreatedAt: time.Now().Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	// Turn 2: ambiguous price question -> pipeline stops with the
	// clarification.
	res, err := f.pipe.Run(ctx, turnContext("qual o valor?", "ref-2"))
	if err != nil {
		t.Fatalf("Run(turn 2) error: %v", err)
	}
	if res.Signal != turn.SignalStop {
		t.Fatalf("turn 2 signal = %s, want stop", res.Signal)
	}
	if res.Content != "Qual profissional você quer saber o valor?" {
		t.Errorf("turn 2 content = %q, want the clarification text", res.Content)
	}
	if res.Audio == nil {
		t.Error("clarification result carries no audio hint")
	}
	if res.Metadata.RewriteDecision != turn.DecisionClarify {
		t.Errorf("turn 2 metadata decision = %s, want CLARIFY", res.Metadata.RewriteDecision)
	}

	st, err := f.tracker.State(ctx, "conv-1")
	if err != nil {
		t.Fatalf("State() error: %v", err)
	}
	if st == nil || st.Attempts != 1 {
		t.Fatalf("clarification state = %+v, want attempts=1", st)
	}

	// Turn 3: the user answers with an unrelated name; the model
	// rewrites around Roberto and the pending state is resolved.
	res, err = f.pipe.Run(ctx, turnContext("roberto", "ref-3"))
	if err != nil {
		t.Fatalf("Run(turn 3) error: %v", err)
	}
	if res.Signal != turn.SignalStop || res.Processor != turn.ProcessorRAG {
		t.Fatalf("turn 3 did not reach the answering stage: %+v", res)
	}
	if !strings.Contains(res.Content, "Roberto") {
		t.Errorf("turn 3 answer = %q, want the rewritten question referencing Roberto", res.Content)
	}
	if strings.Contains(res.Content, "Mauricio") {
		t.Errorf("turn 3 answer = %q, still references Mauricio", res.Content)
	}
	if !res.Metadata.WasRewritten {
		t.Error("turn 3 metadata.WasRewritten = false")
	}
	if res.Metadata.OriginalMessage != "roberto" {
		t.Errorf("turn 3 metadata.OriginalMessage = %q", res.Metadata.OriginalMessage)
	}

	st, err = f.tracker.State(ctx, "conv-1")
	if err != nil {
		t.Fatalf("State() error: %v", err)
	}
	if st != nil {
		t.Errorf("clarification state = %+v after rewrite, want cleared", st)
	}
}

func TestExhaustionFallback(t *testing.T) {
	f := newFixture(t,
		`{"decision":"CLARIFY","clarification":"Qual profissional?"}`,
		`{"decision":"CLARIFY","clarification":"Não entendi, qual profissional?"}`,
	)
	ctx := context.Background()

	for i, ref := range []string{"ref-1", "ref-2"} {
		res, err := f.pipe.Run(ctx, turnContext("qual o valor?", ref))
		if err != nil {
			t.Fatalf("Run(clarify %d) error: %v", i+1, err)
		}
		if res.Signal != turn.SignalStop || res.Processor != turn.ProcessorRewrite {
			t.Fatalf("clarify turn %d did not stop at rewrite stage", i+1)
		}
	}

	st, err := f.tracker.State(ctx, "conv-1")
	if err != nil {
		t.Fatalf("State() error: %v", err)
	}
	if st == nil || st.Attempts != 2 {
		t.Fatalf("clarification state = %+v, want attempts=2", st)
	}

	callsBefore := f.completion.calls

	// Third turn: attempts are exhausted, so the rewrite stage must skip
	// the model call, clear state, and continue unmodified.
	res, err := f.pipe.Run(ctx, turnContext("sei lá", "ref-3"))
	if err != nil {
		t.Fatalf("Run(turn 3) error: %v", err)
	}
	if f.completion.calls != callsBefore {
		t.Error("exhausted turn still called the completion model")
	}
	if res.Signal != turn.SignalStop || res.Processor != turn.ProcessorRAG {
		t.Fatalf("exhausted turn did not fall through to the answering stage: %+v", res)
	}
	if !res.Metadata.SkipClarification {
		t.Error("metadata.SkipClarification = false after exhaustion")
	}
	if res.Content != "answer to: sei lá" {
		t.Errorf("content = %q, want the unmodified message answered", res.Content)
	}

	st, err = f.tracker.State(ctx, "conv-1")
	if err != nil {
		t.Fatalf("State() error: %v", err)
	}
	if st != nil {
		t.Errorf("clarification state = %+v after exhaustion, want cleared", st)
	}
}

func TestAttemptsNeverExceedMax(t *testing.T) {
	f := newFixture(t,
		`{"decision":"CLARIFY","clarification":"q1"}`,
		`{"decision":"CLARIFY","clarification":"q2"}`,
		`{"decision":"CLARIFY","clarification":"q3"}`,
		`{"decision":"CLARIFY","clarification":"q4"}`,
	)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := f.pipe.Run(ctx, turnContext("hã?", "ref")); err != nil {
			t.Fatalf("Run(%d) error: %v", i, err)
		}
		st, err := f.tracker.State(ctx, "conv-1")
		if err != nil {
			t.Fatalf("State() error: %v", err)
		}
		if st != nil && st.Attempts > 2 {
			t.Fatalf("attempts = %d after turn %d, exceeds max 2", st.Attempts, i+1)
		}
	}
}

func TestProcessorErrorPropagates(t *testing.T) {
	f := newFixture(t)
	f.completion.err = errors.New("model unavailable")

	_, err := f.pipe.Run(context.Background(), turnContext("qual o valor?", "ref-1"))
	if err == nil {
		t.Fatal("Run() = nil error, want completion failure to propagate")
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Errorf("error = %v, want wrapped model failure", err)
	}
}

func TestNoProcessorStops(t *testing.T) {
	// A pipeline with only the rewrite stage: a COPY decision continues
	// past the end of the chain.
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	st := state.New(rdb, time.Minute, nil)
	tracker := clarify.NewTracker(st, 2, time.Minute, nil)
	hist := history.NewCache(rdb, time.Hour, nil)
	completion := &scriptedCompletion{replies: []string{`{"decision":"COPY"}`}}
	svc := rewrite.NewService(hist, tracker, completion, nopLog{}, 5, nil)
	pipe := New(nil, NewRewriteProcessor(svc, tracker, nil))

	res, err := pipe.Run(context.Background(), turnContext("oi", "ref-1"))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Signal != turn.SignalContinue {
		t.Errorf("signal = %s, want continue when nothing stopped", res.Signal)
	}
	if res.Content != "" {
		t.Errorf("content = %q, want empty", res.Content)
	}
}

// skippedProcessor must never run; its CanHandle is false.
type skippedProcessor struct{ ran bool }

func (s *skippedProcessor) Type() turn.ProcessorType { return turn.ProcessorGreeting }

func (s *skippedProcessor) CanHandle(context.Context, *turn.ProcessingContext) bool { return false }

func (s *skippedProcessor) Process(_ context.Context, pc *turn.ProcessingContext) (*turn.ProcessingResult, error) {
	s.ran = true
	return turn.Continue(turn.ProcessorGreeting, pc), nil
}

func TestCanHandleFalseIsSkipped(t *testing.T) {
	skipped := &skippedProcessor{}
	pipe := New(nil, skipped, answerProcessor{})

	res, err := pipe.Run(context.Background(), turnContext("oi", "ref-1"))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if skipped.ran {
		t.Error("processor with CanHandle=false was run")
	}
	if res.Processor != turn.ProcessorRAG {
		t.Errorf("result came from %s, want the answering stage", res.Processor)
	}
}
