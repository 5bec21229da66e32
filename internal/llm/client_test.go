package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/velosa/atende/internal/turn"
)

func TestCompleteSuccess(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "{\"decision\":\"COPY\"}"}}],
			"usage": {"prompt_tokens": 812, "completion_tokens": 44}
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk-test", nil)
	got, err := c.Complete(context.Background(), turn.CompletionRequest{
		Model:  "gpt-test",
		Prompt: "decide",
		Messages: []turn.ChatMessage{
			{Role: "user", Content: "Dr. Mauricio atende cardiologia"},
		},
		MaxTokens:   512,
		Temperature: 0.2,
	})
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}

	if got.Message != `{"decision":"COPY"}` {
		t.Errorf("Message = %q", got.Message)
	}
	if got.PromptTokens != 812 || got.CompletionTokens != 44 {
		t.Errorf("tokens = %d/%d, want 812/44", got.PromptTokens, got.CompletionTokens)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}

	// Prompt rides first as the system message, context after.
	msgs, ok := gotBody["messages"].([]any)
	if !ok || len(msgs) != 2 {
		t.Fatalf("wire messages = %v, want 2", gotBody["messages"])
	}
	first := msgs[0].(map[string]any)
	if first["role"] != "system" || first["content"] != "decide" {
		t.Errorf("first wire message = %v, want the system prompt", first)
	}
}

func TestCompleteAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nil)
	_, err := c.Complete(context.Background(), turn.CompletionRequest{Model: "m", Prompt: "p"})
	if err == nil {
		t.Fatal("Complete() = nil error on HTTP 429")
	}
}

func TestCompleteNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": []}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nil)
	_, err := c.Complete(context.Background(), turn.CompletionRequest{Model: "m", Prompt: "p"})
	if err == nil {
		t.Fatal("Complete() = nil error on empty choices")
	}
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("path = %q, want /models", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := NewClient(srv.URL, "", nil).Ping(context.Background()); err != nil {
		t.Errorf("Ping() error: %v", err)
	}
}
