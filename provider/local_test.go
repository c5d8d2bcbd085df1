package provider_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/modelflow/modelflow/core/chat"
	"github.com/modelflow/modelflow/provider"
)

func TestFlattenPrompt(t *testing.T) {
	messages := []chat.Message{
		chat.NewMessage(chat.RoleSystem, "be brief"),
		chat.NewMessage(chat.RoleUser, "ping"),
		chat.NewMessage(chat.RoleAssistant, "pong"),
		chat.NewMessage(chat.RoleUser, "again"),
	}

	got := provider.FlattenPrompt(messages)
	want := "system: be brief\nuser: ping\nassistant: pong\nuser: again\nassistant: "
	if got != want {
		t.Errorf("FlattenPrompt() = %q, want %q", got, want)
	}
}

func TestLocalComplete(t *testing.T) {
	var gotPayload map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/completions" {
			t.Errorf("request path = %q, want /completions", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)

		_, _ = w.Write([]byte(`{
			"model": "ggml-model",
			"choices": [{"text": " hello there \n", "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 8, "completion_tokens": 4, "total_tokens": 12}
		}`))
	}))
	defer srv.Close()

	p, err := provider.NewLocal(provider.Config{
		ID:      "local-test",
		Kind:    provider.KindLocal,
		BaseURL: srv.URL,
	}, srv.Client())
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}

	messages := []chat.Message{chat.NewMessage(chat.RoleUser, "hi")}
	result, err := p.Complete(context.Background(), messages, chat.GenerationParams{"max_tokens": 32})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	if result.Content != "hello there" {
		t.Errorf("content = %q, want trimmed %q", result.Content, "hello there")
	}

	prompt, _ := gotPayload["prompt"].(string)
	if !strings.HasPrefix(prompt, "user: hi\n") || !strings.HasSuffix(prompt, "assistant: ") {
		t.Errorf("prompt = %q, want flattened role-prefixed form", prompt)
	}
	if gotPayload["max_tokens"] != float64(32) {
		t.Errorf("payload max_tokens = %v, want 32", gotPayload["max_tokens"])
	}
}

func TestNewLocalDefaults(t *testing.T) {
	p, err := provider.NewLocal(provider.Config{ID: "local", Kind: provider.KindLocal}, nil)
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}

	if p.ContextLimit() != 2048 {
		t.Errorf("ContextLimit() = %d, want 2048", p.ContextLimit())
	}
	if p.TokenizerID() != "heuristic:v1" {
		t.Errorf("TokenizerID() = %q, want heuristic:v1", p.TokenizerID())
	}
}
