package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/af-corp/chorus/internal/config"
	"github.com/af-corp/chorus/internal/types"
)

func TestAnthropicComplete_SplitsSystemPrompt(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-sonnet-4-5",
			"content": [{"type": "text", "text": "Hello "}, {"type": "text", "text": "there"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 2}
		}`)
	}))
	defer srv.Close()

	a := NewAnthropicAdapter("anthropic", config.ProviderConfig{
		Type:    "anthropic",
		BaseURL: srv.URL,
		APIKey:  "test-key",
	}, srv.Client())

	temp := 0.3
	out, err := a.Complete(context.Background(), ChatRequest{
		Model: "claude-sonnet-4-5",
		Messages: []types.Message{
			types.SystemMessage("You are an expert response evaluator."),
			types.UserMessage("Pick one"),
		},
		Temperature: &temp,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "Hello there" {
		t.Errorf("expected concatenated text, got %q", out)
	}

	if got["max_tokens"] != float64(anthropicDefaultMaxTokens) {
		t.Errorf("expected default max_tokens, got %v", got["max_tokens"])
	}
	if got["temperature"] != 0.3 {
		t.Errorf("expected temperature 0.3, got %v", got["temperature"])
	}
	sys, _ := got["system"].([]any)
	if len(sys) != 1 {
		t.Fatalf("expected system prompt out of band, got %v", got["system"])
	}
	msgs, _ := got["messages"].([]any)
	if len(msgs) != 1 {
		t.Errorf("expected only the user message, got %d", len(msgs))
	}
}

func TestAnthropicComplete_RequiresUserMessage(t *testing.T) {
	a := NewAnthropicAdapter("anthropic", config.ProviderConfig{Type: "anthropic", BaseURL: "http://127.0.0.1:0"}, http.DefaultClient)
	_, err := a.Complete(context.Background(), ChatRequest{
		Model:    "claude-sonnet-4-5",
		Messages: []types.Message{types.SystemMessage("only system")},
	})
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ProviderError, got %v", err)
	}
}

func TestAnthropicComplete_MapsStatusCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	}))
	defer srv.Close()

	a := NewAnthropicAdapter("anthropic", config.ProviderConfig{Type: "anthropic", BaseURL: srv.URL, APIKey: "bad"}, srv.Client())
	_, err := a.Complete(context.Background(), ChatRequest{
		Model:    "claude-sonnet-4-5",
		Messages: []types.Message{types.UserMessage("hi")},
	})
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ProviderError, got %v", err)
	}
	if perr.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", perr.StatusCode)
	}
}
