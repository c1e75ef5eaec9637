package adapters

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/af-corp/chorus/internal/config"
	"github.com/af-corp/chorus/internal/types"
)

func newOpenAITestServer(t *testing.T, handler http.HandlerFunc) (*OpenAIAdapter, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	a := NewOpenAIAdapter("openai", config.ProviderConfig{
		Type:    "openai",
		BaseURL: srv.URL,
		APIKey:  "sk-test",
	}, srv.Client())
	return a, srv
}

func chatReply(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{
			"index":   0,
			"message": map[string]string{"role": "assistant", "content": content},
		}},
	})
	return string(b)
}

func TestOpenAIComplete(t *testing.T) {
	var got map[string]any
	a, _ := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		json.NewDecoder(r.Body).Decode(&got)
		io.WriteString(w, chatReply("Paris"))
	})

	temp := 0.7
	out, err := a.Complete(context.Background(), ChatRequest{
		Model:       "gpt-4o",
		Messages:    []types.Message{types.SystemMessage("sys"), types.UserMessage("capital of France?")},
		Temperature: &temp,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "Paris" {
		t.Errorf("expected Paris, got %q", out)
	}
	if got["temperature"] != 0.7 {
		t.Errorf("expected temperature 0.7 in body, got %v", got["temperature"])
	}
	msgs, _ := got["messages"].([]any)
	if len(msgs) != 2 {
		t.Errorf("expected 2 messages, got %d", len(msgs))
	}
}

func TestOpenAIComplete_OmitsTemperatureForReasoningModels(t *testing.T) {
	tests := []struct {
		model    string
		wantTemp bool
	}{
		{"gpt-4o", true},
		{"gpt-5", false},
		{"gpt-5-mini", false},
		{"o3-mini", false},
		{"o4-mini", false},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			var got map[string]any
			a, _ := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
				json.NewDecoder(r.Body).Decode(&got)
				io.WriteString(w, chatReply("ok"))
			})
			temp := 0.3
			if _, err := a.Complete(context.Background(), ChatRequest{
				Model:       tt.model,
				Messages:    []types.Message{types.UserMessage("hi")},
				Temperature: &temp,
				MaxTokens:   100,
			}); err != nil {
				t.Fatal(err)
			}
			_, hasTemp := got["temperature"]
			if hasTemp != tt.wantTemp {
				t.Errorf("temperature present = %v, want %v", hasTemp, tt.wantTemp)
			}
			if !tt.wantTemp {
				if _, ok := got["max_tokens"]; ok {
					t.Error("reasoning models should use max_completion_tokens")
				}
				if got["max_completion_tokens"] != float64(100) {
					t.Errorf("expected max_completion_tokens 100, got %v", got["max_completion_tokens"])
				}
			}
		})
	}
}

func TestOpenAIComplete_ErrorStatus(t *testing.T) {
	a, _ := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":{"message":"slow down"}}`)
	})

	_, err := a.Complete(context.Background(), ChatRequest{Model: "gpt-4o", Messages: []types.Message{types.UserMessage("hi")}})
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ProviderError, got %v", err)
	}
	if perr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", perr.StatusCode)
	}
	if !strings.Contains(perr.Error(), "slow down") {
		t.Errorf("expected upstream message in error, got %q", perr.Error())
	}
}

func TestOpenAIComplete_NoChoices(t *testing.T) {
	a, _ := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[]}`)
	})
	if _, err := a.Complete(context.Background(), ChatRequest{Model: "gpt-4o"}); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestOpenAIDescribe_SendsDataURL(t *testing.T) {
	var raw string
	a, _ := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		raw = string(b)
		io.WriteString(w, chatReply("A red bicycle."))
	})

	out, err := a.Describe(context.Background(), VisionRequest{
		Model:     "gpt-4o",
		Prompt:    "Describe this image",
		Image:     []byte("fake-png"),
		MIMEType:  "image/png",
		MaxTokens: 500,
	})
	if err != nil {
		t.Fatal(err)
	}
	if out != "A red bicycle." {
		t.Errorf("unexpected description %q", out)
	}
	want := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("fake-png"))
	if !strings.Contains(raw, want) {
		t.Errorf("expected data URL in request body, got %s", raw)
	}
	if !strings.Contains(raw, `"max_tokens":500`) {
		t.Errorf("expected max_tokens 500, got %s", raw)
	}
}

func TestOpenAIGenerateImage_B64(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\nrest")
	var body map[string]any
	a, _ := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/generations" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{
				"b64_json":       base64.StdEncoding.EncodeToString(png),
				"revised_prompt": "a lighthouse at dusk",
			}},
		})
	})

	res, err := a.GenerateImage(context.Background(), ImageRequest{
		Model:   "gpt-image-1",
		Prompt:  "a lighthouse",
		Quality: "medium",
		Size:    "1024x1024",
	})
	if err != nil {
		t.Fatal(err)
	}
	if string(res.Data) != string(png) {
		t.Error("decoded image mismatch")
	}
	if res.MIMEType != "image/png" {
		t.Errorf("expected image/png, got %s", res.MIMEType)
	}
	if res.RevisedPrompt != "a lighthouse at dusk" {
		t.Errorf("unexpected revised prompt %q", res.RevisedPrompt)
	}
	if body["quality"] != "medium" {
		t.Errorf("expected quality medium, got %v", body["quality"])
	}
	if _, ok := body["response_format"]; ok {
		t.Error("gpt-image models should not receive response_format")
	}
}

func TestOpenAIGenerateImage_EditUsesMultipart(t *testing.T) {
	a, _ := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/edits" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if r.FormValue("prompt") != "make it blue" {
			t.Errorf("unexpected prompt %q", r.FormValue("prompt"))
		}
		f, hdr, err := r.FormFile("image")
		if err != nil {
			t.Fatalf("missing image part: %v", err)
		}
		defer f.Close()
		if hdr.Filename != "logo.png" {
			t.Errorf("unexpected filename %q", hdr.Filename)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"b64_json": base64.StdEncoding.EncodeToString([]byte("edited"))}},
		})
	})

	res, err := a.GenerateImage(context.Background(), ImageRequest{
		Model:             "gpt-image-1",
		Prompt:            "make it blue",
		Reference:         []byte("\x89PNG\r\n\x1a\noriginal"),
		ReferenceFilename: "logo.png",
	})
	if err != nil {
		t.Fatal(err)
	}
	if string(res.Data) != "edited" {
		t.Errorf("unexpected image data %q", res.Data)
	}
}
