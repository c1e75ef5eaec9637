package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/af-corp/chorus/internal/config"
	"github.com/af-corp/chorus/internal/provider/adapters"
	"github.com/af-corp/chorus/internal/types"
)

type fakeAdapter struct {
	name  string
	reply string
	err   error
	delay time.Duration

	gotReq adapters.ChatRequest
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Complete(ctx context.Context, req adapters.ChatRequest) (string, error) {
	f.gotReq = req
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.reply, f.err
}

type fakeVisionAdapter struct {
	fakeAdapter
	gotVision adapters.VisionRequest
}

func (f *fakeVisionAdapter) Describe(_ context.Context, req adapters.VisionRequest) (string, error) {
	f.gotVision = req
	return "a cat on a mat", nil
}

func newTestRegistry(t *testing.T, threshold int) *Registry {
	t.Helper()
	return NewRegistry(RegistryOptions{
		Health:         NewHealthTracker(threshold, time.Minute),
		DefaultTimeout: time.Second,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

var gpt4o = types.ModelRef{Provider: types.ProviderOpenAI, Model: "gpt-4o"}

func TestInvoke_PassesModelAndTemperature(t *testing.T) {
	r := newTestRegistry(t, 3)
	fa := &fakeAdapter{name: "openai", reply: "hello"}
	r.Register(types.ProviderOpenAI, fa, 0)

	msgs := []types.Message{types.SystemMessage("sys"), types.UserMessage("hi")}
	got, err := r.Invoke(context.Background(), gpt4o, msgs, 0.3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello" {
		t.Errorf("expected hello, got %q", got)
	}
	if fa.gotReq.Model != "gpt-4o" {
		t.Errorf("expected model gpt-4o, got %q", fa.gotReq.Model)
	}
	if fa.gotReq.Temperature == nil || *fa.gotReq.Temperature != 0.3 {
		t.Errorf("expected temperature 0.3, got %v", fa.gotReq.Temperature)
	}
	if len(fa.gotReq.Messages) != 2 {
		t.Errorf("expected 2 messages, got %d", len(fa.gotReq.Messages))
	}
}

func TestInvoke_UnconfiguredProvider(t *testing.T) {
	r := newTestRegistry(t, 3)

	_, err := r.Invoke(context.Background(), types.ModelRef{Provider: types.ProviderGroq, Model: "llama"}, nil, 0.7)
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	var perr *Error
	if !errors.As(err, &perr) || perr.Provider != "groq" {
		t.Errorf("expected provider error for groq, got %v", err)
	}
}

func TestInvoke_Timeout(t *testing.T) {
	r := newTestRegistry(t, 3)
	r.Register(types.ProviderOpenAI, &fakeAdapter{name: "openai", reply: "late", delay: time.Second}, 20*time.Millisecond)

	_, err := r.Invoke(context.Background(), gpt4o, nil, 0.7)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected wrapped deadline exceeded, got %v", err)
	}
}

func TestInvoke_OpensCircuitAfterFailures(t *testing.T) {
	r := newTestRegistry(t, 2)
	fa := &fakeAdapter{name: "openai", err: &Error{Provider: "openai", Model: "gpt-4o", StatusCode: 500, Message: "boom"}}
	r.Register(types.ProviderOpenAI, fa, 0)

	for i := 0; i < 2; i++ {
		if _, err := r.Invoke(context.Background(), gpt4o, nil, 0.7); err == nil {
			t.Fatal("expected provider error")
		}
	}

	_, err := r.Invoke(context.Background(), gpt4o, nil, 0.7)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen after threshold, got %v", err)
	}
	if !r.Health().IsAvailable(types.ProviderAnthropic) {
		t.Error("anthropic breaker should be unaffected")
	}
}

func TestInvoke_CanceledCallerDoesNotTripBreaker(t *testing.T) {
	r := newTestRegistry(t, 1)
	r.Register(types.ProviderOpenAI, &fakeAdapter{name: "openai", delay: time.Second}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Invoke(ctx, gpt4o, nil, 0.7); err == nil {
		t.Fatal("expected error for canceled context")
	}
	if r.Health().GetBreaker(types.ProviderOpenAI).State() != StateClosed {
		t.Error("caller cancellation should not open the breaker")
	}
}

func TestInvoke_CountsCalls(t *testing.T) {
	r := newTestRegistry(t, 3)
	r.Register(types.ProviderOpenAI, &fakeAdapter{name: "openai", reply: "ok"}, 0)

	ctx, n := WithCallCounter(context.Background())
	for i := 0; i < 3; i++ {
		if _, err := r.Invoke(ctx, gpt4o, nil, 0.7); err != nil {
			t.Fatal(err)
		}
	}
	if n.Load() != 3 {
		t.Errorf("expected 3 counted calls, got %d", n.Load())
	}
}

func TestDescribe_UsesVisionRoute(t *testing.T) {
	r := NewRegistry(RegistryOptions{
		Models: func() *config.ModelsConfig {
			m := config.DefaultModelsConfig()
			m.Vision = config.ModelRoute{Provider: "openai", Model: "gpt-4o", MaxTokens: 500}
			return m
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	fv := &fakeVisionAdapter{fakeAdapter: fakeAdapter{name: "openai"}}
	r.Register(types.ProviderOpenAI, fv, 0)

	got, err := r.Describe(context.Background(), []byte{0x89, 'P', 'N', 'G'}, "image/png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "a cat on a mat" {
		t.Errorf("unexpected description %q", got)
	}
	if fv.gotVision.MaxTokens != 500 || fv.gotVision.Model != "gpt-4o" {
		t.Errorf("unexpected vision request: %+v", fv.gotVision)
	}
	if fv.gotVision.Prompt != visionPrompt {
		t.Errorf("expected vision prompt, got %q", fv.gotVision.Prompt)
	}
}

func TestGenerateImage_UnsupportedAdapter(t *testing.T) {
	r := newTestRegistry(t, 3)
	r.Register(types.ProviderOpenAI, &fakeAdapter{name: "openai"}, 0)

	_, err := r.GenerateImage(context.Background(), ImageRequest{Prompt: "a lighthouse"})
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestLoad_BuildsAdaptersFromConfig(t *testing.T) {
	r := newTestRegistry(t, 3)
	r.Load(&config.ProvidersConfig{Providers: map[string]config.ProviderConfig{
		"openai":    {Type: "openai", BaseURL: "http://localhost"},
		"groq":      {Type: "openai", BaseURL: "http://localhost"},
		"anthropic": {Type: "anthropic"},
		"cohere":    {Type: "openai"},
	}})

	got := r.Configured()
	want := []types.Provider{types.ProviderOpenAI, types.ProviderAnthropic, types.ProviderGroq}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Configured()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}
