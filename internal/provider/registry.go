package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/af-corp/chorus/internal/config"
	"github.com/af-corp/chorus/internal/provider/adapters"
	"github.com/af-corp/chorus/internal/telemetry"
	"github.com/af-corp/chorus/internal/types"
)

var (
	ErrCircuitOpen   = errors.New("circuit breaker open")
	ErrNotConfigured = errors.New("provider not configured")
)

type (
	Error          = adapters.ProviderError
	ImageRequest   = adapters.ImageRequest
	GeneratedImage = adapters.ImageResult
)

const visionPrompt = "Describe this image in detail. Include all visible elements, text, colors, composition, and context."

// Invoker performs one synchronous chat call against a model.
type Invoker interface {
	Invoke(ctx context.Context, ref types.ModelRef, messages []types.Message, temperature float64) (string, error)
}

// Describer turns an image into descriptive text for indexing.
type Describer interface {
	Describe(ctx context.Context, image []byte, mime string) (string, error)
}

// ImageGenerator creates or edits images with the configured image model.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, req ImageRequest) (*GeneratedImage, error)
}

type entry struct {
	chat    adapters.ChatAdapter
	timeout time.Duration
}

// Registry owns the provider adapters and implements Invoker, Describer and ImageGenerator
// with per-call timeouts and circuit breaking.
type Registry struct {
	mu      sync.RWMutex
	entries map[types.Provider]entry

	health         *HealthTracker
	models         func() *config.ModelsConfig
	defaultTimeout time.Duration
	metrics        *telemetry.Metrics
	logger         *slog.Logger
}

type RegistryOptions struct {
	Health         *HealthTracker
	Models         func() *config.ModelsConfig
	DefaultTimeout time.Duration
	Metrics        *telemetry.Metrics
	Logger         *slog.Logger
}

func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Health == nil {
		opts.Health = NewHealthTracker(5, 15*time.Second)
	}
	if opts.Models == nil {
		opts.Models = config.DefaultModelsConfig
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 60 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Registry{
		entries:        make(map[types.Provider]entry),
		health:         opts.Health,
		models:         opts.Models,
		defaultTimeout: opts.DefaultTimeout,
		metrics:        opts.Metrics,
		logger:         opts.Logger,
	}
}

// Register adds or replaces the adapter for a provider. A zero timeout uses the registry default.
func (r *Registry) Register(p types.Provider, a adapters.ChatAdapter, timeout time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[p] = entry{chat: a, timeout: timeout}
}

func (r *Registry) get(p types.Provider) (entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[p]
	return e, ok
}

// Configured lists the providers that currently have an adapter.
func (r *Registry) Configured() []types.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.Provider
	for _, p := range types.Providers {
		if _, ok := r.entries[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

func (r *Registry) Health() *HealthTracker { return r.health }

// Load replaces every adapter with the ones described by provCfg.
func (r *Registry) Load(provCfg *config.ProvidersConfig) {
	entries := make(map[types.Provider]entry, len(provCfg.Providers))
	for name, cfg := range provCfg.Providers {
		p, ok := types.ParseProvider(name)
		if !ok {
			r.logger.Warn("skipping unknown provider in config", "provider", name)
			continue
		}
		client := &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        cfg.MaxConcurrent,
				MaxIdleConnsPerHost: cfg.MaxConcurrent,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		}

		var a adapters.ChatAdapter
		switch cfg.Type {
		case "anthropic":
			a = adapters.NewAnthropicAdapter(name, cfg, client)
		default:
			// openai and every OpenAI-compatible endpoint (groq)
			a = adapters.NewOpenAIAdapter(name, cfg, client)
		}
		entries[p] = entry{chat: a, timeout: cfg.Timeout}
	}

	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()
	r.logger.Info("provider registry loaded", "providers", len(entries))
}

// BuildFromConfig builds a registry with adapters for every configured provider.
func BuildFromConfig(provCfg *config.ProvidersConfig, opts RegistryOptions) *Registry {
	r := NewRegistry(opts)
	r.Load(provCfg)
	return r
}

// call wraps one adapter call with breaker gating, a timeout, metrics and call counting.
func (r *Registry) call(ctx context.Context, ref types.ModelRef, fn func(ctx context.Context, e entry) error) error {
	e, ok := r.get(ref.Provider)
	if !ok {
		return &Error{Provider: string(ref.Provider), Model: ref.Model, Message: "provider not configured", Err: ErrNotConfigured}
	}
	if !r.health.IsAvailable(ref.Provider) {
		return &Error{Provider: string(ref.Provider), Model: ref.Model, Message: "provider temporarily unavailable", Err: ErrCircuitOpen}
	}

	timeout := e.timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	countCall(ctx)
	start := time.Now()
	err := fn(callCtx, e)
	durationMs := float64(time.Since(start).Milliseconds())

	status := "ok"
	switch {
	case err == nil:
		r.health.RecordSuccess(ref.Provider)
	case ctx.Err() != nil:
		// the caller gave up; not the provider's fault
		status = "canceled"
		r.health.GetBreaker(ref.Provider).ReleaseProbe()
	default:
		status = "error"
		r.health.RecordFailure(ref.Provider)
	}
	if r.metrics != nil {
		r.metrics.RecordModelCall(string(ref.Provider), ref.Model, status, durationMs)
	}
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return &Error{Provider: string(ref.Provider), Model: ref.Model, Message: fmt.Sprintf("timed out after %s", timeout), Err: err}
		}
		var perr *Error
		if !errors.As(err, &perr) {
			return &Error{Provider: string(ref.Provider), Model: ref.Model, Err: err}
		}
		return err
	}
	return nil
}

func (r *Registry) Invoke(ctx context.Context, ref types.ModelRef, messages []types.Message, temperature float64) (string, error) {
	var out string
	err := r.call(ctx, ref, func(ctx context.Context, e entry) error {
		text, err := e.chat.Complete(ctx, adapters.ChatRequest{
			Model:       ref.Model,
			Messages:    messages,
			Temperature: &temperature,
		})
		out = text
		return err
	})
	return out, err
}

// Describe uses the configured vision model.
func (r *Registry) Describe(ctx context.Context, image []byte, mime string) (string, error) {
	route := r.models().Vision
	ref, err := route.Ref()
	if err != nil {
		return "", fmt.Errorf("resolve vision model: %w", err)
	}

	var out string
	err = r.call(ctx, ref, func(ctx context.Context, e entry) error {
		va, ok := e.chat.(adapters.VisionAdapter)
		if !ok {
			return &Error{Provider: string(ref.Provider), Model: ref.Model, Message: "provider does not support vision"}
		}
		text, err := va.Describe(ctx, adapters.VisionRequest{
			Model:     ref.Model,
			Prompt:    visionPrompt,
			Image:     image,
			MIMEType:  mime,
			MaxTokens: route.MaxTokens,
		})
		out = text
		return err
	})
	return out, err
}

// GenerateImage uses the configured image generation model.
func (r *Registry) GenerateImage(ctx context.Context, req ImageRequest) (*GeneratedImage, error) {
	ref, err := r.models().Image.Ref()
	if err != nil {
		return nil, fmt.Errorf("resolve image model: %w", err)
	}
	req.Model = ref.Model

	var out *GeneratedImage
	err = r.call(ctx, ref, func(ctx context.Context, e entry) error {
		ia, ok := e.chat.(adapters.ImageAdapter)
		if !ok {
			return &Error{Provider: string(ref.Provider), Model: ref.Model, Message: "provider does not support image generation"}
		}
		img, err := ia.GenerateImage(ctx, req)
		out = img
		return err
	})
	return out, err
}
