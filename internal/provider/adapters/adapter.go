package adapters

import (
	"context"
	"fmt"

	"github.com/af-corp/chorus/internal/types"
)

// ChatAdapter performs one synchronous chat completion against a provider API.
type ChatAdapter interface {
	Name() string
	Complete(ctx context.Context, req ChatRequest) (string, error)
}

// VisionAdapter describes an image in natural language.
type VisionAdapter interface {
	Describe(ctx context.Context, req VisionRequest) (string, error)
}

// ImageAdapter generates a new image or edits a reference image.
type ImageAdapter interface {
	GenerateImage(ctx context.Context, req ImageRequest) (*ImageResult, error)
}

type ChatRequest struct {
	Model    string
	Messages []types.Message
	// Temperature is nil when the caller wants the provider default.
	Temperature *float64
	MaxTokens   int
}

type VisionRequest struct {
	Model     string
	Prompt    string
	Image     []byte
	MIMEType  string
	MaxTokens int
}

type ImageRequest struct {
	Model   string
	Prompt  string
	Quality string
	Size    string
	// Reference switches the call to edit mode when non-empty.
	Reference         []byte
	ReferenceFilename string
	ReferenceMIME     string
}

type ImageResult struct {
	Data          []byte
	MIMEType      string
	RevisedPrompt string
}

// ProviderError is returned for any failed provider call: transport, auth, quota or decoding.
type ProviderError struct {
	Provider   string
	Model      string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %s", e.Provider, e.Model, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Model, msg)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func truncateBody(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
