package adapters

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/af-corp/chorus/internal/config"
)

// defaultNoTemperaturePrefixes are the OpenAI reasoning families that reject a temperature override.
var defaultNoTemperaturePrefixes = []string{"gpt-5", "o1", "o3", "o4"}

// OpenAIAdapter talks to OpenAI and OpenAI-compatible APIs (Groq uses the same wire format).
type OpenAIAdapter struct {
	name   string
	cfg    config.ProviderConfig
	client *http.Client
}

func NewOpenAIAdapter(name string, cfg config.ProviderConfig, client *http.Client) *OpenAIAdapter {
	if cfg.NoTemperaturePrefixes == nil && cfg.Type == "openai" {
		cfg.NoTemperaturePrefixes = defaultNoTemperaturePrefixes
	}
	return &OpenAIAdapter{name: name, cfg: cfg, client: client}
}

func (a *OpenAIAdapter) Name() string { return a.name }

// acceptsTemperature reports whether the model family allows an explicit temperature.
func (a *OpenAIAdapter) acceptsTemperature(model string) bool {
	for _, p := range a.cfg.NoTemperaturePrefixes {
		if strings.HasPrefix(model, p) {
			return false
		}
	}
	return true
}

func (a *OpenAIAdapter) Complete(ctx context.Context, req ChatRequest) (string, error) {
	body := openAIChatBody{Model: req.Model}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, openAIMessage{Role: string(m.Role), Content: m.Content})
	}
	a.applySampling(&body, req.Model, req.Temperature, req.MaxTokens)
	return a.chat(ctx, req.Model, body)
}

func (a *OpenAIAdapter) Describe(ctx context.Context, req VisionRequest) (string, error) {
	mime := req.MIMEType
	if mime == "" {
		mime = http.DetectContentType(req.Image)
	}
	dataURL := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(req.Image)
	body := openAIChatBody{
		Model: req.Model,
		Messages: []openAIMessage{{
			Role: "user",
			Content: []openAIContentPart{
				{Type: "text", Text: req.Prompt},
				{Type: "image_url", ImageURL: &openAIImageURL{URL: dataURL}},
			},
		}},
	}
	a.applySampling(&body, req.Model, nil, req.MaxTokens)
	return a.chat(ctx, req.Model, body)
}

func (a *OpenAIAdapter) applySampling(body *openAIChatBody, model string, temperature *float64, maxTokens int) {
	if maxTokens <= 0 {
		maxTokens = a.cfg.MaxTokens
	}
	if !a.acceptsTemperature(model) {
		// Reasoning families also reject max_tokens.
		if maxTokens > 0 {
			body.MaxCompletionTokens = &maxTokens
		}
		return
	}
	body.Temperature = temperature
	if maxTokens > 0 {
		body.MaxTokens = &maxTokens
	}
}

func (a *OpenAIAdapter) chat(ctx context.Context, model string, body openAIChatBody) (string, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal %s request: %w", a.name, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	payload, err := a.do(httpReq, model)
	if err != nil {
		return "", err
	}

	var resp openAIChatResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return "", &ProviderError{Provider: a.name, Model: model, Message: "decode response", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &ProviderError{Provider: a.name, Model: model, Message: "response contained no choices"}
	}
	return resp.Choices[0].Message.Content, nil
}

func (a *OpenAIAdapter) GenerateImage(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	var httpReq *http.Request
	var err error
	if len(req.Reference) > 0 {
		httpReq, err = a.editRequest(ctx, req)
	} else {
		httpReq, err = a.generationRequest(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	payload, err := a.do(httpReq, req.Model)
	if err != nil {
		return nil, err
	}

	var resp openAIImageResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, &ProviderError{Provider: a.name, Model: req.Model, Message: "decode image response", Err: err}
	}
	if len(resp.Data) == 0 {
		return nil, &ProviderError{Provider: a.name, Model: req.Model, Message: "image response contained no data"}
	}

	item := resp.Data[0]
	var img []byte
	switch {
	case item.B64JSON != "":
		img, err = base64.StdEncoding.DecodeString(item.B64JSON)
		if err != nil {
			return nil, &ProviderError{Provider: a.name, Model: req.Model, Message: "decode image payload", Err: err}
		}
	case item.URL != "":
		img, err = a.fetch(ctx, item.URL, req.Model)
		if err != nil {
			return nil, err
		}
	default:
		return nil, &ProviderError{Provider: a.name, Model: req.Model, Message: "image response had neither b64_json nor url"}
	}

	return &ImageResult{
		Data:          img,
		MIMEType:      http.DetectContentType(img),
		RevisedPrompt: item.RevisedPrompt,
	}, nil
}

func (a *OpenAIAdapter) generationRequest(ctx context.Context, req ImageRequest) (*http.Request, error) {
	body := openAIImageBody{
		Model:   req.Model,
		Prompt:  req.Prompt,
		N:       1,
		Size:    req.Size,
		Quality: req.Quality,
	}
	if strings.HasPrefix(req.Model, "dall-e") {
		body.ResponseFormat = "b64_json"
		// dall-e models use standard/hd rather than low/medium/high.
		body.Quality = ""
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal image request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/images/generations", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

func (a *OpenAIAdapter) editRequest(ctx context.Context, req ImageRequest) (*http.Request, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fields := map[string]string{
		"model":   req.Model,
		"prompt":  req.Prompt,
		"size":    req.Size,
		"quality": req.Quality,
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("write field %s: %w", k, err)
		}
	}

	filename := req.ReferenceFilename
	if filename == "" {
		filename = "reference.png"
	}
	mime := req.ReferenceMIME
	if mime == "" {
		mime = http.DetectContentType(req.Reference)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filename))
	h.Set("Content-Type", mime)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("create image part: %w", err)
	}
	if _, err := part.Write(req.Reference); err != nil {
		return nil, fmt.Errorf("write image part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/images/edits", &buf)
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	return httpReq, nil
}

func (a *OpenAIAdapter) fetch(ctx context.Context, url, model string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Provider: a.name, Model: model, Message: "download image", Err: err}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: a.name, Model: model, Message: "read image", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Provider: a.name, Model: model, StatusCode: resp.StatusCode, Message: "download image failed"}
	}
	return data, nil
}

// do sends an authenticated request and returns the body of a 200 response.
func (a *OpenAIAdapter) do(httpReq *http.Request, model string) ([]byte, error) {
	httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	for k, v := range a.cfg.Headers {
		if v != "" {
			httpReq.Header.Set(k, v)
		}
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Provider: a.name, Model: model, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: a.name, Model: model, Message: "read response", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Provider: a.name, Model: model, StatusCode: resp.StatusCode, Message: truncateBody(body)}
	}
	return body, nil
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIChatBody struct {
	Model               string          `json:"model"`
	Messages            []openAIMessage `json:"messages"`
	Temperature         *float64        `json:"temperature,omitempty"`
	MaxTokens           *int            `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int            `json:"max_completion_tokens,omitempty"`
}

type openAIChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type openAIImageBody struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size,omitempty"`
	Quality        string `json:"quality,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
}

type openAIImageResponse struct {
	Data []struct {
		B64JSON       string `json:"b64_json"`
		URL           string `json:"url"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
}
