// Package chat answers one user message for a bot: it classifies the intent and routes the
// message to image search, chart generation, image generation or a Chorus run.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/af-corp/chorus/internal/chart"
	"github.com/af-corp/chorus/internal/chorus"
	"github.com/af-corp/chorus/internal/config"
	"github.com/af-corp/chorus/internal/provider"
	"github.com/af-corp/chorus/internal/retrieval"
	"github.com/af-corp/chorus/internal/store"
	"github.com/af-corp/chorus/internal/telemetry"
	"github.com/af-corp/chorus/internal/types"
)

const (
	StatusOK        = "ok"
	StatusError     = "error"
	StatusNoDataset = "no_dataset"

	// StageIntent is emitted to the observer once the message is classified.
	StageIntent = "intent"
)

// Bot is everything a chat turn needs to know about the bot being addressed.
type Bot struct {
	ID           int64
	Instructions string
	RAGCount     int
	Chorus       types.ChorusConfig
	// DatasetID and Collection are zero when no dataset is attached.
	DatasetID  int64
	Collection string
}

func (b Bot) HasDataset() bool { return b.Collection != "" }

type ImageSettings struct {
	Quality string `json:"quality,omitempty"`
	Size    string `json:"size,omitempty"`
}

type Request struct {
	Message       string         `json:"message"`
	RAGCount      *int           `json:"rag_count,omitempty"`
	ImageSettings *ImageSettings `json:"image_settings,omitempty"`
}

type Debug struct {
	IntentDetected types.Intent             `json:"intent_detected"`
	RAGCountUsed   int                      `json:"rag_count_used"`
	ContextChunks  int                      `json:"context_chunks"`
	AllResponses   []chorus.ResponderResult `json:"all_responses,omitempty"`
	// Votes and VoteCounts are null when no evaluation took place.
	Votes       []chorus.Vote `json:"votes"`
	VoteCounts  map[int]int   `json:"vote_counts"`
	WinnerIndex *int          `json:"winner_index,omitempty"`
	Status      string        `json:"status"`
	Error       string        `json:"error,omitempty"`
}

type Response struct {
	Response       string          `json:"response"`
	Intent         types.Intent    `json:"intent"`
	RAGCountUsed   int             `json:"rag_count_used"`
	Debug          Debug           `json:"debug"`
	Images         []ImageMatch    `json:"images,omitempty"`
	Chart          *chart.Spec     `json:"chart,omitempty"`
	GeneratedImage *GeneratedImage `json:"generated_image,omitempty"`
	HistoryID      int64           `json:"history_id"`
}

type Classifier interface {
	Classify(ctx context.Context, message string) types.Intent
}

type Runner interface {
	Run(ctx context.Context, query, contextText string, responders, evaluators []types.ModelRef, observe chorus.Observer) (*chorus.Result, error)
}

type Charter interface {
	Generate(ctx context.Context, query, contextText string) (*chart.Spec, error)
	Explain(ctx context.Context, query string, spec *chart.Spec) (string, error)
}

type HistoryWriter interface {
	AppendHistory(ctx context.Context, e *store.HistoryEntry) error
}

type FileLister interface {
	ListFiles(ctx context.Context, datasetID int64) ([]store.DatasetFile, error)
}

type Blobs interface {
	ReadUpload(name string) ([]byte, error)
	SaveGenerated(data []byte, mime string) (string, error)
}

type Options struct {
	Classifier Classifier
	Retriever  retrieval.Retriever
	Runner     Runner
	Charter    Charter
	Images     provider.ImageGenerator
	History    HistoryWriter
	Files      FileLister
	Blobs      Blobs
	Settings   func() config.ChatConfig
	Metrics    *telemetry.Metrics
	Logger     *slog.Logger
}

type Service struct {
	classifier Classifier
	retriever  retrieval.Retriever
	runner     Runner
	charter    Charter
	images     provider.ImageGenerator
	history    HistoryWriter
	files      FileLister
	blobs      Blobs
	settings   func() config.ChatConfig
	metrics    *telemetry.Metrics
	logger     *slog.Logger
}

func NewService(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		classifier: opts.Classifier,
		retriever:  opts.Retriever,
		runner:     opts.Runner,
		charter:    opts.Charter,
		images:     opts.Images,
		history:    opts.History,
		files:      opts.Files,
		blobs:      opts.Blobs,
		settings:   opts.Settings,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
	}
}

// Chat answers one message. Handled failures still return a Response and a history row;
// the only error without a history row is chorus.ErrAllRespondersFailed (or a storage failure).
func (s *Service) Chat(ctx context.Context, bot Bot, req Request, observe chorus.Observer) (*Response, error) {
	start := time.Now()
	if observe == nil {
		observe = func(chorus.Event) {}
	}

	intent := s.classifier.Classify(ctx, req.Message)
	observe(chorus.Event{Stage: StageIntent, Message: fmt.Sprintf("Detected intent: %s", intent)})

	ragCount := bot.RAGCount
	if ragCount <= 0 {
		ragCount = store.DefaultRAGCount
	}
	if req.RAGCount != nil && *req.RAGCount >= 0 {
		ragCount = *req.RAGCount
	}

	resp := &Response{
		Intent:       intent,
		RAGCountUsed: ragCount,
		Debug: Debug{
			IntentDetected: intent,
			RAGCountUsed:   ragCount,
			Status:         StatusOK,
		},
	}

	var err error
	switch intent {
	case types.IntentFindImage:
		s.findImage(ctx, bot, req, resp)
	case types.IntentGenerateChart:
		s.generateChart(ctx, bot, req, resp)
	case types.IntentGenerateImage:
		s.generateImage(ctx, bot, req, resp)
	default:
		err = s.answer(ctx, bot, req, resp, observe)
	}
	if err != nil {
		s.recordChat(intent, "failed", start)
		return nil, err
	}

	entry := &store.HistoryEntry{BotID: bot.ID, UserMessage: req.Message, BotResponse: resp.Response, Intent: intent}
	if err := s.history.AppendHistory(ctx, entry); err != nil {
		s.recordChat(intent, "failed", start)
		return nil, fmt.Errorf("record chat turn: %w", err)
	}
	resp.HistoryID = entry.ID

	s.recordChat(intent, resp.Debug.Status, start)
	s.logger.Info("chat turn completed",
		"bot_id", bot.ID,
		"intent", intent,
		"status", resp.Debug.Status,
		"rag_count", ragCount,
		"context_chunks", resp.Debug.ContextChunks,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

func (s *Service) recordChat(intent types.Intent, status string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordChat(string(intent), status, float64(time.Since(start).Milliseconds()))
	}
}

// retrieve returns nil for bots without a dataset. Retrieval failures degrade to no context.
func (s *Service) retrieve(ctx context.Context, bot Bot, query string, n int) []retrieval.Passage {
	if !bot.HasDataset() || n <= 0 {
		return nil
	}
	passages, err := s.retriever.Query(ctx, bot.Collection, query, n)
	if err != nil {
		s.logger.Warn("retrieval failed, continuing without context",
			"bot_id", bot.ID, "collection", bot.Collection, "error", err)
		return nil
	}
	if s.metrics != nil {
		s.metrics.RecordRetrieval(len(passages))
	}
	return passages
}

func (s *Service) answer(ctx context.Context, bot Bot, req Request, resp *Response, observe chorus.Observer) error {
	passages := s.retrieve(ctx, bot, req.Message, resp.RAGCountUsed)
	resp.Debug.ContextChunks = len(passages)

	result, err := s.runner.Run(ctx, req.Message, AssembleContext(bot.Instructions, passages),
		bot.Chorus.Responders, bot.Chorus.Evaluators, observe)
	if err != nil {
		return fmt.Errorf("answer for bot %d: %w", bot.ID, err)
	}

	resp.Response = result.FinalResponse
	resp.Debug.AllResponses = result.Responses
	resp.Debug.Votes = result.Votes
	resp.Debug.VoteCounts = result.VoteCounts
	winner := result.WinnerIndex
	resp.Debug.WinnerIndex = &winner
	return nil
}

// fail marks resp as a handled failure shown to the user as message.
func (s *Service) fail(resp *Response, message string, err error) {
	resp.Response = message
	resp.Debug.Status = StatusError
	if err != nil {
		resp.Debug.Error = err.Error()
	}
}

func (s *Service) generateChart(ctx context.Context, bot Bot, req Request, resp *Response) {
	passages := s.retrieve(ctx, bot, req.Message, resp.RAGCountUsed)
	resp.Debug.ContextChunks = len(passages)

	spec, err := s.charter.Generate(ctx, req.Message, FormatPassages(passages))
	if err != nil {
		s.logger.Warn("chart generation failed", "bot_id", bot.ID, "error", err)
		var perr *chart.SpecParseError
		if errors.As(err, &perr) {
			s.fail(resp, "I couldn't find data in this dataset that I could turn into a chart. Try asking about specific numeric values.", err)
		} else {
			s.fail(resp, "Sorry, I ran into a problem while generating the chart. Please try again.", err)
		}
		return
	}
	resp.Chart = spec

	explanation, err := s.charter.Explain(ctx, req.Message, spec)
	if err != nil || explanation == "" {
		s.logger.Warn("chart explanation failed", "bot_id", bot.ID, "error", err)
		explanation = fmt.Sprintf("Here is a %s chart of %s.", spec.ChartType, spec.Title)
	}
	resp.Response = explanation
}
