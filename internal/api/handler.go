// Package api exposes datasets, Chorus models, bots and chat over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/af-corp/chorus/internal/chat"
	"github.com/af-corp/chorus/internal/chorus"
	"github.com/af-corp/chorus/internal/config"
	"github.com/af-corp/chorus/internal/filter"
	"github.com/af-corp/chorus/internal/httputil"
	"github.com/af-corp/chorus/internal/provider"
	"github.com/af-corp/chorus/internal/ratelimit"
	"github.com/af-corp/chorus/internal/store"
	"github.com/af-corp/chorus/internal/telemetry"
	"github.com/af-corp/chorus/internal/types"
)

// Catalog is the persistent state behind the management endpoints.
type Catalog interface {
	CreateDataset(ctx context.Context, name, description string) (*store.Dataset, error)
	ListDatasets(ctx context.Context) ([]store.Dataset, error)
	GetDataset(ctx context.Context, id int64) (*store.Dataset, error)
	DeleteDataset(ctx context.Context, id int64) error
	AddFile(ctx context.Context, f *store.DatasetFile) error
	SetChunkCount(ctx context.Context, fileID int64, n int) error
	ListFiles(ctx context.Context, datasetID int64) ([]store.DatasetFile, error)
	GetFile(ctx context.Context, datasetID, fileID int64) (*store.DatasetFile, error)
	DeleteFile(ctx context.Context, datasetID, fileID int64) error

	CreateChorusModel(ctx context.Context, name, description string, cfg types.ChorusConfig) (*store.ChorusModel, error)
	ListChorusModels(ctx context.Context) ([]store.ChorusModel, error)
	GetChorusModel(ctx context.Context, id int64) (*store.ChorusModel, error)
	DeleteChorusModel(ctx context.Context, id int64) error

	CreateBot(ctx context.Context, b *store.Bot) error
	ListBots(ctx context.Context) ([]store.Bot, error)
	GetBot(ctx context.Context, id int64) (*store.Bot, error)
	DeleteBot(ctx context.Context, id int64) error
	History(ctx context.Context, botID int64, limit int) ([]store.HistoryEntry, error)
}

// ModelCache serves Chorus models on the chat path.
type ModelCache interface {
	GetChorusModel(ctx context.Context, id int64) (*store.ChorusModel, error)
	Invalidate(ctx context.Context, id int64)
}

type Chatter interface {
	Chat(ctx context.Context, bot chat.Bot, req chat.Request, observe chorus.Observer) (*chat.Response, error)
}

type Ingester interface {
	Ingest(ctx context.Context, collection, fileID, filename string, data []byte) (int, error)
}

// PassageIndex removes indexed passages when files or datasets go away.
type PassageIndex interface {
	DeleteFile(ctx context.Context, collection, fileID string) error
	DeleteCollection(ctx context.Context, collection string) error
}

type Blobs interface {
	SaveUpload(filename string, data []byte) (string, error)
	ReadUpload(name string) ([]byte, error)
	DeleteUpload(name string) error
	UploadPath(name string) (string, error)
	GeneratedPath(name string) (string, error)
}

type Quota interface {
	Check(ctx context.Context, subject string, limit int64) (ratelimit.QuotaResult, error)
	Record(ctx context.Context, subject string, calls int64) error
}

// Redactor strips secrets from uploaded text before it is indexed.
type Redactor interface {
	Enabled() bool
	Redact(text string) (string, int)
}

type Providers interface {
	Configured() []types.Provider
	Health() *provider.HealthTracker
}

type Options struct {
	Catalog   Catalog
	Models    ModelCache
	Chat      Chatter
	Ingester  Ingester
	Index     PassageIndex
	Blobs     Blobs
	Quota     Quota
	Filters   *filter.Chain
	Redactor  Redactor
	Providers Providers
	Config    func() *config.Config
	Metrics   *telemetry.Metrics
	Logger    *slog.Logger
	Version   string
}

// Handler holds dependencies for the HTTP handlers.
type Handler struct {
	catalog   Catalog
	models    ModelCache
	chat      Chatter
	ingester  Ingester
	index     PassageIndex
	blobs     Blobs
	quota     Quota
	filters   *filter.Chain
	redactor  Redactor
	providers Providers
	cfg       func() *config.Config
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	version   string
}

func NewHandler(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Models == nil {
		opts.Models = uncachedModels{opts.Catalog}
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &Handler{
		catalog:   opts.Catalog,
		models:    opts.Models,
		chat:      opts.Chat,
		ingester:  opts.Ingester,
		index:     opts.Index,
		blobs:     opts.Blobs,
		quota:     opts.Quota,
		filters:   opts.Filters,
		redactor:  opts.Redactor,
		providers: opts.Providers,
		cfg:       opts.Config,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		version:   opts.Version,
	}
}

type uncachedModels struct{ Catalog }

func (uncachedModels) Invalidate(context.Context, int64) {}

func requestID(w http.ResponseWriter) string {
	return w.Header().Get("X-Request-ID")
}

// idParam parses a positive integer path parameter, writing a 400 on failure.
func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httputil.WriteBadRequestError(w, requestID(w), "invalid "+name)
		return 0, false
	}
	return id, true
}

// writeStoreError maps store sentinels onto HTTP errors.
func (h *Handler) writeStoreError(w http.ResponseWriter, err error, notFound string) {
	reqID := requestID(w)
	switch {
	case errors.Is(err, store.ErrNotFound):
		httputil.WriteNotFoundError(w, reqID, notFound)
	case errors.Is(err, store.ErrConflict):
		httputil.WriteConflictError(w, reqID, err.Error())
	default:
		h.logger.Error("storage error", "request_id", reqID, "error", err)
		httputil.WriteInternalError(w, reqID, "Internal storage error")
	}
}
