package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/af-corp/chorus/internal/httputil"
)

// Router mounts every endpoint. Health is public at /health and /api/health; protect wraps
// the rest of the /api group (authentication, rate limiting) and is applied in order.
func (h *Handler) Router(protect ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestID)

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Group(func(r chi.Router) {
			r.Use(protect...)

			r.Route("/datasets", func(r chi.Router) {
				r.Post("/", h.CreateDataset)
				r.Get("/", h.ListDatasets)
				r.Get("/{datasetID}", h.GetDataset)
				r.Delete("/{datasetID}", h.DeleteDataset)
				r.Post("/{datasetID}/upload", h.Upload)
				r.Get("/{datasetID}/files/{fileID}", h.FileContent)
				r.Delete("/{datasetID}/files/{fileID}", h.DeleteFile)
				r.Get("/{datasetID}/files/{fileID}/image", h.FileImage)
			})

			r.Route("/chorus-models", func(r chi.Router) {
				r.Post("/", h.CreateChorusModel)
				r.Get("/", h.ListChorusModels)
				r.Get("/{modelID}", h.GetChorusModel)
				r.Delete("/{modelID}", h.DeleteChorusModel)
			})

			r.Route("/bots", func(r chi.Router) {
				r.Post("/", h.CreateBot)
				r.Get("/", h.ListBots)
				r.Get("/{botID}", h.GetBot)
				r.Delete("/{botID}", h.DeleteBot)
				r.Get("/{botID}/history", h.History)
				r.Post("/{botID}/chat", h.Chat)
				r.Post("/{botID}/chat/stream", h.ChatStream)
			})

			r.Get("/generated/{name}", h.GeneratedImage)
		})
	})
	return r
}

type contextKey string

const requestIDKey contextKey = "request_id"

// RequestID echoes the caller's X-Request-ID or assigns one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", reqID)
		ctx := context.WithValue(r.Context(), requestIDKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func generateRequestID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("req_%d_%s", time.Now().UnixMilli(), hex.EncodeToString(b))
}

const maxJSONBody = 1 << 20

// decode reads a JSON body into v, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(v); err != nil {
		httputil.WriteBadRequestError(w, requestID(w), "Invalid JSON: "+err.Error())
		return false
	}
	return true
}
