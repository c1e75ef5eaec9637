package api

import (
	"net/http"
	"slices"
	"strings"

	"github.com/af-corp/chorus/internal/httputil"
	"github.com/af-corp/chorus/internal/types"
)

type createChorusModelRequest struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Responders  []types.ModelRef `json:"responder_llms"`
	Evaluators  []types.ModelRef `json:"evaluator_llms"`
}

// CreateChorusModel handles POST /api/chorus-models. Providers must belong to the known set;
// providers without credentials are accepted with a warning since config can be reloaded.
func (h *Handler) CreateChorusModel(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(w)
	var req createChorusModelRequest
	if !decode(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		httputil.WriteBadRequestError(w, reqID, "name is required")
		return
	}
	cfg := types.ChorusConfig{Responders: req.Responders, Evaluators: req.Evaluators}
	for i := range cfg.Responders {
		cfg.Responders[i].Provider = normalizeProvider(cfg.Responders[i].Provider)
	}
	for i := range cfg.Evaluators {
		cfg.Evaluators[i].Provider = normalizeProvider(cfg.Evaluators[i].Provider)
	}
	if err := cfg.Validate(); err != nil {
		httputil.WriteBadRequestError(w, reqID, err.Error())
		return
	}

	if h.providers != nil {
		configured := h.providers.Configured()
		for _, p := range cfg.Providers() {
			if !slices.Contains(configured, p) {
				h.logger.Warn("chorus model references unconfigured provider", "request_id", reqID, "provider", p)
			}
		}
	}

	m, err := h.catalog.CreateChorusModel(r.Context(), req.Name, req.Description, cfg)
	if err != nil {
		h.writeStoreError(w, err, "")
		return
	}
	h.logger.Info("chorus model created", "request_id", reqID, "model_id", m.ID,
		"responders", len(cfg.Responders), "evaluators", len(cfg.Evaluators))
	httputil.WriteJSON(w, http.StatusCreated, m)
}

func normalizeProvider(p types.Provider) types.Provider {
	if parsed, ok := types.ParseProvider(string(p)); ok {
		return parsed
	}
	return p
}

// ListChorusModels handles GET /api/chorus-models.
func (h *Handler) ListChorusModels(w http.ResponseWriter, r *http.Request) {
	ms, err := h.catalog.ListChorusModels(r.Context())
	if err != nil {
		h.writeStoreError(w, err, "")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ms)
}

// GetChorusModel handles GET /api/chorus-models/{modelID}.
func (h *Handler) GetChorusModel(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "modelID")
	if !ok {
		return
	}
	m, err := h.catalog.GetChorusModel(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err, "Chorus model not found")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, m)
}

// DeleteChorusModel handles DELETE /api/chorus-models/{modelID}. Models still used by a bot yield 409.
func (h *Handler) DeleteChorusModel(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "modelID")
	if !ok {
		return
	}
	if err := h.catalog.DeleteChorusModel(r.Context(), id); err != nil {
		h.writeStoreError(w, err, "Chorus model not found")
		return
	}
	h.models.Invalidate(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}
