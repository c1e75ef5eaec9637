package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/af-corp/chorus/internal/httputil"
	"github.com/af-corp/chorus/internal/store"
)

type createBotRequest struct {
	Name          string `json:"name"`
	Instructions  string `json:"instructions"`
	DatasetID     *int64 `json:"dataset_id"`
	ChorusModelID int64  `json:"chorus_model_id"`
	RAGCount      int    `json:"rag_results_count"`
}

// CreateBot handles POST /api/bots.
func (h *Handler) CreateBot(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(w)
	var req createBotRequest
	if !decode(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	switch {
	case req.Name == "":
		httputil.WriteBadRequestError(w, reqID, "name is required")
		return
	case strings.TrimSpace(req.Instructions) == "":
		httputil.WriteBadRequestError(w, reqID, "instructions are required")
		return
	case req.RAGCount < 0:
		httputil.WriteBadRequestError(w, reqID, "rag_results_count must not be negative")
		return
	}

	if _, err := h.catalog.GetChorusModel(r.Context(), req.ChorusModelID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.WriteBadRequestError(w, reqID, "chorus_model_id does not exist")
			return
		}
		h.writeStoreError(w, err, "")
		return
	}
	if req.DatasetID != nil {
		if _, err := h.catalog.GetDataset(r.Context(), *req.DatasetID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				httputil.WriteBadRequestError(w, reqID, "dataset_id does not exist")
				return
			}
			h.writeStoreError(w, err, "")
			return
		}
	}

	b := &store.Bot{
		Name:          req.Name,
		Instructions:  req.Instructions,
		DatasetID:     req.DatasetID,
		ChorusModelID: req.ChorusModelID,
		RAGCount:      req.RAGCount,
	}
	if b.RAGCount == 0 {
		b.RAGCount = h.cfg().Retrieval.DefaultRAGCount
	}
	if err := h.catalog.CreateBot(r.Context(), b); err != nil {
		h.writeStoreError(w, err, "")
		return
	}
	h.logger.Info("bot created", "request_id", reqID, "bot_id", b.ID, "chorus_model_id", b.ChorusModelID)
	httputil.WriteJSON(w, http.StatusCreated, b)
}

// ListBots handles GET /api/bots.
func (h *Handler) ListBots(w http.ResponseWriter, r *http.Request) {
	bots, err := h.catalog.ListBots(r.Context())
	if err != nil {
		h.writeStoreError(w, err, "")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, bots)
}

// GetBot handles GET /api/bots/{botID}.
func (h *Handler) GetBot(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "botID")
	if !ok {
		return
	}
	b, err := h.catalog.GetBot(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err, "Bot not found")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, b)
}

// DeleteBot handles DELETE /api/bots/{botID}, removing its history too.
func (h *Handler) DeleteBot(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "botID")
	if !ok {
		return
	}
	if err := h.catalog.DeleteBot(r.Context(), id); err != nil {
		h.writeStoreError(w, err, "Bot not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// History handles GET /api/bots/{botID}/history?limit=N, oldest turn first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "botID")
	if !ok {
		return
	}
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			httputil.WriteBadRequestError(w, requestID(w), "limit must be a positive integer")
			return
		}
		limit = min(n, 1000)
	}
	if _, err := h.catalog.GetBot(r.Context(), id); err != nil {
		h.writeStoreError(w, err, "Bot not found")
		return
	}
	entries, err := h.catalog.History(r.Context(), id, limit)
	if err != nil {
		h.writeStoreError(w, err, "")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entries)
}
