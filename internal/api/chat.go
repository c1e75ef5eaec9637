package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/af-corp/chorus/internal/auth"
	"github.com/af-corp/chorus/internal/chat"
	"github.com/af-corp/chorus/internal/chorus"
	"github.com/af-corp/chorus/internal/filter"
	"github.com/af-corp/chorus/internal/httputil"
	"github.com/af-corp/chorus/internal/provider"
	"github.com/af-corp/chorus/internal/ratelimit"
	"github.com/af-corp/chorus/internal/store"
)

// turnError is a chat turn rejected before or during processing. write renders it as JSON.
type turnError struct {
	write   func(w http.ResponseWriter, requestID, message string)
	message string
}

func (e *turnError) Error() string { return e.message }

var errNoChorusModel = errors.New("bot has no chorus model configured")

// loadBot resolves everything a chat turn needs about the bot. A dataset that has since
// been deleted leaves the bot without context rather than failing the turn.
func (h *Handler) loadBot(ctx context.Context, botID int64) (chat.Bot, error) {
	b, err := h.catalog.GetBot(ctx, botID)
	if err != nil {
		return chat.Bot{}, err
	}
	m, err := h.models.GetChorusModel(ctx, b.ChorusModelID)
	if errors.Is(err, store.ErrNotFound) {
		return chat.Bot{}, fmt.Errorf("bot %d references chorus model %d: %w", botID, b.ChorusModelID, errNoChorusModel)
	}
	if err != nil {
		return chat.Bot{}, fmt.Errorf("load chorus model of bot %d: %w", botID, err)
	}

	bot := chat.Bot{ID: b.ID, Instructions: b.Instructions, RAGCount: b.RAGCount, Chorus: m.Config}
	if b.DatasetID != nil {
		d, err := h.catalog.GetDataset(ctx, *b.DatasetID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			h.logger.Warn("bot dataset missing, answering without context", "bot_id", botID, "dataset_id", *b.DatasetID)
		case err != nil:
			return chat.Bot{}, err
		default:
			bot.DatasetID, bot.Collection = d.ID, d.CollectionID
		}
	}
	return bot, nil
}

// screen runs the content filters and the daily quota check.
func (h *Handler) screen(ctx context.Context, reqID string, bot chat.Bot, message string) *turnError {
	info, _ := auth.AuthFromContext(ctx)
	subject := auth.Subject(ctx)

	if h.filters != nil {
		in := &filter.Input{
			Subject:    subject,
			BotID:      bot.ID,
			HasDataset: bot.HasDataset(),
			Message:    message,
		}
		if info != nil {
			in.AllowedProviders = info.AllowedProviders
		}
		for _, p := range bot.Chorus.Providers() {
			in.Providers = append(in.Providers, string(p))
		}
		for _, ref := range slices.Concat(bot.Chorus.Responders, bot.Chorus.Evaluators) {
			in.Models = append(in.Models, ref.Model)
		}

		results, blocked := h.filters.Run(ctx, in)
		for _, fr := range results {
			if fr.Action == filter.ActionFlag {
				h.recordFilter(fr)
				h.logger.Warn("chat message flagged", "request_id", reqID, "filter", fr.FilterName, "score", fr.Score)
			}
		}
		if blocked != nil {
			h.recordFilter(*blocked)
			h.logger.Warn("chat message blocked by filter",
				"request_id", reqID,
				"filter", blocked.FilterName,
				"detections", blocked.Detections,
				"score", blocked.Score,
				"bot_id", bot.ID,
				"subject", subject,
			)
			return &turnError{httputil.WriteContentBlockedError, blocked.Message}
		}
	}

	if h.quota != nil {
		limit := ratelimit.DailyCallLimit(info, h.cfg().RateLimit)
		q, err := h.quota.Check(ctx, subject, limit)
		if err != nil {
			h.logger.Warn("quota check failed, allowing request", "request_id", reqID, "subject", subject, "error", err)
		}
		if !q.Allowed {
			if h.metrics != nil {
				h.metrics.RecordRateLimitHit("daily_calls")
			}
			h.logger.Warn("daily model call quota exhausted", "request_id", reqID, "subject", subject, "used", q.Used, "limit", q.Limit)
			return &turnError{httputil.WriteQuotaExceededError,
				fmt.Sprintf("Daily model call quota of %d exhausted. It resets at 00:00 UTC", q.Limit)}
		}
	}
	return nil
}

func (h *Handler) recordFilter(r filter.Result) {
	if h.metrics != nil {
		h.metrics.RecordFilterAction(r.FilterName, string(r.Action))
	}
}

// prepare parses and screens a chat request. On failure it has already written the response.
func (h *Handler) prepare(w http.ResponseWriter, r *http.Request) (chat.Bot, chat.Request, bool) {
	reqID := requestID(w)
	botID, ok := idParam(w, r, "botID")
	if !ok {
		return chat.Bot{}, chat.Request{}, false
	}
	var req chat.Request
	if !decode(w, r, &req) {
		return chat.Bot{}, chat.Request{}, false
	}
	if strings.TrimSpace(req.Message) == "" {
		httputil.WriteBadRequestError(w, reqID, "message is required")
		return chat.Bot{}, chat.Request{}, false
	}

	bot, err := h.loadBot(r.Context(), botID)
	if errors.Is(err, errNoChorusModel) {
		h.logger.Warn("chat with bot lacking a chorus model", "request_id", reqID, "bot_id", botID, "error", err)
		httputil.WriteBadRequestError(w, reqID, "Bot has no Chorus model configured")
		return chat.Bot{}, chat.Request{}, false
	}
	if err != nil {
		h.writeStoreError(w, err, "Bot not found")
		return chat.Bot{}, chat.Request{}, false
	}
	if terr := h.screen(r.Context(), reqID, bot, req.Message); terr != nil {
		terr.write(w, reqID, terr.message)
		return chat.Bot{}, chat.Request{}, false
	}
	return bot, req, true
}

// run executes the turn and charges every model call it made to the caller's daily quota,
// failed turns included.
func (h *Handler) run(ctx context.Context, reqID string, bot chat.Bot, req chat.Request, observe chorus.Observer) (*chat.Response, error) {
	ctx, calls := provider.WithCallCounter(ctx)
	subject := auth.Subject(ctx)
	defer func() {
		if h.quota == nil {
			return
		}
		n := calls.Load()
		if err := h.quota.Record(context.WithoutCancel(ctx), subject, n); err != nil {
			h.logger.Warn("charging model calls failed", "request_id", reqID, "subject", subject, "calls", n, "error", err)
		}
	}()
	return h.chat.Chat(ctx, bot, req, observe)
}

// turnFailure classifies an error from chat.Service.Chat.
func (h *Handler) turnFailure(reqID string, botID int64, err error) *turnError {
	if errors.Is(err, chorus.ErrAllRespondersFailed) {
		h.logger.Error("all responders failed", "request_id", reqID, "bot_id", botID, "error", err)
		return &turnError{httputil.WriteAllRespondersFailedError, "All responder models failed to answer. Please try again later."}
	}
	h.logger.Error("chat turn failed", "request_id", reqID, "bot_id", botID, "error", err)
	return &turnError{httputil.WriteInternalError, "Chat request failed"}
}

// Chat handles POST /api/bots/{botID}/chat.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(w)
	start := time.Now()
	bot, req, ok := h.prepare(w, r)
	if !ok {
		return
	}

	resp, err := h.run(r.Context(), reqID, bot, req, nil)
	if err != nil {
		terr := h.turnFailure(reqID, bot.ID, err)
		terr.write(w, reqID, terr.message)
		return
	}

	h.logger.Info("request completed",
		"request_id", reqID,
		"bot_id", bot.ID,
		"intent", resp.Intent,
		"status", resp.Debug.Status,
		"duration_ms", time.Since(start).Milliseconds(),
		"stream", false,
	)
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// ChatStream handles POST /api/bots/{botID}/chat/stream. Progress is sent as SSE "status"
// events, followed by one "result" or "error" event.
func (h *Handler) ChatStream(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(w)
	start := time.Now()
	bot, req, ok := h.prepare(w, r)
	if !ok {
		return
	}
	stream, err := newEventStream(w, reqID)
	if err != nil {
		httputil.WriteInternalError(w, reqID, "Streaming not supported")
		return
	}

	resp, err := h.run(r.Context(), reqID, bot, req, func(ev chorus.Event) {
		stream.send("status", ev)
	})
	if err != nil {
		terr := h.turnFailure(reqID, bot.ID, err)
		stream.send("error", httputil.APIErrorBody{Message: terr.message, Type: "chat_error", RequestID: reqID})
		return
	}
	stream.send("result", resp)

	h.logger.Info("request completed",
		"request_id", reqID,
		"bot_id", bot.ID,
		"intent", resp.Intent,
		"status", resp.Debug.Status,
		"duration_ms", time.Since(start).Milliseconds(),
		"stream", true,
		"dropped_events", stream.failed,
	)
}
