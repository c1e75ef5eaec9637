package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
)

var errNoFlusher = errors.New("response writer cannot flush")

// eventStream writes server-sent events. send is safe for concurrent use.
type eventStream struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	reqID   string
	failed  int
}

func newEventStream(w http.ResponseWriter, reqID string) (*eventStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errNoFlusher
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &eventStream{w: w, flusher: flusher, reqID: reqID}, nil
}

func (s *eventStream) send(event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode stream event", "request_id", s.reqID, "event", event, "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		s.failed++
		return
	}
	s.flusher.Flush()
}
