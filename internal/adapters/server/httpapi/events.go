package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hylla/tryck/internal/domain"
)

// keepAliveInterval paces SSE comment lines so idle proxies keep the
// connection open.
const keepAliveInterval = 15 * time.Second

// handleEventStream serves GET `/workspaces/{workspaceID}/events/stream` as
// server-sent events. Reconnecting clients resume from Last-Event-ID.
func (h *Handler) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, APIError{
			Code:    "internal_error",
			Message: "streaming unsupported",
		})
		return
	}
	workspaceID := chi.URLParam(r, "workspaceID")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Subscribe before replaying so events committed in between arrive on
	// the live channel; the replay high-water mark deduplicates the overlap.
	ch, cancel := h.hub.Subscribe()
	defer cancel()

	lastID := parseLastEventID(r.Header.Get("Last-Event-ID"))
	replayed := lastID
	for _, ev := range h.hub.ReplaySince(lastID) {
		if ev.ID > replayed {
			replayed = ev.ID
		}
		if ev.WorkspaceID != workspaceID {
			continue
		}
		if err := writeSSE(w, ev); err != nil {
			return
		}
	}
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.WorkspaceID != workspaceID || ev.ID <= replayed {
				continue
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			// SSE comment line as keep-alive.
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func parseLastEventID(v string) int64 {
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// writeSSE frames one change event. Payloads are single-line JSON so one
// data line suffices.
func writeSSE(w http.ResponseWriter, ev domain.ChangeEvent) error {
	data, err := json.Marshal(toEventResponse(ev))
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "id: %d\n", ev.ID); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", ev.Operation); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
