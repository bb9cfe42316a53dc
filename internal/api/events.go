package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// sseBuffer is the per-client backlog depth before the bus starts dropping
// events for a slow subscriber, matching progress.Bus's own fan-out
// philosophy: a stalled client never backs up anyone else.
const sseBuffer = 64

// handleEvents streams every task's progress events as Server-Sent Events
// until the client disconnects. One event per line, JSON-encoded, named
// "progress".
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events, unsubscribe := s.mgr.Subscribe(sseBuffer)
	defer unsubscribe()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: progress\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
