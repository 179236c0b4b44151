package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// streamEvents implements GET /events: a long-lived SSE connection
// multiplexing broker envelopes with a heartbeat frame emitted every
// heartbeat_interval_seconds when no upstream frame has arrived, so a
// client connection is never left idle.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	inbox := s.evt.Subscribe()
	defer s.evt.Unsubscribe(inbox)

	interval := time.Duration(s.settings.HeartbeatIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-inbox.C():
			if env.IsStop() {
				return
			}
			if err := writeSSE(w, map[string]any{"event": env.Event, "data": env.Data}); err != nil {
				return
			}
			flusher.Flush()
			ticker.Reset(interval)
		case <-ticker.C:
			if err := writeSSE(w, map[string]any{"type": "heartbeat", "ts": time.Now().Unix()}); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
