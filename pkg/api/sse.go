package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/modelmux/modelmux/pkg/protocol"
)

// sseWriter serializes lifecycle events onto one Server-Sent Events
// connection, flushing after every event so deltas reach the client as they
// happen.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter prepares the response for streaming. Returns false when the
// underlying writer cannot flush (no streaming possible through it).
func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	// Disable proxy buffering; deltas must not pool in front of the client.
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, true
}

// WriteEvent emits one event frame. The event name doubles as the SSE event
// field so EventSource clients can subscribe per type.
func (s *sseWriter) WriteEvent(ev protocol.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Type, payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
