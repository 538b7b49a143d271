package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/x/ansi"

	"github.com/mdde/genesisweb/internal/stream"
)

// wireEvent is the JSON form of a stream event on SSE and WebSocket.
type wireEvent struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id"`
	Offset     int    `json:"offset"`
	Generation uint64 `json:"generation"`
	Text       string `json:"text"`
}

// eventType names the SSE event of e.
func eventType(e stream.Event) string {
	if e.IsMarker() {
		return string(e.Tag)
	}
	return "line"
}

// toWire converts e for clients. Control sequences are stripped from line
// text; the raw bytes stay in the buffer.
func toWire(e stream.Event) wireEvent {
	return wireEvent{
		Type:       eventType(e),
		SessionID:  e.SessionID,
		Offset:     e.Offset,
		Generation: e.Generation,
		Text:       ansi.Strip(e.Text),
	}
}

// eventID is the SSE id of e, "gen:offset". The offset is the number of
// lines the client has seen once it processed e, which is where it resumes.
func eventID(e stream.Event) string {
	offset := e.Offset
	if !e.IsMarker() {
		offset++
	}
	return fmt.Sprintf("%d:%d", e.Generation, offset)
}

// handleSSE streams a run's output as Server-Sent Events.
//
// The stream replays the buffer from the requested offset, then follows the
// live output. It ends after a finished or error event; clients should close
// their EventSource on those instead of letting it reconnect.
func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	name, ok := h.pathConfig(w, r, false)
	if !ok {
		return
	}
	from, err := streamCursor(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	events, err := h.runs.Subscribe(ctx, name, from)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Send initial connection event
	fmt.Fprintf(w, "event: connected\ndata: {\"session_id\":%q,\"offset\":%d}\n\n", name, from.Offset)
	flusher.Flush()

	// Send keepalive comment periodically to prevent proxy timeouts
	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		case e, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(toWire(e))
			if err != nil {
				continue
			}
			// Format: event: <type>\nid: <id>\ndata: <json>\n\n
			fmt.Fprintf(w, "event: %s\nid: %s\ndata: %s\n\n", eventType(e), eventID(e), data)
			flusher.Flush()
			if e.Terminal() {
				return
			}
		}
	}
}
