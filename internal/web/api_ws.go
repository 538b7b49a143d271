package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait      = 10 * time.Second
	wsMaxMessageSize = 8 << 10
)

// wsAnswer is a client message on the WebSocket.
type wsAnswer struct {
	Value *string `json:"value"`
}

// handleWebSocket streams a run's output over a WebSocket and accepts
// answers on the same connection.
//
// Server messages are wireEvent JSON objects; answers are acknowledged with
// type "ack" or rejected with type "rejected". The server closes the
// connection after a finished or error event.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	name, ok := h.pathConfig(w, r, false)
	if !ok {
		return
	}
	from, err := streamCursor(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	// Resolve before upgrading so unknown runs get a plain 404.
	if _, err := h.runs.Status(name); err != nil {
		writeDomainError(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		slog.Debug("websocket upgrade failed", "session", name, "err", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, err := h.runs.Subscribe(ctx, name, from)
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()))
		return
	}

	replies := make(chan wireEvent, 4)
	go h.readAnswers(ctx, cancel, conn, name, replies)

	ping := time.NewTicker(h.keepalive)
	defer ping.Stop()

	write := func(v wireEvent) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(v) == nil
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case reply := <-replies:
			if !write(reply) {
				return
			}
		case e, ok := <-events:
			if !ok {
				return
			}
			if !write(toWire(e)) {
				return
			}
			if e.Terminal() {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, e.Text),
					time.Now().Add(wsWriteWait))
				return
			}
		}
	}
}

// readAnswers relays answers from the client until the connection closes.
// Replies go through the writer loop; gorilla connections allow only one
// concurrent writer.
func (h *Handler) readAnswers(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, name string, replies chan<- wireEvent) {
	defer cancel()

	conn.SetReadLimit(wsMaxMessageSize)
	readWait := 2 * h.keepalive
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				!errors.Is(err, context.Canceled) {
				slog.Debug("websocket read", "session", name, "err", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))

		reply := wireEvent{Type: "ack", SessionID: name}
		var msg wsAnswer
		switch err := json.Unmarshal(data, &msg); {
		case err != nil || msg.Value == nil:
			reply.Type, reply.Text = "rejected", "invalid or missing input value"
		default:
			value, verr := validateAnswer(*msg.Value)
			if verr != nil {
				reply.Type, reply.Text = "rejected", verr.Error()
				break
			}
			if _, serr := h.runs.SendInput(name, value); serr != nil {
				reply.Type, reply.Text = "rejected", serr.Error()
			}
		}

		select {
		case replies <- reply:
		case <-ctx.Done():
			return
		}
	}
}
