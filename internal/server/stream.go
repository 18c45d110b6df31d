package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/tidwall/gjson"
)

const (
	wsWriteWait      = 10 * time.Second
	wsMaxMessageSize = 512
)

// handleEvents streams notifications as server-sent events, one JSON
// object per data line, with periodic keep-alive comments.
func (h *handlers) handleEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	sub := h.fanout.Subscribe()
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := rc.Flush(); err != nil {
		h.logger.Warn("sse: streaming unsupported", slog.String("error", err.Error()))
		return
	}

	h.logger.Debug("sse: subscriber connected", slog.Int("subscribers", h.fanout.Len()))

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("sse: subscriber disconnected", slog.Uint64("dropped", sub.Dropped()))
			return

		case n, ok := <-sub.C():
			if !ok {
				return
			}

			data, err := json.Marshal(n)
			if err != nil {
				continue
			}

			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}

			if err := rc.Flush(); err != nil {
				return
			}

		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}

			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

type pongFrame struct {
	Type string `json:"type"`
}

// handleWebSocket streams the same JSON notifications over a WebSocket.
// The client may send {"op":"ping"}, answered with {"type":"pong"}.
func (h *handlers) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.CloseNow()

	conn.SetReadLimit(wsMaxMessageSize)

	sub := h.fanout.Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	pongs := make(chan struct{}, 1)

	go h.readFrames(ctx, cancel, conn, pongs)

	h.logger.Debug("ws: subscriber connected", slog.Int("subscribers", h.fanout.Len()))

	for {
		var frame any

		select {
		case <-ctx.Done():
			return

		case n, ok := <-sub.C():
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}

			frame = n

		case <-pongs:
			frame = pongFrame{Type: "pong"}
		}

		writeCtx, writeCancel := context.WithTimeout(ctx, wsWriteWait)
		err := wsjson.Write(writeCtx, conn, frame)
		writeCancel()

		if err != nil {
			h.logger.Debug("ws: write failed", slog.String("error", err.Error()))
			return
		}
	}
}

// readFrames handles client control frames until the connection closes,
// then cancels the writer.
func (h *handlers) readFrames(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, pongs chan<- struct{}) {
	defer cancel()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				h.logger.Debug("ws: read failed", slog.String("error", err.Error()))
			}

			return
		}

		if gjson.GetBytes(data, "op").String() == "ping" {
			select {
			case pongs <- struct{}{}:
			default:
			}
		}
	}
}
