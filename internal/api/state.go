package api

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const stateWriteTimeout = 5 * time.Second

// StateWS streams conversation views. Every current view is sent on
// connect, then each update as it happens. The client only listens.
func (h *Handler) StateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.Warn("Failed to accept state websocket", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := conn.CloseRead(r.Context())
	updates, unsubscribe := h.conv.Subscribe()
	defer unsubscribe()

	write := func(v any) error {
		wctx, cancel := context.WithTimeout(ctx, stateWriteTimeout)
		defer cancel()
		return wsjson.Write(wctx, conn, v)
	}

	for _, v := range h.conv.Views() {
		if err := write(v); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-updates:
			if !ok {
				return
			}
			if err := write(v); err != nil {
				h.logger.Debug("State websocket write failed", "error", err)
				return
			}
		}
	}
}
