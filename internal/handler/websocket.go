package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/PipeOpsHQ/pipehook/internal/hub"
)

const wsWriteWait = 10 * time.Second

func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	endpointID := chi.URLParam(r, "endpointID")

	sub, err := h.Service.Subscribe(r.Context(), endpointID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer h.Service.Unsubscribe(sub)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("endpoint_id", endpointID).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// Viewers only listen; the read loop exists to process pongs and notice
	// the peer closing.
	readWait := 2*h.heartbeat + wsWriteWait
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})
	peerGone := make(chan struct{})
	go func() {
		defer close(peerGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
					h.logger.Debug().Err(err).Str("endpoint_id", endpointID).Msg("websocket read")
				}
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if ev.Type == hub.EventHeartbeat {
				err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			} else {
				err = conn.WriteJSON(ev)
			}
			if err != nil {
				h.logger.Debug().Err(err).Str("endpoint_id", endpointID).Msg("websocket viewer went away")
				return
			}
			if ev.Type == hub.EventGone {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "endpoint gone")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
				return
			}
		case <-peerGone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
