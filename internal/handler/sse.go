package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	goerrors "github.com/goliatone/go-errors"

	"github.com/PipeOpsHQ/pipehook/internal/hub"
)

func (h *Handler) SSE(w http.ResponseWriter, r *http.Request) {
	endpointID := chi.URLParam(r, "endpointID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, r, httpError("streaming unsupported", goerrors.CategoryInternal, http.StatusInternalServerError, CodeInternal))
		return
	}

	sub, err := h.Service.Subscribe(r.Context(), endpointID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer h.Service.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := writeSSEEvent(w, ev); err != nil {
				h.logger.Debug().Err(err).Str("endpoint_id", endpointID).Msg("sse viewer went away")
				return
			}
			flusher.Flush()
			if ev.Type == hub.EventGone {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// writeSSEEvent frames ev as a data line; heartbeats become comment lines.
func writeSSEEvent(w http.ResponseWriter, ev hub.Event) error {
	if ev.Type == hub.EventHeartbeat {
		_, err := fmt.Fprint(w, ": keepalive\n\n")
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
