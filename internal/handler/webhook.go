package handler

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	goerrors "github.com/goliatone/go-errors"

	"github.com/PipeOpsHQ/pipehook/internal/capture"
)

// CaptureResponse acknowledges a captured request.
type CaptureResponse struct {
	Received  bool      `json:"received"`
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *Handler) CaptureWebhook(w http.ResponseWriter, r *http.Request) {
	endpointID := chi.URLParam(r, "endpointID")

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, r, httpError("request body exceeds limit", goerrors.CategoryBadInput, http.StatusRequestEntityTooLarge, CodeBodyTooLarge))
			return
		}
		h.writeError(w, r, httpError("failed to read body", goerrors.CategoryBadInput, http.StatusBadRequest, CodeBadRequest))
		return
	}

	params := map[string]string{"endpointId": endpointID}
	if rest := chi.URLParam(r, "*"); rest != "" {
		params["path"] = "/" + rest
	}

	header := r.Header.Clone()
	if r.Host != "" {
		header.Set("Host", r.Host)
	}

	rec, err := h.Service.Capture(r.Context(), endpointID, capture.Inbound{
		Method:        r.Method,
		Header:        header,
		Body:          body,
		RawQuery:      r.URL.RawQuery,
		RouteParams:   params,
		RemoteAddr:    r.RemoteAddr,
		ContentLength: r.ContentLength,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, CaptureResponse{
		Received:  true,
		ID:        rec.ID,
		Timestamp: rec.Timestamp,
	})
}
