package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/PipeOpsHQ/pipehook/internal/admin"
	"github.com/PipeOpsHQ/pipehook/internal/store"
)

// CreateEndpointResponse is returned by POST /api/generate.
type CreateEndpointResponse struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type successResponse struct {
	Success bool `json:"success"`
}

func (h *Handler) CreateEndpoint(w http.ResponseWriter, r *http.Request) {
	ep, err := h.Service.Create(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CreateEndpointResponse{
		ID:        ep.ID,
		URL:       h.baseURL(r) + "/h/" + ep.ID,
		CreatedAt: ep.CreatedAt,
		ExpiresAt: ep.ExpiresAt,
	})
}

func (h *Handler) GetEndpoint(w http.ResponseWriter, r *http.Request) {
	ep, err := h.Service.Get(r.Context(), chi.URLParam(r, "endpointID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if ep.Requests == nil {
		ep.Requests = []*store.CapturedRequest{}
	}
	writeJSON(w, http.StatusOK, ep)
}

func (h *Handler) ClearEndpoint(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Clear(r.Context(), chi.URLParam(r, "endpointID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *Handler) DeleteEndpoint(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Delete(r.Context(), chi.URLParam(r, "endpointID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Service.Stats(r.Context()))
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	admin.HandleHealth(w, h.storeDriver)
}

func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	admin.HandleMetrics(w, h.Service.Metrics(), h.Service.Gauges(r.Context()))
}

func (h *Handler) Varz(w http.ResponseWriter, _ *http.Request) {
	admin.HandleVarz(w, h.varz)
}

// baseURL is the configured public URL, or scheme and host of the request.
func (h *Handler) baseURL(r *http.Request) string {
	if h.publicURL != "" {
		return strings.TrimRight(h.publicURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme, _, _ = strings.Cut(proto, ",")
		scheme = strings.TrimSpace(scheme)
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return scheme + "://" + host
}
