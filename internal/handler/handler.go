package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/PipeOpsHQ/pipehook/internal/config"
	"github.com/PipeOpsHQ/pipehook/internal/hub"
	"github.com/PipeOpsHQ/pipehook/internal/logging"
	"github.com/PipeOpsHQ/pipehook/internal/webhook"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Viewers are not authenticated; any origin may watch an endpoint it knows.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Handler struct {
	Service *webhook.Service

	publicURL    string
	maxBodyBytes int64
	heartbeat    time.Duration
	storeDriver  string
	varz         any
	logger       zerolog.Logger
}

type Option func(*Handler)

// WithPublicURL fixes the base used for endpoint URLs instead of deriving it
// from each request.
func WithPublicURL(base string) Option {
	return func(h *Handler) { h.publicURL = base }
}

func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// WithHeartbeat should match the hub heartbeat; it bounds how long a
// WebSocket may go without a pong.
func WithHeartbeat(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.heartbeat = d
		}
	}
}

func WithStoreDriver(driver string) Option {
	return func(h *Handler) { h.storeDriver = driver }
}

// WithVarz exposes v as JSON on /varz.
func WithVarz(v any) Option {
	return func(h *Handler) { h.varz = v }
}

func WithLogger(l zerolog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

func NewHandler(svc *webhook.Service, opts ...Option) *Handler {
	h := &Handler{
		Service:      svc,
		maxBodyBytes: config.DefaultMaxBodyBytes,
		heartbeat:    hub.DefaultHeartbeat,
		storeDriver:  config.DriverMemory,
		logger:       log.With().Str("component", "http").Logger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes builds the router serving the API, live channels and capture URLs.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logging.RequestLogger(h.logger, "/h/"))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)
	r.Get("/metrics", h.Metrics)
	if h.varz != nil {
		r.Get("/varz", h.Varz)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/generate", h.CreateEndpoint)
		r.Get("/stats", h.Stats)
		r.Route("/webhook/{endpointID}", func(r chi.Router) {
			r.Get("/", h.GetEndpoint)
			r.Delete("/", h.DeleteEndpoint)
			r.Delete("/requests", h.ClearEndpoint)
			r.Get("/sse", h.SSE)
			r.Get("/ws", h.WebSocket)
		})
	})

	// Webhook receiver
	r.HandleFunc("/h/{endpointID}", h.CaptureWebhook)
	r.HandleFunc("/h/{endpointID}/*", h.CaptureWebhook)

	return r
}
