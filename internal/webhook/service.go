// Package webhook owns the endpoint lifecycle: it mints endpoints, routes
// captures through the engine, and keeps live viewers and the event mirror in
// step with clears, deletes and expiry.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/PipeOpsHQ/pipehook/internal/admin"
	"github.com/PipeOpsHQ/pipehook/internal/capture"
	"github.com/PipeOpsHQ/pipehook/internal/events"
	"github.com/PipeOpsHQ/pipehook/internal/hub"
	"github.com/PipeOpsHQ/pipehook/internal/idgen"
	"github.com/PipeOpsHQ/pipehook/internal/store"
)

// DefaultReapInterval is how often expired endpoints are swept.
const DefaultReapInterval = time.Minute

type Service struct {
	store     store.Store
	hub       *hub.Hub
	engine    *capture.Engine
	newID     idgen.Generator
	publisher events.Publisher
	metrics   *admin.Metrics
	logger    zerolog.Logger

	engineOpts []capture.Option

	reaperStop chan struct{}
	reaperDone chan struct{}
}

type Option func(*Service)

// WithGenerator replaces the endpoint id generator.
func WithGenerator(g idgen.Generator) Option {
	return func(s *Service) {
		if g != nil {
			s.newID = g
		}
	}
}

// WithPublisher mirrors lifecycle events to p.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

func WithMetrics(m *admin.Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithCaptureOptions passes options through to the capture engine.
func WithCaptureOptions(opts ...capture.Option) Option {
	return func(s *Service) { s.engineOpts = append(s.engineOpts, opts...) }
}

func NewService(st store.Store, h *hub.Hub, opts ...Option) *Service {
	s := &Service{
		store:     st,
		hub:       h,
		newID:     idgen.Generate,
		publisher: &events.NoopPublisher{},
		metrics:   admin.NewMetrics(),
		logger:    log.With().Str("component", "webhook").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	engineOpts := append([]capture.Option{
		capture.WithEvictionHook(func(_ string, n int) { s.metrics.AddEvicted(n) }),
	}, s.engineOpts...)
	s.engine = capture.New(st, h, engineOpts...)
	return s
}

// Metrics returns the counters the service updates.
func (s *Service) Metrics() *admin.Metrics { return s.metrics }

// Create mints a new endpoint. A generator collision is retried once.
func (s *Service) Create(ctx context.Context) (*store.Endpoint, error) {
	var (
		ep  *store.Endpoint
		err error
	)
	for attempt := 0; attempt < 2; attempt++ {
		var id string
		id, err = s.newID()
		if err != nil {
			return nil, fmt.Errorf("create endpoint: %w", err)
		}
		ep, err = s.store.Create(ctx, id)
		if !errors.Is(err, store.ErrExists) {
			break
		}
		s.logger.Warn().Str("endpoint_id", id).Msg("endpoint id collision, retrying")
	}
	if err != nil {
		return nil, fmt.Errorf("create endpoint: %w", err)
	}

	// The id may have belonged to an expired endpoint the reaper had not
	// reached yet; its viewers must not carry over.
	if s.hub.Count(ep.ID) > 0 {
		s.expire(ctx, ep.ID)
	}

	s.metrics.IncEndpointsCreated()
	s.logger.Info().Str("endpoint_id", ep.ID).Time("expires_at", ep.ExpiresAt).Msg("endpoint created")
	s.publish(ctx, events.TopicEndpointCreated, events.EndpointCreated{
		EndpointID: ep.ID,
		CreatedAt:  ep.CreatedAt,
		ExpiresAt:  ep.ExpiresAt,
	})
	return ep, nil
}

func (s *Service) Get(ctx context.Context, id string) (*store.Endpoint, error) {
	return s.store.Get(ctx, id)
}

// Capture records one inbound request. Missing or expired endpoints yield
// store.ErrNotFound.
func (s *Service) Capture(ctx context.Context, id string, in capture.Inbound) (*store.CapturedRequest, error) {
	start := time.Now()
	rec, err := s.engine.Capture(ctx, id, in)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.metrics.IncCapturesNotFound()
		}
		return nil, err
	}
	s.metrics.IncCapture(id)
	s.metrics.ObserveCapture(time.Since(start).Seconds())

	s.logger.Debug().
		Str("endpoint_id", id).
		Str("request_id", rec.ID).
		Str("method", rec.Method).
		Str("source_ip", rec.SourceIP).
		Int64("content_length", rec.ContentLength).
		Msg("request captured")
	s.publish(ctx, events.TopicRequestCaptured, events.RequestCaptured{EndpointID: id, Request: rec})
	return rec, nil
}

// Clear empties the history and tells viewers about it.
func (s *Service) Clear(ctx context.Context, id string) error {
	if err := s.store.Clear(ctx, id); err != nil {
		return err
	}
	s.hub.Publish(id, hub.Event{Type: hub.EventHistoryCleared})
	s.metrics.IncClears()
	s.logger.Info().Str("endpoint_id", id).Msg("history cleared")
	s.publish(ctx, events.TopicHistoryCleared, events.HistoryCleared{EndpointID: id})
	return nil
}

// Delete removes the endpoint and ends every live viewer with a gone event.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.store.Get(ctx, id); err != nil {
		return err
	}
	// Store first: a Subscribe racing this call either fails its recheck or
	// is already registered and gets closed below.
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.hub.CloseEndpoint(id, hub.Event{Type: hub.EventGone})
	s.metrics.EndpointGone(id, false)
	s.logger.Info().Str("endpoint_id", id).Msg("endpoint deleted")
	s.publish(ctx, events.TopicEndpointDeleted, events.EndpointDeleted{EndpointID: id})
	return nil
}

// Subscribe attaches a viewer to a live endpoint.
func (s *Service) Subscribe(ctx context.Context, id string) (*hub.Subscription, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	sub := s.hub.Subscribe(id)
	// The endpoint may have been deleted between the check and the register.
	if _, err := s.store.Get(ctx, id); err != nil {
		s.hub.Unsubscribe(sub)
		return nil, err
	}
	return sub, nil
}

func (s *Service) Unsubscribe(sub *hub.Subscription) {
	s.hub.Unsubscribe(sub)
}

// Stats is a point-in-time view of the service.
type Stats struct {
	Endpoints        *int   `json:"endpoints,omitempty"`
	Subscribers      int    `json:"subscribers"`
	WatchedEndpoints int    `json:"watchedEndpoints"`
	Dropped          uint64 `json:"dropped"`
	Captures         uint64 `json:"captures"`
}

func (s *Service) Stats(ctx context.Context) Stats {
	st := Stats{
		Subscribers:      s.hub.Total(),
		WatchedEndpoints: s.hub.Endpoints(),
		Dropped:          s.hub.Dropped(),
	}
	if counter, ok := s.store.(store.Counter); ok {
		if n, err := counter.Count(ctx); err == nil {
			st.Endpoints = &n
		} else {
			s.logger.Warn().Err(err).Msg("count endpoints")
		}
	}
	s.metrics.Lock()
	st.Captures = s.metrics.Captures
	s.metrics.Unlock()
	return st
}

// Gauges reads the live values rendered next to the counters on /metrics.
func (s *Service) Gauges(ctx context.Context) admin.Gauges {
	st := s.Stats(ctx)
	g := admin.Gauges{
		Subscribers:      st.Subscribers,
		WatchedEndpoints: st.WatchedEndpoints,
		DroppedViewers:   st.Dropped,
	}
	if st.Endpoints != nil {
		g.StoredEndpoints = *st.Endpoints
		g.StoredEndpointsOK = true
	}
	return g
}

// StartReaper launches a background goroutine that periodically removes
// expired endpoints and closes their viewers. Call Stop() to shut it down.
func (s *Service) StartReaper(interval time.Duration) {
	if s.reaperStop != nil {
		return
	}
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	s.reaperStop = make(chan struct{})
	s.reaperDone = make(chan struct{})
	go s.reapLoop(interval)
	s.logger.Info().Dur("interval", interval).Msg("reaper started")
}

// Stop shuts down the reaper goroutine.
func (s *Service) Stop() {
	if s.reaperStop != nil {
		close(s.reaperStop)
		<-s.reaperDone
		s.reaperStop = nil
		s.reaperDone = nil
	}
}

func (s *Service) reapLoop(interval time.Duration) {
	defer close(s.reaperDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.reaperStop:
			return
		case <-ticker.C:
			s.Reap(context.Background())
		}
	}
}

// Reap runs one sweep and returns the ids it removed.
func (s *Service) Reap(ctx context.Context) []string {
	ids, err := s.store.Reap(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("reap expired endpoints")
		return nil
	}
	for _, id := range ids {
		s.expire(ctx, id)
	}
	if len(ids) > 0 {
		s.logger.Info().Int("count", len(ids)).Msg("expired endpoints reaped")
	}
	return ids
}

func (s *Service) expire(ctx context.Context, id string) {
	s.hub.CloseEndpoint(id, hub.Event{Type: hub.EventGone})
	s.metrics.EndpointGone(id, true)
	s.publish(ctx, events.TopicEndpointExpired, events.EndpointExpired{EndpointID: id})
}

func (s *Service) publish(ctx context.Context, topic string, event any) {
	if err := s.publisher.Publish(ctx, topic, event); err != nil {
		s.metrics.IncPublishErrors()
		s.logger.Warn().Err(err).Str("topic", topic).Msg("event publish failed")
	}
}
