// Package hub fans out live endpoint events to subscribed viewers.
//
// Every subscription is a buffered channel with an explicit close signal.
// Publishing never blocks: a subscription that cannot accept an event is
// treated as a dead output and removed, so one slow viewer never holds up a
// capture or the other viewers.
package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/PipeOpsHQ/pipehook/internal/store"
)

const (
	DefaultBufferSize = 64
	DefaultHeartbeat  = 15 * time.Second
)

type EventType string

const (
	EventConnected       EventType = "connected"
	EventRequestCaptured EventType = "request-captured"
	EventHistoryCleared  EventType = "history-cleared"
	EventGone            EventType = "gone"
	EventHeartbeat       EventType = "heartbeat"
)

// Event is a tagged payload pushed to viewers.
type Event struct {
	Type       EventType              `json:"type"`
	EndpointID string                 `json:"endpointId,omitempty"`
	Request    *store.CapturedRequest `json:"request,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

type Hub struct {
	bufferSize int
	heartbeat  time.Duration
	now        func() time.Time

	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	closed bool

	dropped atomic.Uint64
}

type Option func(*Hub)

// WithBufferSize sets how many undelivered events a subscription may hold
// before it is considered dead.
func WithBufferSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.bufferSize = n
		}
	}
}

// WithHeartbeat sets the keepalive interval of every subscription.
func WithHeartbeat(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.heartbeat = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		if now != nil {
			h.now = now
		}
	}
}

func New(opts ...Option) *Hub {
	h := &Hub{
		bufferSize: DefaultBufferSize,
		heartbeat:  DefaultHeartbeat,
		now:        func() time.Time { return time.Now().UTC() },
		subs:       make(map[string]map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers a new viewer for endpointID. The first event on the
// returned subscription is always EventConnected. After Close the returned
// subscription is already closed.
func (h *Hub) Subscribe(endpointID string) *Subscription {
	s := newSubscription(endpointID, h.bufferSize)
	s.send(Event{Type: EventConnected, EndpointID: endpointID, Timestamp: h.now()})

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		s.close()
		return s
	}
	set, ok := h.subs[endpointID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[endpointID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	go h.heartbeatLoop(s)
	return s
}

// Unsubscribe removes s and closes it. Calling it more than once is a no-op.
func (h *Hub) Unsubscribe(s *Subscription) {
	h.remove(s)
	s.close()
}

// Publish delivers ev to every current subscription of endpointID and returns
// how many accepted it. Subscriptions that cannot accept it are dropped.
func (h *Hub) Publish(endpointID string, ev Event) int {
	if ev.EndpointID == "" {
		ev.EndpointID = endpointID
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = h.now()
	}

	targets := h.snapshot(endpointID)
	delivered := 0
	for _, s := range targets {
		if s.send(ev) {
			delivered++
			continue
		}
		h.drop(s)
	}
	return delivered
}

// CloseEndpoint queues final on every subscription of endpointID and then
// closes them. Used when an endpoint is deleted or expires.
func (h *Hub) CloseEndpoint(endpointID string, final Event) {
	if final.EndpointID == "" {
		final.EndpointID = endpointID
	}
	if final.Timestamp.IsZero() {
		final.Timestamp = h.now()
	}

	h.mu.Lock()
	set := h.subs[endpointID]
	delete(h.subs, endpointID)
	h.mu.Unlock()

	for s := range set {
		s.send(final)
		s.close()
	}
}

// Close shuts the hub down, ending every subscription with EventGone.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	all := h.subs
	h.subs = make(map[string]map[*Subscription]struct{})
	h.mu.Unlock()

	now := h.now()
	for endpointID, set := range all {
		for s := range set {
			s.send(Event{Type: EventGone, EndpointID: endpointID, Timestamp: now})
			s.close()
		}
	}
}

// Count returns the number of live subscriptions for endpointID.
func (h *Hub) Count(endpointID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[endpointID])
}

// Total returns the number of live subscriptions across all endpoints.
func (h *Hub) Total() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}

// Endpoints returns how many endpoints have at least one subscription.
func (h *Hub) Endpoints() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many subscriptions were removed for failing to keep up.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) snapshot(endpointID string) []*Subscription {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.subs[endpointID]
	out := make([]*Subscription, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

func (h *Hub) remove(s *Subscription) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[s.EndpointID]
	if !ok {
		return false
	}
	if _, ok := set[s]; !ok {
		return false
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, s.EndpointID)
	}
	return true
}

func (h *Hub) drop(s *Subscription) {
	if h.remove(s) {
		h.dropped.Add(1)
	}
	s.close()
}

func (h *Hub) heartbeatLoop(s *Subscription) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if !s.send(Event{Type: EventHeartbeat, EndpointID: s.EndpointID, Timestamp: h.now()}) {
				h.drop(s)
				return
			}
		}
	}
}
