package store

import (
	"context"
	"errors"
	"time"
)

const (
	// DefaultTTL is the fixed lifetime of an endpoint.
	DefaultTTL = 24 * time.Hour
	// DefaultCapacity is the number of captured requests kept per endpoint.
	DefaultCapacity = 100
)

var (
	// ErrNotFound is returned when an endpoint is absent or expired.
	ErrNotFound = errors.New("endpoint not found or expired")
	// ErrExists is returned by Create when the id is already in use.
	ErrExists = errors.New("endpoint already exists")
)

type Endpoint struct {
	ID        string             `json:"id"`
	CreatedAt time.Time          `json:"createdAt"`
	ExpiresAt time.Time          `json:"expiresAt"`
	Requests  []*CapturedRequest `json:"requests"`
}

// Expired reports whether the endpoint is past its expiry at now.
func (e *Endpoint) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// CapturedRequest is the normalized record of one inbound request.
// It is never modified after capture.
type CapturedRequest struct {
	ID            string            `json:"id"`
	Timestamp     time.Time         `json:"timestamp"`
	Method        string            `json:"method"`
	Headers       map[string]string `json:"headers"`
	Body          any               `json:"body"`
	Query         map[string]any    `json:"query"`
	RouteParams   map[string]string `json:"routeParams"`
	SourceIP      string            `json:"sourceIp"`
	UserAgent     string            `json:"userAgent"`
	ContentType   string            `json:"contentType"`
	ContentLength int64             `json:"contentLength"`
}

type Store interface {
	Create(ctx context.Context, id string) (*Endpoint, error)
	Get(ctx context.Context, id string) (*Endpoint, error)
	// Append prepends req to the endpoint history and trims it to capacity,
	// returning how many of the oldest records were evicted.
	Append(ctx context.Context, id string, req *CapturedRequest) (int, error)
	Clear(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	// Reap physically removes expired endpoints and returns their ids.
	Reap(ctx context.Context) ([]string, error)
	Close() error
}

// Counter is implemented by backends that can report how many endpoints they
// currently hold, expired-but-unreaped ones included.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

type options struct {
	ttl      time.Duration
	capacity int
	now      func() time.Time
}

// Option configures a store backend.
type Option func(*options)

// WithTTL overrides the endpoint lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithCapacity overrides the per-endpoint history size.
func WithCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.capacity = n
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		ttl:      DefaultTTL,
		capacity: DefaultCapacity,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
