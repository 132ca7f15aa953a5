// Package capture turns raw inbound HTTP requests into CapturedRequest
// records, stores them and hands them to the live-update hub.
package capture

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/PipeOpsHQ/pipehook/internal/hub"
	"github.com/PipeOpsHQ/pipehook/internal/store"
)

// UnknownUserAgent is recorded when a request carries no User-Agent header.
const UnknownUserAgent = "Unknown"

// Inbound is what the transport hands over for one received request.
type Inbound struct {
	Method        string
	Header        http.Header
	Body          []byte
	RawQuery      string
	RouteParams   map[string]string
	RemoteAddr    string
	ContentLength int64 // declared length; -1 or 0 with a body means unknown
}

// Broadcaster receives every successfully stored capture.
type Broadcaster interface {
	Publish(endpointID string, ev hub.Event) int
}

type Engine struct {
	store   store.Store
	hub     Broadcaster
	now     func() time.Time
	newID   func() string
	onEvict func(endpointID string, n int)
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDFunc replaces the request id source.
func WithIDFunc(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// WithEvictionHook is called whenever an append pushed old records out.
func WithEvictionHook(fn func(endpointID string, n int)) Option {
	return func(e *Engine) {
		e.onEvict = fn
	}
}

func New(st store.Store, b Broadcaster, opts ...Option) *Engine {
	e := &Engine{
		store: st,
		hub:   b,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Capture records in against endpointID. It returns store.ErrNotFound,
// without side effects, when the endpoint is missing or expired.
func (e *Engine) Capture(ctx context.Context, endpointID string, in Inbound) (*store.CapturedRequest, error) {
	if _, err := e.store.Get(ctx, endpointID); err != nil {
		return nil, fmt.Errorf("capture %s: %w", endpointID, err)
	}

	rec := e.normalize(in)

	evicted, err := e.store.Append(ctx, endpointID, rec)
	if err != nil {
		return nil, fmt.Errorf("capture %s: %w", endpointID, err)
	}
	if evicted > 0 {
		log.Debug().Str("endpoint_id", endpointID).Int("evicted", evicted).Msg("history trimmed")
		if e.onEvict != nil {
			e.onEvict(endpointID, evicted)
		}
	}

	if e.hub != nil {
		e.hub.Publish(endpointID, hub.Event{
			Type:      hub.EventRequestCaptured,
			Request:   rec,
			Timestamp: rec.Timestamp,
		})
	}
	return rec, nil
}

func (e *Engine) normalize(in Inbound) *store.CapturedRequest {
	header := in.Header
	if header == nil {
		header = http.Header{}
	}

	body := Decompress(header.Get("Content-Encoding"), in.Body)
	contentType := header.Get("Content-Type")

	// Malformed pairs are skipped; the well-formed ones are kept.
	query, _ := url.ParseQuery(in.RawQuery)

	userAgent := header.Get("User-Agent")
	if userAgent == "" {
		userAgent = UnknownUserAgent
	}

	length := in.ContentLength
	if length < 0 || (length == 0 && len(in.Body) > 0) {
		length = declaredLength(header)
	}
	if length < 0 {
		length = int64(len(in.Body))
	}

	params := make(map[string]string, len(in.RouteParams))
	for k, v := range in.RouteParams {
		params[k] = v
	}

	method := strings.ToUpper(in.Method)
	if method == "" {
		method = http.MethodGet
	}

	return &store.CapturedRequest{
		ID:            e.newID(),
		Timestamp:     e.now(),
		Method:        method,
		Headers:       FlattenHeaders(header),
		Body:          DecodeBody(contentType, body),
		Query:         Flatten(query),
		RouteParams:   params,
		SourceIP:      ClientIP(header, in.RemoteAddr),
		UserAgent:     userAgent,
		ContentType:   contentType,
		ContentLength: length,
	}
}

// FlattenHeaders lower-cases header names and joins repeated values with ", ".
func FlattenHeaders(h http.Header) map[string]string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]string, len(h))
	for _, k := range keys {
		name := strings.ToLower(k)
		v := strings.Join(h[k], ", ")
		if prev, ok := out[name]; ok && prev != "" {
			v = prev + ", " + v
		}
		out[name] = v
	}
	return out
}

// ClientIP picks the caller address: first X-Forwarded-For hop, then
// X-Real-IP, then the transport peer without its port.
func ClientIP(h http.Header, remoteAddr string) string {
	if fwd := h.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if realIP := strings.TrimSpace(h.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

func declaredLength(h http.Header) int64 {
	v := h.Get("Content-Length")
	if v == "" {
		return -1
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}
