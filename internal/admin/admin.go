// Package admin implements the small operational endpoints of the server:
// health, config and Prometheus-style counters for captures and viewers.
package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
)

// HistogramBuckets defines the latency buckets (seconds) used for capture durations.
var HistogramBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// Metrics is a minimal metrics container consumed by the /metrics handler.
type Metrics struct {
	sync.Mutex

	EndpointsCreated uint64 `json:"endpoints_created"`
	EndpointsDeleted uint64 `json:"endpoints_deleted"`
	EndpointsExpired uint64 `json:"endpoints_expired"`
	Captures         uint64 `json:"captures"`
	CapturesNotFound uint64 `json:"captures_not_found"`
	Evicted          uint64 `json:"evicted"`
	Clears           uint64 `json:"clears"`
	PublishErrors    uint64 `json:"publish_errors"`

	// Per-endpoint capture counts, dropped when the endpoint goes away.
	PerEndpoint map[string]uint64 `json:"per_endpoint"`

	HistCounts []uint64 `json:"hist_counts"`
	HistSum    float64  `json:"hist_sum"`
	HistTotal  uint64   `json:"hist_total"`
}

// Gauges are point-in-time values read from live components when rendering.
type Gauges struct {
	Subscribers       int    `json:"subscribers"`
	WatchedEndpoints  int    `json:"watched_endpoints"`
	DroppedViewers    uint64 `json:"dropped_viewers"`
	StoredEndpoints   int    `json:"stored_endpoints"`
	StoredEndpointsOK bool   `json:"-"`
}

// NewMetrics constructs a Metrics instance with initialized maps.
func NewMetrics() *Metrics {
	return &Metrics{
		PerEndpoint: make(map[string]uint64),
		HistCounts:  make([]uint64, len(HistogramBuckets)),
	}
}

// Increment helpers
func (m *Metrics) IncEndpointsCreated() { m.Lock(); m.EndpointsCreated++; m.Unlock() }
func (m *Metrics) IncCapturesNotFound() { m.Lock(); m.CapturesNotFound++; m.Unlock() }
func (m *Metrics) IncClears()           { m.Lock(); m.Clears++; m.Unlock() }
func (m *Metrics) IncPublishErrors()    { m.Lock(); m.PublishErrors++; m.Unlock() }

func (m *Metrics) AddEvicted(n int) {
	if n <= 0 {
		return
	}
	m.Lock()
	m.Evicted += uint64(n)
	m.Unlock()
}

// IncCapture counts a stored capture for endpointID.
func (m *Metrics) IncCapture(endpointID string) {
	m.Lock()
	defer m.Unlock()
	m.Captures++
	m.PerEndpoint[endpointID]++
}

// EndpointGone forgets the per-endpoint counter of a deleted or expired endpoint.
func (m *Metrics) EndpointGone(endpointID string, expired bool) {
	m.Lock()
	defer m.Unlock()
	if expired {
		m.EndpointsExpired++
	} else {
		m.EndpointsDeleted++
	}
	delete(m.PerEndpoint, endpointID)
}

// CaptureCount returns how many captures endpointID has received.
func (m *Metrics) CaptureCount(endpointID string) uint64 {
	m.Lock()
	defer m.Unlock()
	return m.PerEndpoint[endpointID]
}

// ObserveCapture records a capture duration in seconds.
func (m *Metrics) ObserveCapture(seconds float64) {
	m.Lock()
	defer m.Unlock()
	m.HistSum += seconds
	m.HistTotal++
	for i, b := range HistogramBuckets {
		if seconds <= b {
			m.HistCounts[i]++
			return
		}
	}
}

// HandleHealth writes a small JSON status document.
func HandleHealth(w http.ResponseWriter, storeDriver string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "store": storeDriver})
}

// HandleVarz writes config (provided) as JSON.
func HandleVarz(w http.ResponseWriter, cfg interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(cfg)
}

// HandleMetrics writes Prometheus-compatible counters, gauges and the capture
// duration histogram.
func HandleMetrics(w http.ResponseWriter, m *Metrics, g Gauges) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	m.Lock()
	defer m.Unlock()

	counter := func(name, help string, v uint64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s counter\n", name)
		_, _ = fmt.Fprintf(w, "%s %d\n\n", name, v)
	}
	gauge := func(name, help string, v uint64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s gauge\n", name)
		_, _ = fmt.Fprintf(w, "%s %d\n\n", name, v)
	}

	counter("pipehook_endpoints_created_total", "Endpoints created", m.EndpointsCreated)
	counter("pipehook_endpoints_deleted_total", "Endpoints deleted explicitly", m.EndpointsDeleted)
	counter("pipehook_endpoints_expired_total", "Endpoints removed by the reaper", m.EndpointsExpired)
	counter("pipehook_captures_total", "Requests captured", m.Captures)
	counter("pipehook_captures_not_found_total", "Requests sent to missing or expired endpoints", m.CapturesNotFound)
	counter("pipehook_evicted_total", "Captured requests pushed out of a full history", m.Evicted)
	counter("pipehook_clears_total", "History clears", m.Clears)
	counter("pipehook_event_publish_errors_total", "Failed event mirror publishes", m.PublishErrors)
	counter("pipehook_dropped_viewers_total", "Viewers removed for failing to keep up", g.DroppedViewers)

	gauge("pipehook_viewers", "Live viewer subscriptions", uint64(g.Subscribers))
	gauge("pipehook_watched_endpoints", "Endpoints with at least one viewer", uint64(g.WatchedEndpoints))
	if g.StoredEndpointsOK {
		gauge("pipehook_stored_endpoints", "Endpoints held by the store", uint64(g.StoredEndpoints))
	}

	_, _ = fmt.Fprintf(w, "# HELP pipehook_endpoint_captures_total Requests captured per endpoint\n")
	_, _ = fmt.Fprintf(w, "# TYPE pipehook_endpoint_captures_total counter\n")
	ids := make([]string, 0, len(m.PerEndpoint))
	for id := range m.PerEndpoint {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		_, _ = fmt.Fprintf(w, "pipehook_endpoint_captures_total{endpoint=%q} %d\n", id, m.PerEndpoint[id])
	}
	_, _ = fmt.Fprintln(w)

	_, _ = fmt.Fprintf(w, "# HELP pipehook_capture_duration_seconds Capture handling duration\n")
	_, _ = fmt.Fprintf(w, "# TYPE pipehook_capture_duration_seconds histogram\n")
	cum := uint64(0)
	for i, b := range HistogramBuckets {
		cum += m.HistCounts[i]
		_, _ = fmt.Fprintf(w, "pipehook_capture_duration_seconds_bucket{le=\"%g\"} %d\n", b, cum)
	}
	_, _ = fmt.Fprintf(w, "pipehook_capture_duration_seconds_bucket{le=\"+Inf\"} %d\n", m.HistTotal)
	_, _ = fmt.Fprintf(w, "pipehook_capture_duration_seconds_sum %g\n", m.HistSum)
	_, _ = fmt.Fprintf(w, "pipehook_capture_duration_seconds_count %d\n", m.HistTotal)
}
