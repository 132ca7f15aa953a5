package capture

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PipeOpsHQ/pipehook/internal/hub"
	"github.com/PipeOpsHQ/pipehook/internal/store"
)

var fixedNow = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func newEngine(t *testing.T, opts ...Option) (*Engine, *store.MemoryStore, *hub.Hub) {
	t.Helper()
	st := store.NewMemoryStore(store.WithClock(func() time.Time { return fixedNow }))
	h := hub.New()
	t.Cleanup(h.Close)
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return New(st, h, opts...), st, h
}

func nextEvent(t *testing.T, s *hub.Subscription) hub.Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return hub.Event{}
}

func TestCapture_RoundTrip(t *testing.T) {
	e, st, _ := newEngine(t)
	ctx := context.Background()
	_, err := st.Create(ctx, "0123456789ab")
	require.NoError(t, err)

	rec, err := e.Capture(ctx, "0123456789ab", Inbound{
		Method: "post",
		Header: http.Header{
			"Content-Type": {"application/json"},
			"X-Test":       {"v"},
		},
		Body:        []byte(`{"a":1}`),
		RawQuery:    "q=1&tag=x&tag=y",
		RouteParams: map[string]string{"endpointId": "0123456789ab"},
		RemoteAddr:  "10.0.0.9:5123",
	})
	require.NoError(t, err)

	ep, err := st.Get(ctx, "0123456789ab")
	require.NoError(t, err)
	require.Len(t, ep.Requests, 1)

	got := ep.Requests[0]
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, `{"a":1}`, asJSON(t, got.Body))
	assert.Equal(t, "v", got.Headers["x-test"])
	assert.Equal(t, "POST", got.Method)
	assert.Equal(t, fixedNow, got.Timestamp)
	assert.Equal(t, "10.0.0.9", got.SourceIP)
	assert.Equal(t, UnknownUserAgent, got.UserAgent)
	assert.Equal(t, "application/json", got.ContentType)
	assert.Equal(t, int64(len(`{"a":1}`)), got.ContentLength)
	assert.Equal(t, map[string]any{"q": "1", "tag": []string{"x", "y"}}, got.Query)
	assert.Equal(t, "0123456789ab", got.RouteParams["endpointId"])
}

func TestCapture_NotFoundHasNoSideEffects(t *testing.T) {
	e, st, h := newEngine(t)
	sub := h.Subscribe("deadbeef0000")
	nextEvent(t, sub)

	_, err := e.Capture(context.Background(), "deadbeef0000", Inbound{Method: "POST", Body: []byte("x")})
	require.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)

	_, err = st.Get(context.Background(), "deadbeef0000")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 0, st.Len(), "capture must never create an endpoint")

	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected %q event for a failed capture", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCapture_FanOutToEverySubscriber(t *testing.T) {
	e, st, h := newEngine(t)
	ctx := context.Background()
	_, err := st.Create(ctx, "aaaaaaaaaaaa")
	require.NoError(t, err)

	const k = 4
	subs := make([]*hub.Subscription, k)
	for i := range subs {
		subs[i] = h.Subscribe("aaaaaaaaaaaa")
		require.Equal(t, hub.EventConnected, nextEvent(t, subs[i]).Type)
	}

	rec, err := e.Capture(ctx, "aaaaaaaaaaaa", Inbound{Method: http.MethodPut})
	require.NoError(t, err)

	for _, s := range subs {
		ev := nextEvent(t, s)
		require.Equal(t, hub.EventRequestCaptured, ev.Type)
		require.NotNil(t, ev.Request)
		assert.Equal(t, rec.ID, ev.Request.ID)
		assert.Equal(t, rec.Timestamp, ev.Request.Timestamp)
		assert.Equal(t, rec.Method, ev.Request.Method)
	}
}

func TestCapture_BrokenSubscriberDoesNotStallCapture(t *testing.T) {
	st := store.NewMemoryStore()
	h := hub.New(hub.WithBufferSize(1))
	defer h.Close()
	e := New(st, h)

	ctx := context.Background()
	_, err := st.Create(ctx, "bbbbbbbbbbbb")
	require.NoError(t, err)

	stuck := h.Subscribe("bbbbbbbbbbbb") // never drained

	done := make(chan error, 1)
	go func() {
		for i := 0; i < 10; i++ {
			if _, err := e.Capture(ctx, "bbbbbbbbbbbb", Inbound{Method: "POST"}); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("capture stalled behind a stuck subscriber")
	}

	select {
	case <-stuck.Done():
	case <-time.After(time.Second):
		t.Fatal("stuck subscriber was not dropped")
	}
	ep, err := st.Get(ctx, "bbbbbbbbbbbb")
	require.NoError(t, err)
	assert.Len(t, ep.Requests, 10)
}

func TestCapture_EvictsOldestBeyondCapacity(t *testing.T) {
	evicted := 0
	e, st, _ := newEngine(t, WithEvictionHook(func(_ string, n int) { evicted += n }))
	ctx := context.Background()
	_, err := st.Create(ctx, "cccccccccccc")
	require.NoError(t, err)

	for i := 1; i <= 105; i++ {
		_, err := e.Capture(ctx, "cccccccccccc", Inbound{
			Method: "POST",
			Header: http.Header{"Content-Type": {"text/plain"}},
			Body:   []byte(fmt.Sprint(i)),
		})
		require.NoError(t, err)
	}

	ep, err := st.Get(ctx, "cccccccccccc")
	require.NoError(t, err)
	require.Len(t, ep.Requests, 100)
	for i, r := range ep.Requests {
		assert.Equal(t, fmt.Sprint(105-i), r.Body, "position %d", i)
	}
	assert.Equal(t, 5, evicted)
}

func TestCapture_UsesIDFunc(t *testing.T) {
	e, st, _ := newEngine(t, WithIDFunc(func() string { return "fixed-id" }))
	ctx := context.Background()
	_, err := st.Create(ctx, "dddddddddddd")
	require.NoError(t, err)

	rec, err := e.Capture(ctx, "dddddddddddd", Inbound{Method: "GET"})
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", rec.ID)
	assert.Nil(t, rec.Body)
	assert.Equal(t, int64(0), rec.ContentLength)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		header http.Header
		remote string
		want   string
	}{
		{"forwarded first hop", http.Header{"X-Forwarded-For": {" 1.1.1.1 , 2.2.2.2"}, "X-Real-Ip": {"3.3.3.3"}}, "4.4.4.4:1", "1.1.1.1"},
		{"real ip", http.Header{"X-Real-Ip": {"3.3.3.3"}}, "4.4.4.4:1", "3.3.3.3"},
		{"peer without port", http.Header{}, "4.4.4.4:1234", "4.4.4.4"},
		{"ipv6 peer", http.Header{}, "[::1]:80", "::1"},
		{"peer without port already", http.Header{}, "4.4.4.4", "4.4.4.4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClientIP(tt.header, tt.remote))
		})
	}
}

func TestFlattenHeaders(t *testing.T) {
	got := FlattenHeaders(http.Header{
		"Accept":    {"text/html", "application/json"},
		"X-Request": {"1"},
	})
	assert.Equal(t, map[string]string{
		"accept":    "text/html, application/json",
		"x-request": "1",
	}, got)
}

func TestCapture_DeclaredContentLength(t *testing.T) {
	e, st, _ := newEngine(t)
	ctx := context.Background()
	_, err := st.Create(ctx, "eeeeeeeeeeee")
	require.NoError(t, err)

	rec, err := e.Capture(ctx, "eeeeeeeeeeee", Inbound{
		Method:        "POST",
		Header:        http.Header{"Content-Encoding": {"identity"}},
		Body:          []byte("abc"),
		ContentLength: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.ContentLength)

	rec, err = e.Capture(ctx, "eeeeeeeeeeee", Inbound{
		Method:        "POST",
		Header:        http.Header{"Content-Length": {"7"}},
		Body:          []byte("abcdefg"),
		ContentLength: -1,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec.ContentLength)
}
