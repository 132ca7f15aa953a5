package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PipeOpsHQ/pipehook/internal/handler"
	"github.com/PipeOpsHQ/pipehook/internal/hub"
	"github.com/PipeOpsHQ/pipehook/internal/store"
	"github.com/PipeOpsHQ/pipehook/internal/webhook"
)

func newTestClient(t *testing.T) *HTTPClient {
	t.Helper()
	h := hub.New()
	svc := webhook.NewService(store.NewMemoryStore(), h)
	srv := httptest.NewServer(handler.NewHandler(svc).Routes())
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return NewHTTPClient(srv.URL + "/")
}

func TestHTTPClient_Lifecycle(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	created, err := c.Create(ctx)
	require.NoError(t, err)
	assert.Equal(t, c.BaseURL()+"/h/"+created.ID, created.URL)

	ack, err := c.Send(ctx, created.ID, http.MethodPost, "text/plain", []byte("ping"))
	require.NoError(t, err)
	assert.True(t, ack.Received)

	ep, err := c.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, ep.Requests, 1)
	assert.Equal(t, ack.ID, ep.Requests[0].ID)
	assert.Equal(t, "ping", ep.Requests[0].Body)

	st, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.Captures)

	require.NoError(t, c.Clear(ctx, created.ID))
	ep, err = c.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, ep.Requests)

	require.NoError(t, c.Delete(ctx, created.ID))
	_, err = c.Get(ctx, created.ID)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, handler.CodeEndpointNotFound, apiErr.Code)
}

func TestHTTPClient_SendUnknownEndpoint(t *testing.T) {
	c := newTestClient(t)
	_, err := c.Send(context.Background(), "0123456789ab", http.MethodPost, "", nil)
	assert.True(t, IsNotFound(err))
}

func TestHTTPClient_Stream(t *testing.T) {
	c := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	created, err := c.Create(ctx)
	require.NoError(t, err)

	events := make(chan hub.Event, 8)
	errc := make(chan error, 1)
	go func() {
		errc <- c.Stream(ctx, created.ID, func(ev hub.Event) error {
			events <- ev
			return nil
		})
	}()

	next := func() hub.Event {
		select {
		case ev := <-events:
			return ev
		case <-ctx.Done():
			t.Fatal("timed out waiting for stream event")
		}
		return hub.Event{}
	}

	require.Equal(t, hub.EventConnected, next().Type)

	ack, err := c.Send(ctx, created.ID, http.MethodPost, "application/json", []byte(`{"ok":true}`))
	require.NoError(t, err)
	ev := next()
	require.Equal(t, hub.EventRequestCaptured, ev.Type)
	assert.Equal(t, ack.ID, ev.Request.ID)

	require.NoError(t, c.Delete(ctx, created.ID))
	assert.Equal(t, hub.EventGone, next().Type)
	assert.ErrorIs(t, <-errc, ErrStreamClosed)
}

func TestHTTPClient_StreamUnknownEndpoint(t *testing.T) {
	c := newTestClient(t)
	err := c.Stream(context.Background(), "ffffffffffff", func(hub.Event) error { return nil })
	assert.True(t, IsNotFound(err))
}

func TestHTTPClient_StreamCallbackError(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	created, err := c.Create(ctx)
	require.NoError(t, err)

	stop := errors.New("stop")
	err = c.Stream(ctx, created.ID, func(hub.Event) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestAPIError_Message(t *testing.T) {
	err := decodeAPIError(http.StatusNotFound, []byte(`{"error":"endpoint not found or expired","code":"ENDPOINT_NOT_FOUND"}`))
	assert.Equal(t, "endpoint not found or expired (ENDPOINT_NOT_FOUND, HTTP 404)", err.Error())

	err = decodeAPIError(http.StatusBadGateway, []byte("upstream down\n"))
	assert.Equal(t, "HTTP 502: upstream down", err.Error())
}
