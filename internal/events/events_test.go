package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PipeOpsHQ/pipehook/internal/store"
)

func startTestNATS(t *testing.T) string {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Host: "127.0.0.1", Port: -1})
	require.NoError(t, err, "starting embedded NATS")
	srv.Start()
	t.Cleanup(srv.Shutdown)
	require.True(t, srv.ReadyForConnections(5*time.Second), "embedded NATS not ready")
	return srv.ClientURL()
}

func receive(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "subscription channel closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return Message{}
}

func TestNoopPublisher(t *testing.T) {
	var pub Publisher = &NoopPublisher{}
	assert.NoError(t, pub.Publish(context.Background(), TopicEndpointCreated, EndpointCreated{}))
	assert.NoError(t, pub.Close())
}

func TestNATSPublisher_ImplementsPublisher(t *testing.T) {
	var _ Publisher = (*NATSPublisher)(nil)
	var _ Subscriber = (*NATSSubscriber)(nil)
}

func TestNATSPublisher_RoundTrip(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url)
	require.NoError(t, err)
	defer pub.Close()

	sub, err := NewNATSSubscriber(url)
	require.NoError(t, err)
	defer sub.Close()

	ch, cancel, err := sub.Subscribe(AllSubjects)
	require.NoError(t, err)
	defer cancel()

	rec := &store.CapturedRequest{ID: "r-1", Method: "POST", Body: "hello"}
	require.NoError(t, pub.Publish(context.Background(), TopicRequestCaptured, RequestCaptured{EndpointID: "0123456789ab", Request: rec}))
	require.NoError(t, pub.Publish(context.Background(), TopicHistoryCleared, HistoryCleared{EndpointID: "0123456789ab"}))
	require.NoError(t, pub.Flush())

	msg := receive(t, ch)
	assert.Equal(t, TopicRequestCaptured, msg.Topic)
	assert.Equal(t, "0123456789ab", msg.EndpointID)
	var captured RequestCaptured
	require.NoError(t, json.Unmarshal(msg.Data, &captured))
	assert.Equal(t, "0123456789ab", captured.EndpointID)
	assert.Equal(t, "r-1", captured.Request.ID)
	assert.Equal(t, "hello", captured.Request.Body)

	msg = receive(t, ch)
	assert.Equal(t, TopicHistoryCleared, msg.Topic)
	var cleared HistoryCleared
	require.NoError(t, json.Unmarshal(msg.Data, &cleared))
	assert.Equal(t, "0123456789ab", cleared.EndpointID)
}

func TestNATSSubscriber_EndpointSubjectsFilter(t *testing.T) {
	url := startTestNATS(t)
	pub, err := NewNATSPublisher(url)
	require.NoError(t, err)
	defer pub.Close()
	sub, err := NewNATSSubscriber(url)
	require.NoError(t, err)
	defer sub.Close()

	ch, cancel, err := sub.Subscribe(EndpointSubjects("aaaaaaaaaaaa"))
	require.NoError(t, err)
	defer cancel()

	ctx := context.Background()
	require.NoError(t, pub.Publish(ctx, TopicEndpointCreated, EndpointCreated{EndpointID: "bbbbbbbbbbbb"}))
	require.NoError(t, pub.Publish(ctx, TopicEndpointCreated, EndpointCreated{EndpointID: "aaaaaaaaaaaa"}))
	require.NoError(t, pub.Publish(ctx, TopicEndpointDeleted, EndpointDeleted{EndpointID: "aaaaaaaaaaaa"}))
	require.NoError(t, pub.Flush())

	assert.Equal(t, Message{Topic: TopicEndpointCreated, EndpointID: "aaaaaaaaaaaa"}, withoutData(receive(t, ch)))
	assert.Equal(t, Message{Topic: TopicEndpointDeleted, EndpointID: "aaaaaaaaaaaa"}, withoutData(receive(t, ch)))
	select {
	case msg := <-ch:
		t.Fatalf("unexpected message on %s for %s", msg.Topic, msg.EndpointID)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Zero(t, sub.Dropped())
}

func withoutData(m Message) Message {
	m.Data = nil
	return m
}

func TestSubjects(t *testing.T) {
	assert.Equal(t, "pipehook.request.captured.0123456789ab", Subject(TopicRequestCaptured, "0123456789ab"))
	assert.Equal(t, TopicRequestCaptured, Subject(TopicRequestCaptured, ""))

	topic, id := ParseSubject("pipehook.history.cleared.0123456789ab")
	assert.Equal(t, TopicHistoryCleared, topic)
	assert.Equal(t, "0123456789ab", id)

	topic, id = ParseSubject(TopicEndpointExpired)
	assert.Equal(t, TopicEndpointExpired, topic)
	assert.Empty(t, id)
}

func TestNATSPublisher_CanceledContext(t *testing.T) {
	url := startTestNATS(t)
	pub, err := NewNATSPublisher(url)
	require.NoError(t, err)
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pub.Publish(ctx, TopicEndpointDeleted, EndpointDeleted{EndpointID: "x"}), context.Canceled)
}

func TestNATSSubscriber_CancelClosesChannel(t *testing.T) {
	url := startTestNATS(t)
	sub, err := NewNATSSubscriber(url)
	require.NoError(t, err)
	defer sub.Close()

	ch, cancel, err := sub.Subscribe(TopicEndpointExpired)
	require.NoError(t, err)
	cancel()
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestNewNATSPublisher_BadURL(t *testing.T) {
	_, err := NewNATSPublisher("nats://127.0.0.1:1")
	assert.Error(t, err)
}
