// Package events mirrors endpoint lifecycle changes onto a message bus so
// other processes can follow captures without holding a live connection.
package events

import (
	"context"
	"strings"
	"time"

	"github.com/PipeOpsHQ/pipehook/internal/store"
)

const (
	TopicEndpointCreated = "pipehook.endpoint.created"
	TopicEndpointDeleted = "pipehook.endpoint.deleted"
	TopicEndpointExpired = "pipehook.endpoint.expired"
	TopicRequestCaptured = "pipehook.request.captured"
	TopicHistoryCleared  = "pipehook.history.cleared"

	// AllSubjects matches every event of every endpoint.
	AllSubjects = "pipehook.>"
)

// Subject is the NATS subject an event about endpointID is published on: the
// topic with the endpoint id appended as the last token.
func Subject(topic, endpointID string) string {
	if endpointID == "" {
		return topic
	}
	return topic + "." + endpointID
}

// EndpointSubjects matches every event of one endpoint.
func EndpointSubjects(endpointID string) string {
	return "pipehook.*.*." + endpointID
}

// ParseSubject splits a subject built by Subject back into topic and
// endpoint id.
func ParseSubject(subject string) (topic, endpointID string) {
	if strings.Count(subject, ".") < 3 {
		return subject, ""
	}
	i := strings.LastIndexByte(subject, '.')
	return subject[:i], subject[i+1:]
}

// Message is one event as seen by a Subscriber.
type Message struct {
	Topic      string
	EndpointID string
	Data       []byte
}

// endpointEvent is implemented by every payload that belongs to an endpoint.
type endpointEvent interface {
	Endpoint() string
}

type EndpointCreated struct {
	EndpointID string    `json:"endpoint_id"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (e EndpointCreated) Endpoint() string { return e.EndpointID }

type EndpointDeleted struct {
	EndpointID string `json:"endpoint_id"`
}

func (e EndpointDeleted) Endpoint() string { return e.EndpointID }

type EndpointExpired struct {
	EndpointID string `json:"endpoint_id"`
}

func (e EndpointExpired) Endpoint() string { return e.EndpointID }

type RequestCaptured struct {
	EndpointID string                 `json:"endpoint_id"`
	Request    *store.CapturedRequest `json:"request"`
}

func (e RequestCaptured) Endpoint() string { return e.EndpointID }

type HistoryCleared struct {
	EndpointID string `json:"endpoint_id"`
}

func (e HistoryCleared) Endpoint() string { return e.EndpointID }

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// Subscriber receives events from the event bus.
type Subscriber interface {
	// Subscribe delivers events on subjects matching subject. Call the
	// returned cancel function to unsubscribe and close the channel.
	Subscribe(subject string) (<-chan Message, func(), error)
	Close() error
}
