package hub

import "sync"

// Subscription is one viewer's attachment to an endpoint's event stream.
// Events arrive on Events(); the channel is closed when the subscription
// ends for any reason.
type Subscription struct {
	EndpointID string

	mu     sync.Mutex
	ch     chan Event
	done   chan struct{}
	closed bool
}

func newSubscription(endpointID string, size int) *Subscription {
	return &Subscription{
		EndpointID: endpointID,
		ch:         make(chan Event, size),
		done:       make(chan struct{}),
	}
}

// Events returns the receive side of the subscription.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// send queues ev without blocking. It reports false when the subscription is
// closed or its buffer is full.
func (s *Subscription) send(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	close(s.ch)
}
