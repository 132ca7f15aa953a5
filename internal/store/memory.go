package store

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps endpoints in process memory. The endpoint map is guarded
// by an RWMutex; each endpoint's history has its own mutex so captures for
// different endpoints never contend.
type MemoryStore struct {
	opts options

	mu        sync.RWMutex
	endpoints map[string]*memEntry
}

type memEntry struct {
	mu       sync.Mutex
	endpoint Endpoint
	removed  bool
}

func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		opts:      buildOptions(opts),
		endpoints: make(map[string]*memEntry),
	}
}

func (s *MemoryStore) Create(_ context.Context, id string) (*Endpoint, error) {
	now := s.opts.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.endpoints[id]; ok {
		e.mu.Lock()
		live := !e.endpoint.Expired(now)
		e.mu.Unlock()
		if live {
			return nil, fmt.Errorf("create %s: %w", id, ErrExists)
		}
	}

	e := &memEntry{endpoint: Endpoint{
		ID:        id,
		CreatedAt: now,
		ExpiresAt: now.Add(s.opts.ttl),
		Requests:  []*CapturedRequest{},
	}}
	s.endpoints[id] = e
	return e.snapshot(), nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Endpoint, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed || e.endpoint.Expired(s.opts.now()) {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return e.snapshot(), nil
}

func (s *MemoryStore) Append(_ context.Context, id string, req *CapturedRequest) (int, error) {
	e, err := s.lookup(id)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed || e.endpoint.Expired(s.opts.now()) {
		return 0, fmt.Errorf("append %s: %w", id, ErrNotFound)
	}

	reqs := make([]*CapturedRequest, 0, min(len(e.endpoint.Requests)+1, s.opts.capacity))
	reqs = append(reqs, req)
	evicted := 0
	for _, r := range e.endpoint.Requests {
		if len(reqs) == s.opts.capacity {
			evicted++
			continue
		}
		reqs = append(reqs, r)
	}
	e.endpoint.Requests = reqs
	return evicted, nil
}

func (s *MemoryStore) Clear(_ context.Context, id string) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed || e.endpoint.Expired(s.opts.now()) {
		return fmt.Errorf("clear %s: %w", id, ErrNotFound)
	}
	e.endpoint.Requests = []*CapturedRequest{}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	now := s.opts.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.endpoints[id]
	if !ok {
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}
	delete(s.endpoints, id)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.removed = true
	if e.endpoint.Expired(now) {
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *MemoryStore) Reap(_ context.Context) ([]string, error) {
	now := s.opts.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	var reaped []string
	for id, e := range s.endpoints {
		e.mu.Lock()
		if e.endpoint.Expired(now) {
			e.removed = true
			delete(s.endpoints, id)
			reaped = append(reaped, id)
		}
		e.mu.Unlock()
	}
	return reaped, nil
}

// Len returns the number of stored endpoints, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.endpoints)
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	return s.Len(), nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) lookup(id string) (*memEntry, error) {
	s.mu.RLock()
	e, ok := s.endpoints[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("lookup %s: %w", id, ErrNotFound)
	}
	return e, nil
}

// snapshot copies the endpoint; the caller must hold e.mu (or own e).
func (e *memEntry) snapshot() *Endpoint {
	cp := e.endpoint
	cp.Requests = make([]*CapturedRequest, len(e.endpoint.Requests))
	copy(cp.Requests, e.endpoint.Requests)
	return &cp
}
