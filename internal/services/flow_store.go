package services

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// FlowStore is the in-memory registry of booking flows
type FlowStore struct {
	mu    sync.RWMutex
	flows map[uuid.UUID]*Flow
}

// NewFlowStore creates an empty store
func NewFlowStore() *FlowStore {
	return &FlowStore{flows: make(map[uuid.UUID]*Flow)}
}

// Put registers a flow
func (s *FlowStore) Put(f *Flow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[f.ID] = f
}

// Get returns a flow by id
func (s *FlowStore) Get(id uuid.UUID) (*Flow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flows[id]
	return f, ok
}

// Delete removes a flow; it reports whether the flow was present
func (s *FlowStore) Delete(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flows[id]; !ok {
		return false
	}
	delete(s.flows, id)
	return true
}

// Len returns the number of registered flows
func (s *FlowStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.flows)
}

// Idle returns the flows whose last activity is older than now-ttl
func (s *FlowStore) Idle(now time.Time, ttl time.Duration) []*Flow {
	s.mu.RLock()
	flows := make([]*Flow, 0, len(s.flows))
	for _, f := range s.flows {
		flows = append(flows, f)
	}
	s.mu.RUnlock()

	cutoff := now.Add(-ttl)
	idle := make([]*Flow, 0)
	for _, f := range flows {
		if f.LastActive().Before(cutoff) {
			idle = append(idle, f)
		}
	}
	return idle
}
