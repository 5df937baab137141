package assembler

import (
	"sync"
	"time"

	"github.com/dshills/ragdoc/pkg/types"
)

// FragmentStore holds the fragments of one job. Each unit gets at most one
// fragment and GeneratedAt is strictly increasing across the store, so a
// fragment stored after another always carries a later timestamp.
type FragmentStore struct {
	mu        sync.RWMutex
	fragments map[string]*types.Fragment
	last      time.Time
	now       func() time.Time
}

// NewFragmentStore creates an empty store
func NewFragmentStore() *FragmentStore {
	return &FragmentStore{
		fragments: make(map[string]*types.Fragment),
		now:       time.Now,
	}
}

// PutIfAbsent stores f unless its unit already has a fragment. It returns
// the fragment now held for the unit and whether f was the one stored.
// The check and the write happen under one lock.
func (s *FragmentStore) PutIfAbsent(f *types.Fragment) (*types.Fragment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.fragments[f.UnitID]; ok {
		return existing, false
	}

	stamp := s.now().UTC()
	if !stamp.After(s.last) {
		stamp = s.last.Add(time.Nanosecond)
	}
	s.last = stamp

	stored := *f
	stored.GeneratedAt = stamp
	s.fragments[f.UnitID] = &stored
	return &stored, true
}

// Get returns the fragment of a unit
func (s *FragmentStore) Get(unitID string) (*types.Fragment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.fragments[unitID]
	return f, ok
}

// Len returns the number of stored fragments, the project summary included
func (s *FragmentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.fragments)
}

// Snapshot returns the unit fragments and the project summary, if any
func (s *FragmentStore) Snapshot() (map[string]*types.Fragment, *types.Fragment) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*types.Fragment, len(s.fragments))
	var summary *types.Fragment
	for id, f := range s.fragments {
		if id == types.ProjectNodeID {
			summary = f
			continue
		}
		out[id] = f
	}
	return out, summary
}
