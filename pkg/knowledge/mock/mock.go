// Package mock provides an in-memory test double for [knowledge.Store].
//
// The mock records every method call for assertion in tests and exposes
// exported fields that control what it returns. It is safe for concurrent use
// via an internal [sync.Mutex].
//
// Typical usage:
//
//	store := &mock.Store{}
//	store.SearchResult = []knowledge.SearchHit{{Distance: 0.2}}
//
//	// inject store into the system under test …
//
//	if got := store.CallCount("Search"); got != 1 {
//	    t.Errorf("expected 1 Search call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/pythia/pkg/knowledge"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Store is a configurable test double for [knowledge.Store].
// All exported *Err fields default to nil (success); all exported *Result
// fields default to nil (empty slice returned).
type Store struct {
	mu sync.Mutex

	// calls records every method invocation in order.
	calls []Call

	// SearchResult is returned by [Store.Search].
	// When nil, Search returns an empty non-nil slice.
	SearchResult []knowledge.SearchHit

	// SearchErr is returned by [Store.Search] when non-nil.
	SearchErr error

	// SearchContainingResult is returned by [Store.SearchContaining].
	// When nil, SearchContaining returns an empty non-nil slice.
	SearchContainingResult []knowledge.SearchHit

	// SearchContainingErr is returned by [Store.SearchContaining] when non-nil.
	SearchContainingErr error

	// CountResult is returned by [Store.Count].
	CountResult int64

	// CountErr is returned by [Store.Count] when non-nil.
	CountErr error

	// PingErr is returned by [Store.Ping] when non-nil.
	PingErr error
}

// Compile-time interface assertion.
var _ knowledge.Store = (*Store)(nil)

// Calls returns a copy of all recorded method invocations.
func (m *Store) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *Store) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls without altering response configuration.
func (m *Store) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Search implements [knowledge.Store].
func (m *Store) Search(_ context.Context, embedding []float32, limit int) ([]knowledge.SearchHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Search", Args: []any{embedding, limit}})
	if m.SearchResult == nil {
		return []knowledge.SearchHit{}, m.SearchErr
	}
	out := make([]knowledge.SearchHit, len(m.SearchResult))
	copy(out, m.SearchResult)
	return out, m.SearchErr
}

// SearchContaining implements [knowledge.Store].
func (m *Store) SearchContaining(_ context.Context, embedding []float32, substr string, limit int) ([]knowledge.SearchHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "SearchContaining", Args: []any{embedding, substr, limit}})
	if m.SearchContainingResult == nil {
		return []knowledge.SearchHit{}, m.SearchContainingErr
	}
	out := make([]knowledge.SearchHit, len(m.SearchContainingResult))
	copy(out, m.SearchContainingResult)
	return out, m.SearchContainingErr
}

// Count implements [knowledge.Store].
func (m *Store) Count(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Count", Args: nil})
	return m.CountResult, m.CountErr
}

// Ping implements [knowledge.Store].
func (m *Store) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Ping", Args: nil})
	return m.PingErr
}
