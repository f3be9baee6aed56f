package shared

import (
	"context"
	"sync"
)

// Superseder cancels a caller's previous in-flight query when a newer one
// starts under the same key.
type Superseder struct {
	mu       sync.Mutex
	inflight map[string]*inflightQuery
}

type inflightQuery struct {
	cancel context.CancelFunc
}

// NewSuperseder constructs an empty Superseder.
func NewSuperseder() *Superseder {
	return &Superseder{inflight: make(map[string]*inflightQuery)}
}

// Begin derives a context for a query keyed by caller. Any earlier query
// still running under the same key is cancelled. done must be called when
// the query finishes.
func (s *Superseder) Begin(ctx context.Context, key string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	current := &inflightQuery{cancel: cancel}

	s.mu.Lock()
	if prev, ok := s.inflight[key]; ok {
		prev.cancel()
	}
	s.inflight[key] = current
	s.mu.Unlock()

	return ctx, func() {
		s.mu.Lock()
		if s.inflight[key] == current {
			delete(s.inflight, key)
		}
		s.mu.Unlock()
		cancel()
	}
}
