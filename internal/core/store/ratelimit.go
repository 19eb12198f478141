package store

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/sentilens/sentilens/internal/core"
)

// MemoryRateStore keeps rate limit windows for the lifetime of the process.
type MemoryRateStore struct {
	mu     sync.Mutex
	states map[string]core.RateLimitState
}

// NewMemoryRateStore returns an empty rate limit store.
func NewMemoryRateStore() *MemoryRateStore {
	return &MemoryRateStore{states: make(map[string]core.RateLimitState)}
}

// GetRateLimit returns stored rate limit state for an endpoint.
func (s *MemoryRateStore) GetRateLimit(ctx context.Context, endpoint string) (*core.RateLimitState, error) {
	if s == nil {
		return nil, errors.New("store is not initialized")
	}

	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("endpoint is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[endpoint]
	if !ok {
		return nil, nil
	}
	return copyState(state), nil
}

// UpdateRateLimit stores rate limit state for an endpoint.
func (s *MemoryRateStore) UpdateRateLimit(ctx context.Context, endpoint string, state *core.RateLimitState) error {
	if s == nil {
		return errors.New("store is not initialized")
	}

	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return errors.New("endpoint is required")
	}
	if state == nil {
		return errors.New("rate limit state is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.states == nil {
		s.states = make(map[string]core.RateLimitState)
	}
	s.states[endpoint] = *copyState(*state)
	return nil
}

// Reset clears the state for endpoint, or all endpoints when endpoint is empty.
func (s *MemoryRateStore) Reset(endpoint string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		s.states = make(map[string]core.RateLimitState)
		return
	}
	delete(s.states, endpoint)
}

func copyState(state core.RateLimitState) *core.RateLimitState {
	out := state
	if state.BackoffUntil != nil {
		value := *state.BackoffUntil
		out.BackoffUntil = &value
	}
	if state.Last429At != nil {
		value := *state.Last429At
		out.Last429At = &value
	}
	return &out
}
