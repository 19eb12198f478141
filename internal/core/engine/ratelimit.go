package engine

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/sentilens/sentilens/internal/core"
)

// RateLimiter enforces per-endpoint request windows and 429 backoff.
type RateLimiter struct {
	Store  RateLimitStore
	Limits map[string]RateLimit
	Clock  func() time.Time
	Margin float64

	mu sync.Mutex
}

// RateLimit represents a rate limit window.
type RateLimit struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// RateLimitStore stores rate limit state.
type RateLimitStore interface {
	GetRateLimit(ctx context.Context, endpoint string) (*core.RateLimitState, error)
	UpdateRateLimit(ctx context.Context, endpoint string, state *core.RateLimitState) error
}

// DefaultLimit applies to endpoints without an explicit limit.
var DefaultLimit = RateLimit{RequestsPerWindow: 60, WindowDuration: time.Minute}

// NewRateLimiter returns a limiter allowing requestsPerMinute for endpoint.
// A non-positive requestsPerMinute leaves the endpoint on DefaultLimit.
func NewRateLimiter(store RateLimitStore, endpoint string, requestsPerMinute int, margin float64) *RateLimiter {
	limiter := &RateLimiter{Store: store}
	limiter.SetLimit(endpoint, requestsPerMinute)
	limiter.ApplySafetyMargin(margin)
	return limiter
}

// Allow checks if a request is allowed and returns wait duration if not.
func (r *RateLimiter) Allow(ctx context.Context, endpoint string) (bool, time.Duration, error) {
	if r == nil || r.Store == nil {
		return true, 0, nil
	}

	state, err := r.Store.GetRateLimit(ctx, endpoint)
	if err != nil {
		return true, 0, err
	}
	if state == nil {
		state = &core.RateLimitState{WindowStart: r.now()}
	}

	if state.BackoffUntil != nil && r.now().Before(*state.BackoffUntil) {
		return false, state.BackoffUntil.Sub(r.now()), nil
	}

	limit := r.getLimit(endpoint)
	windowEnd := state.WindowStart.Add(limit.WindowDuration)
	if r.now().After(windowEnd) {
		return true, 0, nil
	}

	if state.RequestCount >= limit.RequestsPerWindow {
		return false, windowEnd.Sub(r.now()), nil
	}

	return true, 0, nil
}

// Record increments the request count for an endpoint.
func (r *RateLimiter) Record(ctx context.Context, endpoint string) error {
	if r == nil || r.Store == nil {
		return nil
	}

	state, err := r.Store.GetRateLimit(ctx, endpoint)
	if err != nil {
		return err
	}
	if state == nil {
		state = &core.RateLimitState{WindowStart: r.now()}
	}

	limit := r.getLimit(endpoint)
	if state.WindowStart.IsZero() || r.now().After(state.WindowStart.Add(limit.WindowDuration)) {
		state.RequestCount = 0
		state.WindowStart = r.now()
	}
	state.RequestCount++

	return r.Store.UpdateRateLimit(ctx, endpoint, state)
}

// Reserve atomically checks the window and records the request when allowed.
// It returns the wait duration when the request must be delayed.
func (r *RateLimiter) Reserve(ctx context.Context, endpoint string) (time.Duration, error) {
	if r == nil || r.Store == nil {
		return 0, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	allowed, wait, err := r.Allow(ctx, endpoint)
	if err != nil {
		return 0, err
	}
	if !allowed {
		return wait, nil
	}
	return 0, r.Record(ctx, endpoint)
}

// Wait blocks until a request to endpoint may be sent or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context, endpoint string) error {
	for {
		wait, err := r.Reserve(ctx, endpoint)
		if err != nil {
			return err
		}
		if wait <= 0 {
			return nil
		}
		if err := sleepContext(ctx, wait); err != nil {
			return err
		}
	}
}

// Record429 applies a backoff window from a 429 response.
func (r *RateLimiter) Record429(ctx context.Context, endpoint string, retryAfter time.Duration) error {
	if r == nil || r.Store == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.Store.GetRateLimit(ctx, endpoint)
	if err != nil {
		return err
	}
	if state == nil {
		state = &core.RateLimitState{WindowStart: r.now()}
	}

	now := r.now()
	state.Last429At = &now
	if retryAfter > 0 {
		until := now.Add(retryAfter)
		state.BackoffUntil = &until
	}

	return r.Store.UpdateRateLimit(ctx, endpoint, state)
}

// SetLimit sets a per-minute request limit for endpoint.
func (r *RateLimiter) SetLimit(endpoint string, requestsPerMinute int) {
	if r == nil {
		return
	}
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" || requestsPerMinute <= 0 {
		return
	}
	if r.Limits == nil {
		r.Limits = make(map[string]RateLimit)
	}
	r.Limits[endpoint] = RateLimit{
		RequestsPerWindow: requestsPerMinute,
		WindowDuration:    time.Minute,
	}
}

// ApplySafetyMargin adjusts the effective request limits by a ratio (0-1].
func (r *RateLimiter) ApplySafetyMargin(margin float64) {
	if r == nil {
		return
	}
	if margin <= 0 || margin > 1 {
		return
	}
	r.Margin = margin
}

func (r *RateLimiter) getLimit(endpoint string) RateLimit {
	if r == nil {
		return DefaultLimit
	}

	if limit, ok := r.Limits[endpoint]; ok {
		return r.applyMargin(limit)
	}

	return r.applyMargin(DefaultLimit)
}

func (r *RateLimiter) now() time.Time {
	if r != nil && r.Clock != nil {
		return r.Clock()
	}
	return time.Now().UTC()
}

func (r *RateLimiter) applyMargin(limit RateLimit) RateLimit {
	if r == nil || r.Margin <= 0 || r.Margin > 1 {
		return limit
	}
	adjusted := int(math.Floor(float64(limit.RequestsPerWindow) * r.Margin))
	if adjusted < 1 {
		adjusted = 1
	}
	limit.RequestsPerWindow = adjusted
	return limit
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
