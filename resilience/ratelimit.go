package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/jaberry835/agentmesh/core"
)

// RateTrackerConfig bounds outbound traffic for the whole process.
type RateTrackerConfig struct {
	MaxConcurrent      int
	RequestsPerMinute  int
	TokensPerMinute    int
	MinRequestInterval time.Duration
	Logger             core.Logger
}

// DefaultRateTrackerConfig returns production defaults.
func DefaultRateTrackerConfig() *RateTrackerConfig {
	return &RateTrackerConfig{
		MaxConcurrent:      5,
		RequestsPerMinute:  60,
		TokensPerMinute:    90000,
		MinRequestInterval: 100 * time.Millisecond,
		Logger:             &core.NoOpLogger{},
	}
}

type tokenSample struct {
	at     time.Time
	tokens int
}

// RateTracker enforces three invariants over a sliding one-minute window:
// requests in the last 60s stay under RequestsPerMinute, tokens in the last
// 60s plus the pending estimate stay under TokensPerMinute, and in-flight
// requests stay under MaxConcurrent. It is shared by every outbound call
// in the process.
type RateTracker struct {
	config *RateTrackerConfig

	mu          sync.Mutex
	requests    []time.Time
	tokens      []tokenSample
	lastRequest time.Time

	slots chan struct{}
}

// NewRateTracker creates a rate tracker from config.
func NewRateTracker(config *RateTrackerConfig) *RateTracker {
	if config == nil {
		config = DefaultRateTrackerConfig()
	}
	if config.Logger == nil {
		config.Logger = &core.NoOpLogger{}
	}
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = 1
	}
	return &RateTracker{
		config: config,
		slots:  make(chan struct{}, config.MaxConcurrent),
	}
}

const rateWindow = time.Minute

// Wait blocks until the request and token windows admit a request with the
// given token estimate, then records the request timestamp. It returns a
// context error if cancelled while waiting.
func (rt *RateTracker) Wait(ctx context.Context, estimatedTokens int) error {
	for {
		wait := rt.tryAdmit(estimatedTokens)
		if wait == 0 {
			return nil
		}

		rt.config.Logger.Debug("Rate limit reached, waiting", map[string]interface{}{
			"operation":        "rate_limit_wait",
			"wait_ms":          wait.Milliseconds(),
			"estimated_tokens": estimatedTokens,
		})

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// tryAdmit checks both windows; on success it records the request and
// returns 0, otherwise it returns how long to wait before re-checking.
func (rt *RateTracker) tryAdmit(estimatedTokens int) time.Duration {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	now := time.Now()
	rt.prune(now)

	if len(rt.requests) >= rt.config.RequestsPerMinute {
		oldest := rt.requests[0]
		return oldest.Add(rateWindow).Sub(now) + time.Millisecond
	}

	used := 0
	for _, s := range rt.tokens {
		used += s.tokens
	}
	if used+estimatedTokens > rt.config.TokensPerMinute && len(rt.tokens) > 0 {
		oldest := rt.tokens[0]
		return oldest.at.Add(rateWindow).Sub(now) + time.Millisecond
	}

	rt.requests = append(rt.requests, now)
	return 0
}

// RecordUsage records the actual token cost of a completed request.
func (rt *RateTracker) RecordUsage(tokens int) {
	if tokens <= 0 {
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.prune(time.Now())
	rt.tokens = append(rt.tokens, tokenSample{at: time.Now(), tokens: tokens})
}

// Acquire takes one concurrency slot, blocking until one is free.
func (rt *RateTracker) Acquire(ctx context.Context) error {
	select {
	case rt.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a concurrency slot taken by Acquire.
func (rt *RateTracker) Release() {
	select {
	case <-rt.slots:
	default:
	}
}

// WaitMinInterval enforces the process-wide minimum inter-request interval.
func (rt *RateTracker) WaitMinInterval(ctx context.Context) error {
	rt.mu.Lock()
	sleep := time.Duration(0)
	now := time.Now()
	if !rt.lastRequest.IsZero() {
		if since := now.Sub(rt.lastRequest); since < rt.config.MinRequestInterval {
			sleep = rt.config.MinRequestInterval - since
		}
	}
	rt.lastRequest = now.Add(sleep)
	rt.mu.Unlock()

	if sleep == 0 {
		return nil
	}
	timer := time.NewTimer(sleep)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// InFlight returns the current number of occupied concurrency slots.
func (rt *RateTracker) InFlight() int {
	return len(rt.slots)
}

// Snapshot returns current window occupancy for observability endpoints.
func (rt *RateTracker) Snapshot() map[string]interface{} {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.prune(time.Now())

	used := 0
	for _, s := range rt.tokens {
		used += s.tokens
	}
	return map[string]interface{}{
		"requests_last_minute": len(rt.requests),
		"tokens_last_minute":   used,
		"in_flight":            len(rt.slots),
		"max_concurrent":       rt.config.MaxConcurrent,
	}
}

// prune drops window entries older than one minute (lock must be held).
func (rt *RateTracker) prune(now time.Time) {
	cutoff := now.Add(-rateWindow)
	i := 0
	for i < len(rt.requests) && rt.requests[i].Before(cutoff) {
		i++
	}
	rt.requests = rt.requests[i:]

	j := 0
	for j < len(rt.tokens) && rt.tokens[j].at.Before(cutoff) {
		j++
	}
	rt.tokens = rt.tokens[j:]
}
