package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/jaberry835/agentmesh/core"
)

// UsageRecorder receives the token cost of completed calls. The tokens
// package implements it; the executor only knows the interface.
type UsageRecorder interface {
	Record(contextLabel string, tokensUsed, maxTokens int, truncated bool)
}

// ExecutorConfig assembles the resilience policies for one wrapper.
type ExecutorConfig struct {
	Name    string
	Rate    *RateTrackerConfig
	Retry   *RetryConfig
	Breaker *CircuitBreakerConfig

	Logger  core.Logger
	Metrics MetricsCollector
	Usage   UsageRecorder
}

// Executor wraps every outbound model/tool call with rate limiting,
// minimum-interval pacing, retry with exponential backoff, and a circuit
// breaker. A single executor may be shared process-wide, or one created
// per agent for isolation; both configurations are first-class.
type Executor struct {
	name    string
	rate    *RateTracker
	retry   *RetryConfig
	breaker *CircuitBreaker
	logger  core.Logger
	usage   UsageRecorder
}

// NewExecutor builds an executor from config. A nil config or missing
// sub-config falls back to defaults.
func NewExecutor(config *ExecutorConfig) (*Executor, error) {
	if config == nil {
		config = &ExecutorConfig{Name: "default"}
	}
	if config.Logger == nil {
		config.Logger = &core.NoOpLogger{}
	}
	if config.Rate == nil {
		config.Rate = DefaultRateTrackerConfig()
	}
	if config.Rate.Logger == nil {
		config.Rate.Logger = config.Logger
	}
	if config.Retry == nil {
		config.Retry = DefaultRetryConfig()
	}
	if config.Breaker == nil {
		config.Breaker = DefaultCircuitBreakerConfig(config.Name)
	}
	if config.Breaker.Logger == nil {
		config.Breaker.Logger = config.Logger
	}
	if config.Metrics != nil && config.Breaker.Metrics == nil {
		config.Breaker.Metrics = config.Metrics
	}

	breaker, err := NewCircuitBreaker(config.Breaker)
	if err != nil {
		return nil, err
	}

	return &Executor{
		name:    config.Name,
		rate:    NewRateTracker(config.Rate),
		retry:   config.Retry,
		breaker: breaker,
		logger:  config.Logger,
		usage:   config.Usage,
	}, nil
}

// NewSharedExecutor builds an executor reusing an existing rate tracker,
// so per-agent breakers can share the process-wide rate state.
func NewSharedExecutor(config *ExecutorConfig, rate *RateTracker) (*Executor, error) {
	e, err := NewExecutor(config)
	if err != nil {
		return nil, err
	}
	if rate != nil {
		e.rate = rate
	}
	return e, nil
}

// Execute runs fn with the full resilience pipeline. estimatedTokens is the
// pre-call token estimate used for the token-per-minute window; the actual
// usage reported by fn (via the returned count) replaces it when recorded.
//
// Order per attempt: circuit check, rate wait, concurrency slot, minimum
// interval, then fn. Cancellation at any suspension point aborts without
// retrying and without touching the breaker.
func (e *Executor) Execute(ctx context.Context, estimatedTokens int, fn func(ctx context.Context) (tokensUsed int, err error)) error {
	allowed, retryIn := e.breaker.Allow()
	if !allowed {
		e.logger.Warn("Call rejected by open circuit", map[string]interface{}{
			"operation": "resilient_execute",
			"name":      e.name,
			"retry_in":  retryIn.String(),
		})
		return &CircuitOpenError{Name: e.name, RetryIn: retryIn}
	}

	if err := e.rate.Wait(ctx, estimatedTokens); err != nil {
		return err
	}

	if err := e.rate.Acquire(ctx); err != nil {
		return err
	}
	defer e.rate.Release()

	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := e.rate.WaitMinInterval(ctx); err != nil {
			return err
		}

		start := time.Now()
		tokensUsed, err := fn(ctx)
		if err == nil {
			if tokensUsed <= 0 {
				tokensUsed = estimatedTokens
			}
			e.rate.RecordUsage(tokensUsed)
			if e.usage != nil {
				e.usage.Record(e.name, tokensUsed, estimatedTokens, false)
			}
			e.breaker.RecordSuccess()
			e.logger.Debug("Call succeeded", map[string]interface{}{
				"operation":   "resilient_execute",
				"name":        e.name,
				"attempt":     attempt,
				"tokens_used": tokensUsed,
				"duration_ms": time.Since(start).Milliseconds(),
			})
			return nil
		}

		if core.IsCancellation(err) {
			// Client gave up: no retry, no breaker update.
			return err
		}

		if !core.IsRetryable(err) {
			e.breaker.RecordFailure()
			return err
		}

		lastErr = err
		if attempt >= e.retry.MaxRetries {
			break
		}

		delay := e.retry.backoffDelay(attempt)
		e.logger.Warn("Retryable failure, backing off", map[string]interface{}{
			"operation": "resilient_execute",
			"name":      e.name,
			"attempt":   attempt,
			"delay_ms":  delay.Milliseconds(),
			"error":     err.Error(),
		})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	e.breaker.RecordFailure()
	e.logger.Error("Retries exhausted", map[string]interface{}{
		"operation":   "resilient_execute",
		"name":        e.name,
		"max_retries": e.retry.MaxRetries,
		"error":       lastErr.Error(),
	})
	return &core.OrchestrationError{
		Op:   "resilience.Execute",
		Kind: "upstream",
		Err:  lastErr,
	}
}

// BreakerState exposes the breaker state for observability endpoints.
func (e *Executor) BreakerState() string {
	return e.breaker.State()
}

// RateSnapshot exposes rate tracker occupancy for observability endpoints.
func (e *Executor) RateSnapshot() map[string]interface{} {
	return e.rate.Snapshot()
}

// Group manages per-agent executors that share one rate tracker, giving
// each remote endpoint an isolated circuit while keeping global fairness.
type Group struct {
	template ExecutorConfig
	rate     *RateTracker
	shared   bool

	mu        sync.Mutex
	executors map[string]*Executor
}

// NewGroup creates an executor group from a template config. The template's
// Name is replaced per member; its rate config seeds the shared tracker.
func NewGroup(template ExecutorConfig) *Group {
	if template.Rate == nil {
		template.Rate = DefaultRateTrackerConfig()
	}
	if template.Logger == nil {
		template.Logger = &core.NoOpLogger{}
	}
	if template.Rate.Logger == nil {
		template.Rate.Logger = template.Logger
	}
	return &Group{
		template:  template,
		rate:      NewRateTracker(template.Rate),
		executors: make(map[string]*Executor),
	}
}

// ShareBreaker collapses the group to a single circuit: every member
// resolves to one executor, so a failure of any remote endpoint trips
// the breaker for all of them. The shared rate tracker is unchanged.
func (g *Group) ShareBreaker() {
	g.mu.Lock()
	g.shared = true
	g.mu.Unlock()
}

// For returns the executor dedicated to name, creating it on first use.
func (g *Group) For(name string) (*Executor, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.shared {
		name = g.template.Name
		if name == "" {
			name = "agents"
		}
	}

	if e, ok := g.executors[name]; ok {
		return e, nil
	}

	config := g.template
	config.Name = name
	var breaker CircuitBreakerConfig
	if g.template.Breaker != nil {
		breaker = *g.template.Breaker
	} else {
		breaker = *DefaultCircuitBreakerConfig(name)
	}
	breaker.Name = name
	config.Breaker = &breaker

	e, err := NewSharedExecutor(&config, g.rate)
	if err != nil {
		return nil, err
	}
	g.executors[name] = e
	return e, nil
}

// States returns the breaker state of every member executor.
func (g *Group) States() map[string]string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]string, len(g.executors))
	for name, e := range g.executors {
		out[name] = e.BreakerState()
	}
	return out
}
