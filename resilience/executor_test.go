package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaberry835/agentmesh/core"
)

func fastRetry(retries int) *RetryConfig {
	return &RetryConfig{
		MaxRetries:     retries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func newTestExecutor(t *testing.T, retries int) *Executor {
	t.Helper()
	e, err := NewExecutor(&ExecutorConfig{
		Name: "test",
		Rate: &RateTrackerConfig{
			MaxConcurrent:     4,
			RequestsPerMinute: 1000,
			TokensPerMinute:   1000000,
		},
		Retry: fastRetry(retries),
		Breaker: &CircuitBreakerConfig{
			Name:             "test",
			FailureThreshold: 3,
			SuccessThreshold: 1,
			RecoveryTimeout:  50 * time.Millisecond,
		},
	})
	require.NoError(t, err)
	return e
}

func TestExecuteSuccess(t *testing.T) {
	e := newTestExecutor(t, 3)
	calls := 0
	err := e.Execute(context.Background(), 100, func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "closed", e.BreakerState())
}

func TestExecuteRetriesTransientErrors(t *testing.T) {
	e := newTestExecutor(t, 3)
	calls := 0
	err := e.Execute(context.Background(), 100, func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("upstream returned 503 service unavailable")
		}
		return 10, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, "closed", e.BreakerState(), "recovered call must not trip the breaker")
}

func TestExecuteDoesNotRetryClientErrors(t *testing.T) {
	e := newTestExecutor(t, 3)
	calls := 0
	err := e.Execute(context.Background(), 100, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("invalid task parameter")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecuteExhaustsRetriesAndRecordsFailure(t *testing.T) {
	e := newTestExecutor(t, 2)
	calls := 0
	err := e.Execute(context.Background(), 100, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("HTTP 500 internal error")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls, "initial attempt plus two retries")

	var oe *core.OrchestrationError
	assert.True(t, errors.As(err, &oe))
}

func TestExecuteOpensBreakerAfterRepeatedFailures(t *testing.T) {
	e := newTestExecutor(t, 0)
	fail := func(ctx context.Context) (int, error) {
		return 0, errors.New("HTTP 500 internal error")
	}

	for i := 0; i < 3; i++ {
		require.Error(t, e.Execute(context.Background(), 10, fail))
	}
	assert.Equal(t, "open", e.BreakerState())

	// Fourth call is rejected without invoking fn.
	calls := 0
	err := e.Execute(context.Background(), 10, func(ctx context.Context) (int, error) {
		calls++
		return 0, nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrCircuitBreakerOpen)
	assert.Equal(t, 0, calls)

	var coe *CircuitOpenError
	require.True(t, errors.As(err, &coe))
	assert.Greater(t, coe.RetryIn, time.Duration(0))

	// After the recovery timeout the breaker admits a trial call and
	// closes on success (success threshold 1).
	time.Sleep(60 * time.Millisecond)
	err = e.Execute(context.Background(), 10, func(ctx context.Context) (int, error) {
		return 5, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "closed", e.BreakerState())
}

func TestExecuteCancellationSkipsBreaker(t *testing.T) {
	e := newTestExecutor(t, 3)
	ctx, cancel := context.WithCancel(context.Background())

	err := e.Execute(ctx, 10, func(ctx context.Context) (int, error) {
		cancel()
		return 0, context.Canceled
	})
	require.Error(t, err)
	assert.True(t, core.IsCancellation(err))
	assert.Equal(t, "closed", e.BreakerState(), "cancellation must not count as breaker failure")
}

func TestExecuteCancelledDuringBackoff(t *testing.T) {
	e, err := NewExecutor(&ExecutorConfig{
		Name:  "slow",
		Rate:  &RateTrackerConfig{MaxConcurrent: 1, RequestsPerMinute: 1000, TokensPerMinute: 1000000},
		Retry: &RetryConfig{MaxRetries: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour, Multiplier: 2},
		Breaker: &CircuitBreakerConfig{
			Name: "slow", FailureThreshold: 10, SuccessThreshold: 1, RecoveryTimeout: time.Minute,
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- e.Execute(ctx, 10, func(ctx context.Context) (int, error) {
			return 0, errors.New("timeout contacting upstream")
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case execErr := <-done:
		assert.ErrorIs(t, execErr, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("execute did not abort backoff sleep on cancellation")
	}
}

func TestExecuteReleasesSlotOnFailure(t *testing.T) {
	e := newTestExecutor(t, 0)
	for i := 0; i < 10; i++ {
		_ = e.Execute(context.Background(), 10, func(ctx context.Context) (int, error) {
			return 0, errors.New("bad input")
		})
	}
	assert.Equal(t, 0, e.RateSnapshot()["in_flight"])
}

func TestExecutorConcurrencyLimit(t *testing.T) {
	e, err := NewExecutor(&ExecutorConfig{
		Name: "bounded",
		Rate: &RateTrackerConfig{MaxConcurrent: 2, RequestsPerMinute: 1000, TokensPerMinute: 1000000},
		Breaker: &CircuitBreakerConfig{
			Name: "bounded", FailureThreshold: 5, SuccessThreshold: 1, RecoveryTimeout: time.Minute,
		},
	})
	require.NoError(t, err)

	var mu sync.Mutex
	inFlight, peak := 0, 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.Execute(context.Background(), 10, func(ctx context.Context) (int, error) {
				mu.Lock()
				inFlight++
				if inFlight > peak {
					peak = inFlight
				}
				mu.Unlock()

				time.Sleep(10 * time.Millisecond)

				mu.Lock()
				inFlight--
				mu.Unlock()
				return 1, nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak, 2, "semaphore must bound concurrent executions")
}

type recordedUsage struct {
	label     string
	tokens    int
	truncated bool
}

type captureUsage struct {
	mu      sync.Mutex
	records []recordedUsage
}

func (c *captureUsage) Record(label string, tokensUsed, maxTokens int, truncated bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, recordedUsage{label, tokensUsed, truncated})
}

func TestExecuteRecordsUsage(t *testing.T) {
	usage := &captureUsage{}
	e, err := NewExecutor(&ExecutorConfig{
		Name:  "usage",
		Rate:  &RateTrackerConfig{MaxConcurrent: 1, RequestsPerMinute: 1000, TokensPerMinute: 1000000},
		Usage: usage,
		Breaker: &CircuitBreakerConfig{
			Name: "usage", FailureThreshold: 5, SuccessThreshold: 1, RecoveryTimeout: time.Minute,
		},
	})
	require.NoError(t, err)

	require.NoError(t, e.Execute(context.Background(), 100, func(ctx context.Context) (int, error) {
		return 321, nil
	}))

	require.Len(t, usage.records, 1)
	assert.Equal(t, "usage", usage.records[0].label)
	assert.Equal(t, 321, usage.records[0].tokens)
}

func TestGroupIsolatesBreakersSharesRate(t *testing.T) {
	g := NewGroup(ExecutorConfig{
		Rate: &RateTrackerConfig{MaxConcurrent: 4, RequestsPerMinute: 1000, TokensPerMinute: 1000000},
		Breaker: &CircuitBreakerConfig{
			Name: "template", FailureThreshold: 1, SuccessThreshold: 1, RecoveryTimeout: time.Minute,
		},
		Retry: fastRetry(0),
	})

	adx, err := g.For("ADXAgent")
	require.NoError(t, err)
	docs, err := g.For("DocumentAgent")
	require.NoError(t, err)

	_ = adx.Execute(context.Background(), 10, func(ctx context.Context) (int, error) {
		return 0, errors.New("HTTP 502 bad gateway")
	})

	states := g.States()
	assert.Equal(t, "open", states["ADXAgent"])
	assert.Equal(t, "closed", states["DocumentAgent"])

	again, err := g.For("ADXAgent")
	require.NoError(t, err)
	assert.Same(t, adx, again)
	assert.Same(t, adx.rate, docs.rate, "group members share one rate tracker")
}

func TestGroupSharedBreakerCollapsesMembers(t *testing.T) {
	g := NewGroup(ExecutorConfig{
		Name: "agents",
		Rate: &RateTrackerConfig{MaxConcurrent: 4, RequestsPerMinute: 1000, TokensPerMinute: 1000000},
		Breaker: &CircuitBreakerConfig{
			Name: "agents", FailureThreshold: 1, SuccessThreshold: 1, RecoveryTimeout: time.Minute,
		},
		Retry: fastRetry(0),
	})
	g.ShareBreaker()

	adx, err := g.For("ADXAgent")
	require.NoError(t, err)
	docs, err := g.For("DocumentAgent")
	require.NoError(t, err)
	assert.Same(t, adx, docs, "every member resolves to one executor")

	_ = adx.Execute(context.Background(), 10, func(ctx context.Context) (int, error) {
		return 0, errors.New("HTTP 502 bad gateway")
	})

	states := g.States()
	require.Len(t, states, 1)
	assert.Equal(t, "open", states["agents"])
}
