package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(t *testing.T, failures, successes int, recovery time.Duration) *CircuitBreaker {
	t.Helper()
	cb, err := NewCircuitBreaker(&CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: failures,
		SuccessThreshold: successes,
		RecoveryTimeout:  recovery,
	})
	require.NoError(t, err)
	return cb
}

func TestBreakerOpensAtFailureThreshold(t *testing.T) {
	cb := newTestBreaker(t, 3, 1, time.Minute)

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
		assert.Equal(t, "closed", cb.State())
	}
	cb.RecordFailure()
	assert.Equal(t, "open", cb.State())

	allowed, retryIn := cb.Allow()
	assert.False(t, allowed)
	assert.Greater(t, retryIn, time.Duration(0))
	assert.LessOrEqual(t, retryIn, time.Minute)
}

func TestBreakerRejectsDuringCooldown(t *testing.T) {
	cb := newTestBreaker(t, 1, 1, 50*time.Millisecond)
	cb.RecordFailure()

	allowed, _ := cb.Allow()
	assert.False(t, allowed, "open breaker must reject before recovery timeout")

	time.Sleep(60 * time.Millisecond)
	allowed, _ = cb.Allow()
	assert.True(t, allowed, "breaker should admit trial call after cooldown")
	assert.Equal(t, "half-open", cb.State())
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	cb := newTestBreaker(t, 1, 2, 10*time.Millisecond)
	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)

	allowed, _ := cb.Allow()
	require.True(t, allowed)
	require.Equal(t, "half-open", cb.State())

	cb.RecordSuccess()
	assert.Equal(t, "half-open", cb.State(), "one success is below the success threshold")
	cb.RecordSuccess()
	assert.Equal(t, "closed", cb.State(), "consecutive successes close the circuit")
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := newTestBreaker(t, 1, 2, 10*time.Millisecond)
	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)

	allowed, _ := cb.Allow()
	require.True(t, allowed)
	cb.RecordFailure()
	assert.Equal(t, "open", cb.State())
}

func TestBreakerSuccessResetsClosedCounter(t *testing.T) {
	cb := newTestBreaker(t, 2, 1, time.Minute)
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	assert.Equal(t, "closed", cb.State(), "non-consecutive failures must not open the circuit")
}

func TestBreakerStateChangeListener(t *testing.T) {
	cb := newTestBreaker(t, 1, 1, time.Minute)
	changes := make(chan string, 2)
	cb.AddStateChangeListener(func(name string, from, to CircuitState) {
		changes <- from.String() + "->" + to.String()
	})

	cb.RecordFailure()
	select {
	case change := <-changes:
		assert.Equal(t, "closed->open", change)
	case <-time.After(time.Second):
		t.Fatal("no state change notification")
	}
}

func TestBreakerConfigValidation(t *testing.T) {
	_, err := NewCircuitBreaker(&CircuitBreakerConfig{Name: "", FailureThreshold: 1, SuccessThreshold: 1})
	assert.Error(t, err)

	_, err = NewCircuitBreaker(&CircuitBreakerConfig{Name: "x", FailureThreshold: 0, SuccessThreshold: 1})
	assert.Error(t, err)

	_, err = NewCircuitBreaker(&CircuitBreakerConfig{Name: "x", FailureThreshold: 1, SuccessThreshold: 0})
	assert.Error(t, err)
}
