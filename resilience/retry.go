package resilience

import (
	"math"
	"math/rand"
	"time"
)

// RetryConfig configures exponential backoff behavior.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryConfig provides sensible defaults.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
	}
}

// backoffDelay computes the delay before retry number attempt (0-based):
// min(InitialBackoff * Multiplier^attempt, MaxBackoff) plus up to 10% jitter
// to avoid synchronized retries across clients.
func (c *RetryConfig) backoffDelay(attempt int) time.Duration {
	delay := time.Duration(float64(c.InitialBackoff) * math.Pow(c.Multiplier, float64(attempt)))
	if delay > c.MaxBackoff {
		delay = c.MaxBackoff
	}
	jitter := time.Duration(rand.Float64() * 0.1 * float64(delay))
	return delay + jitter
}
