package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// BreakerMetrics adapts an OTel meter to the resilience layer's
// MetricsCollector interface.
type BreakerMetrics struct {
	successes    metric.Int64Counter
	failures     metric.Int64Counter
	rejections   metric.Int64Counter
	stateChanges metric.Int64Counter
}

// NewBreakerMetrics creates the circuit breaker instruments.
func NewBreakerMetrics(meter metric.Meter) (*BreakerMetrics, error) {
	successes, err := meter.Int64Counter("circuit_breaker.successes")
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("circuit_breaker.failures")
	if err != nil {
		return nil, err
	}
	rejections, err := meter.Int64Counter("circuit_breaker.rejections")
	if err != nil {
		return nil, err
	}
	stateChanges, err := meter.Int64Counter("circuit_breaker.state_changes")
	if err != nil {
		return nil, err
	}
	return &BreakerMetrics{
		successes:    successes,
		failures:     failures,
		rejections:   rejections,
		stateChanges: stateChanges,
	}, nil
}

func (m *BreakerMetrics) RecordSuccess(name string) {
	m.successes.Add(context.Background(), 1, metric.WithAttributes(attribute.String("breaker", name)))
}

func (m *BreakerMetrics) RecordFailure(name string) {
	m.failures.Add(context.Background(), 1, metric.WithAttributes(attribute.String("breaker", name)))
}

func (m *BreakerMetrics) RecordRejection(name string) {
	m.rejections.Add(context.Background(), 1, metric.WithAttributes(attribute.String("breaker", name)))
}

func (m *BreakerMetrics) RecordStateChange(name string, from, to string) {
	m.stateChanges.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("breaker", name),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}
