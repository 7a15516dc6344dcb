// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/errors"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/resilience"
)

// AgentMetrics records agent lifecycle counters and durations as otel
// instruments. Counter names such as "copywriter.success" become one
// counter with agent and event attributes.
type AgentMetrics struct {
	events   metric.Int64Counter
	duration metric.Float64Histogram
}

// NewAgentMetrics creates the instruments on meter, or on the global meter
// provider when meter is nil.
func NewAgentMetrics(meter metric.Meter) (*AgentMetrics, error) {
	if meter == nil {
		meter = otel.Meter("tgads/agents")
	}
	events, err := meter.Int64Counter(
		"tgads.agent.events",
		metric.WithDescription("Agent lifecycle events by agent and event"),
	)
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram(
		"tgads.agent.duration",
		metric.WithDescription("Agent handle duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	return &AgentMetrics{events: events, duration: duration}, nil
}

// Increment implements core.Counter.
func (m *AgentMetrics) Increment(ctx context.Context, name string) {
	if m == nil {
		return
	}
	agentName, event := name, "count"
	if i := strings.LastIndex(name, "."); i > 0 {
		agentName, event = name[:i], name[i+1:]
	}
	m.events.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrAgentName, agentName),
		attribute.String(AttrAgentEvent, event),
	))
}

// RecordDuration implements agent.Metrics.
func (m *AgentMetrics) RecordDuration(ctx context.Context, agentName string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String(AttrAgentName, agentName)))
}

// ErrorMetrics counts classified errors and tracks circuit breaker state.
type ErrorMetrics struct {
	errorCounter  metric.Int64Counter
	breakerStates metric.Int64Gauge
}

// NewErrorMetrics creates the instruments on meter, or on the global meter
// provider when meter is nil.
func NewErrorMetrics(meter metric.Meter) (*ErrorMetrics, error) {
	if meter == nil {
		meter = otel.Meter("tgads/errors")
	}
	errorCounter, err := meter.Int64Counter(
		"tgads.errors.total",
		metric.WithDescription("Errors by code and component"),
	)
	if err != nil {
		return nil, err
	}
	breakerStates, err := meter.Int64Gauge(
		"tgads.circuitbreaker.state",
		metric.WithDescription("Circuit breaker state per component (0=open, 1=half-open, 2=closed)"),
	)
	if err != nil {
		return nil, err
	}
	return &ErrorMetrics{errorCounter: errorCounter, breakerStates: breakerStates}, nil
}

// RecordError counts err under its code. Unclassified errors count as
// INTERNAL_ERROR.
func (em *ErrorMetrics) RecordError(ctx context.Context, err error, component string) {
	if em == nil || err == nil {
		return
	}
	e := errors.As(err)
	em.errorCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrErrorCode, string(e.Code)),
		attribute.String(AttrComponent, component),
		attribute.String("recoverable", e.RecoverableString()),
	))
}

// RecordCircuitBreakerState records a breaker transition.
func (em *ErrorMetrics) RecordCircuitBreakerState(ctx context.Context, component string, state resilience.CircuitBreakerState) {
	if em == nil {
		return
	}
	var value int64
	switch state {
	case resilience.StateHalfOpen:
		value = 1
	case resilience.StateClosed:
		value = 2
	}
	em.breakerStates.Record(ctx, value, metric.WithAttributes(attribute.String(AttrComponent, component)))
}
