// SPDX-License-Identifier: Apache-2.0

// Package broker mediates every tool call made by an agent. A call passes
// the agent's permission set, the result cache, the external security
// check and the retry policy, in that order.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/cache"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/core"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/errors"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/governance"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/resilience"
)

// Call outcomes recorded on spans and metrics.
const (
	OutcomeOK       = "ok"
	OutcomeCached   = "cached"
	OutcomeDenied   = "denied"
	OutcomeRejected = "rejected"
	OutcomeNotFound = "not_found"
	OutcomeFailed   = "failed"
)

const durationInstrument = "broker.call.duration"

// Broker is the tool-call mediator shared by the agents of one pipeline run.
type Broker struct {
	registry *Registry
	retry    resilience.RetryPolicy
	cache    cache.Cache
	security core.SecurityChecker
	perms    *governance.Permissions

	logger   *slog.Logger
	tracer   trace.Tracer
	duration metric.Float64Histogram

	flight singleflight.Group
}

// Option configures a Broker.
type Option func(*Broker)

// WithRegistry uses an existing registry.
func WithRegistry(r *Registry) Option {
	return func(b *Broker) {
		if r != nil {
			b.registry = r
		}
	}
}

// WithRetry sets the retry policy.
func WithRetry(p resilience.RetryPolicy) Option {
	return func(b *Broker) {
		if p != nil {
			b.retry = p
		}
	}
}

// WithCache enables result caching.
func WithCache(c cache.Cache) Option {
	return func(b *Broker) { b.cache = c }
}

// WithSecurity sets the external checker applied to tool arguments.
func WithSecurity(s core.SecurityChecker) Option {
	return func(b *Broker) { b.security = s }
}

// WithPolicy applies a rule set on top of the agent permission sets.
func WithPolicy(engine governance.PolicyEngine) Option {
	return func(b *Broker) { b.perms = governance.NewPermissions(engine) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(b *Broker) {
		if t != nil {
			b.tracer = t
		}
	}
}

// WithMeter sets the meter the call duration histogram is created on.
func WithMeter(m metric.Meter) Option {
	return func(b *Broker) {
		if m == nil {
			return
		}
		if h, err := newDurationHistogram(m); err == nil {
			b.duration = h
		}
	}
}

// New creates a broker. Without options it has an empty registry, the
// default retry policy and no cache.
func New(opts ...Option) *Broker {
	b := &Broker{
		registry: NewRegistry(),
		perms:    governance.NewPermissions(nil),
		logger:   slog.Default(),
		tracer:   otel.Tracer("tgads/broker"),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.retry == nil {
		b.retry = resilience.DefaultRetryConfig().WithLogger(b.logger)
	}
	if b.duration == nil {
		b.duration, _ = newDurationHistogram(otel.Meter("tgads/broker"))
	}
	return b
}

func newDurationHistogram(m metric.Meter) (metric.Float64Histogram, error) {
	return m.Float64Histogram(durationInstrument,
		metric.WithDescription("Duration of brokered tool calls"),
		metric.WithUnit("s"),
	)
}

// Register adds a tool to the broker's registry.
func (b *Broker) Register(tool core.Tool) { b.registry.Register(tool) }

// Registry returns the underlying registry.
func (b *Broker) Registry() *Registry { return b.registry }

// SetAgentPermissions replaces the tools agent may call.
func (b *Broker) SetAgentPermissions(agent string, tools ...string) {
	b.perms.Set(agent, tools...)
	b.logger.Debug("agent permissions set", "agent", agent, "tools", tools)
}

// GetAgentPermissions returns a sorted copy of the agent's tools.
func (b *Broker) GetAgentPermissions(agent string) []string {
	return b.perms.Get(agent)
}

// Call invokes tool on behalf of agent. An empty agent name bypasses the
// permission check.
func (b *Broker) Call(ctx context.Context, tool, agent string, args core.Args) (core.Result, error) {
	start := time.Now()
	ctx, span := b.tracer.Start(ctx, "Broker.Call", trace.WithAttributes(
		attribute.String("tool.name", tool),
		attribute.String("agent.name", agent),
	))
	defer span.End()

	result, outcome, err := b.call(ctx, tool, agent, args)

	elapsed := time.Since(start)
	attrs := []attribute.KeyValue{
		attribute.String("tool", tool),
		attribute.String("agent", agent),
		attribute.String("outcome", outcome),
	}
	b.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attrs...))
	span.SetAttributes(attribute.String("broker.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	b.logger.DebugContext(ctx, "tool call finished",
		"tool", tool,
		"agent", agent,
		"outcome", outcome,
		"duration", elapsed,
	)
	return result, err
}

func (b *Broker) call(ctx context.Context, tool, agent string, args core.Args) (core.Result, string, error) {
	if d := b.perms.Check(ctx, agent, tool); !d.IsAllowed() {
		err := errors.Permission(agent, tool)
		if d.RuleID != "" {
			err = err.WithContext("rule", d.RuleID)
		}
		b.logger.WarnContext(ctx, "tool call denied", "tool", tool, "agent", agent, "reason", d.Reason)
		return nil, OutcomeDenied, err
	}

	key := cache.Key(tool, args)
	if b.cache != nil {
		if cached, ok := b.cache.Get(ctx, key); ok {
			return cached, OutcomeCached, nil
		}
	}

	if b.security != nil {
		ok, err := b.security.Check(ctx, args)
		if err != nil {
			return nil, OutcomeRejected, errors.New(errors.CodeSecurity,
				fmt.Sprintf("security check for tool %q failed", tool), err).WithContext("tool", tool)
		}
		if !ok {
			return nil, OutcomeRejected, errors.Security(fmt.Sprintf("arguments of tool %q rejected by security policy", tool)).
				WithContext("tool", tool).
				WithContext("agent", agent)
		}
	}

	impl, err := b.registry.Get(tool)
	if err != nil {
		return nil, OutcomeNotFound, err
	}

	v, err, shared := b.flight.Do(key, func() (any, error) {
		return b.retry.Run(ctx, tool, func(ctx context.Context) (core.Result, error) {
			return impl.Execute(ctx, args)
		})
	})
	if err != nil {
		return nil, OutcomeFailed, err
	}
	result, _ := v.(core.Result)
	if shared {
		result = copyResult(result)
	}

	if b.cache != nil {
		b.cache.Set(ctx, key, result)
	}
	return result, OutcomeOK, nil
}

func copyResult(r core.Result) core.Result {
	if r == nil {
		return nil
	}
	out := make(core.Result, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Health reports the broker's registered tools and agents.
func (b *Broker) Health(ctx context.Context) core.HealthResult {
	tools := b.registry.Names()
	status := core.HealthHealthy
	msg := "broker ready"
	if len(tools) == 0 {
		status = core.HealthDegraded
		msg = "no tools registered"
	}
	cacheKind := "none"
	switch c := b.cache.(type) {
	case nil:
	case *cache.Memory:
		cacheKind = "memory"
	case *cache.Redis:
		cacheKind = "redis"
		if err := c.Ping(ctx); err != nil {
			status = core.HealthDegraded
			msg = "cache unreachable"
		}
	default:
		cacheKind = fmt.Sprintf("%T", c)
	}
	return core.HealthResult{
		Status:    status,
		Component: "broker",
		Message:   msg,
		Details: map[string]any{
			"tools":       tools,
			"agents":      b.perms.Len(),
			"cache":       cacheKind,
			"tools_count": len(tools),
		},
		LastCheck: time.Now(),
	}
}
