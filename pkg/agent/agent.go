// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent runs the fixed lifecycle shared by every pipeline stage:
// security check, validation, processing, counters and timing.
package agent

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/core"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/errors"
)

// Agent is one pipeline stage.
type Agent interface {
	// Name identifies the agent in logs, counters and permission sets.
	Name() string
	// Permissions lists the broker tools the agent may call.
	Permissions() []string
	// Validate checks the payload before processing.
	Validate(p *core.Payload) error
	// Process does the stage's work, writing its outputs into p.
	Process(ctx context.Context, p *core.Payload) Outcome
}

// Status classifies an Outcome.
type Status int

const (
	StatusSuccess Status = iota
	StatusDegraded
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusDegraded:
		return "degraded"
	case StatusFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome is the result of a stage. Degraded means the stage wrote usable,
// possibly empty, outputs and recorded warnings.
type Outcome struct {
	Status   Status
	Warnings []string
	Err      error
}

// Success is a clean outcome.
func Success() Outcome { return Outcome{Status: StatusSuccess} }

// Degraded is a usable outcome with warnings.
func Degraded(warnings ...string) Outcome {
	return Outcome{Status: StatusDegraded, Warnings: warnings}
}

// Fatal stops the pipeline with err.
func Fatal(err error) Outcome { return Outcome{Status: StatusFatal, Err: err} }

// Failed reports whether the outcome is fatal.
func (o Outcome) Failed() bool { return o.Status == StatusFatal }

// Metrics receives lifecycle counters and durations.
type Metrics interface {
	core.Counter
	RecordDuration(ctx context.Context, agent string, d time.Duration)
}

// Observer is told about every finished lifecycle.
type Observer interface {
	Observe(agent string, outcome Outcome, elapsed time.Duration)
}

// Observers fans one lifecycle out to several observers.
type Observers []Observer

// Observe implements Observer.
func (obs Observers) Observe(agent string, outcome Outcome, elapsed time.Duration) {
	for _, o := range obs {
		if o != nil {
			o.Observe(agent, outcome, elapsed)
		}
	}
}

// Lifecycle holds the optional capabilities Handle uses.
type Lifecycle struct {
	Security core.SecurityChecker
	Metrics  Metrics
	Observer Observer
	Logger   *slog.Logger
	Tracer   trace.Tracer
}

// Handle runs a through the lifecycle and returns its outcome. Fatal
// errors are returned unchanged; Degraded warnings are appended to the
// payload's warnings.
func Handle(ctx context.Context, a Agent, p *core.Payload, lc Lifecycle) Outcome {
	start := time.Now()
	name := a.Name()
	logger := lc.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("agent", name))
	tracer := lc.Tracer
	if tracer == nil {
		tracer = otel.Tracer("tgads/agent")
	}

	ctx = core.WithAgent(ctx, name)
	ctx, span := tracer.Start(ctx, "Agent.Handle", trace.WithAttributes(
		attribute.String("agent.name", name),
	))
	defer span.End()

	outcome := run(ctx, a, p, lc)
	if outcome.Failed() && outcome.Err == nil {
		outcome.Err = errors.Agent(name, "agent failed without an error", nil)
	}

	switch outcome.Status {
	case StatusSuccess:
		increment(ctx, lc.Metrics, name+".success")
	case StatusDegraded:
		for _, w := range outcome.Warnings {
			p.AddWarning(w)
		}
		increment(ctx, lc.Metrics, name+".success")
		increment(ctx, lc.Metrics, name+".degraded")
		logger.WarnContext(ctx, "agent degraded", slog.Any("warnings", outcome.Warnings))
	case StatusFatal:
		logger.ErrorContext(ctx, "agent failed", slog.String("error", outcome.Err.Error()))
		increment(ctx, lc.Metrics, name+".error")
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, outcome.Err.Error())
	}

	elapsed := time.Since(start)
	span.SetAttributes(attribute.String("agent.outcome", outcome.Status.String()))
	logger.InfoContext(ctx, "agent finished",
		slog.String("status", outcome.Status.String()),
		slog.Duration("duration", elapsed),
	)
	if lc.Metrics != nil {
		lc.Metrics.RecordDuration(ctx, name, elapsed)
	}
	if lc.Observer != nil {
		lc.Observer.Observe(name, outcome, elapsed)
	}
	return outcome
}

func run(ctx context.Context, a Agent, p *core.Payload, lc Lifecycle) Outcome {
	if lc.Security != nil {
		ok, err := lc.Security.Check(ctx, p)
		if err != nil || !ok {
			return Fatal(errors.Agent(a.Name(), "security policy violation", err))
		}
	}
	if err := ValidatePayload(p); err != nil {
		return Fatal(err)
	}
	if err := a.Validate(p); err != nil {
		return Fatal(err)
	}
	return a.Process(ctx, p)
}

func increment(ctx context.Context, m Metrics, name string) {
	if m != nil {
		m.Increment(ctx, name)
	}
}

// ValidatePayload is the default validation: the payload must exist.
func ValidatePayload(p *core.Payload) error {
	if p == nil {
		return NewInvalidInputError("payload is required")
	}
	return nil
}

// RequireKeys returns an error naming every key missing from p.
func RequireKeys(agent string, p *core.Payload, keys ...string) error {
	if err := ValidatePayload(p); err != nil {
		return err
	}
	if missing := p.Missing(keys...); len(missing) > 0 {
		return errors.MissingKeys(agent, missing)
	}
	return nil
}

// Base carries the static parts of an agent. Concrete agents embed it and
// implement Process.
type Base struct {
	AgentName string
	Tools     []string
	Required  []string
}

// Name implements Agent.
func (b Base) Name() string { return b.AgentName }

// Permissions implements Agent.
func (b Base) Permissions() []string { return append([]string(nil), b.Tools...) }

// Validate implements Agent by requiring b.Required.
func (b Base) Validate(p *core.Payload) error {
	return RequireKeys(b.AgentName, p, b.Required...)
}
