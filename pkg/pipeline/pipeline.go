// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline runs the four agents in order over one shared payload:
// prompt architect, copywriter, banner designer, QA inspector.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/agent"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/agents"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/broker"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/cache"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/core"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/errors"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/governance"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/resilience"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/storage"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/telemetry"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/templates"
)

// Metadata keys written by the runner.
const (
	MetaRequestID    = "request_id"
	MetaStageStatus  = "stage_status"
	MetaTextRecordID = "text_record_id"
	MetaDuration     = "processing_time"
)

// ToolSet builds the tools registered on each run's broker.
type ToolSet func() []core.Tool

// Recorder receives run and stage measurements. telemetry.Collector
// implements it.
type Recorder interface {
	RecordRun(success bool, elapsed time.Duration)
	RecordStage(stage, status string, elapsed time.Duration)
	RecordQA(status string)
}

// Config holds stage policy.
type Config struct {
	// StageTimeouts bounds each stage, keyed by agent name. Missing or zero
	// entries are unbounded.
	StageTimeouts map[string]time.Duration
	// TotalTimeout bounds the whole run. Zero is unbounded.
	TotalTimeout time.Duration
	// StopOnDegraded lists stages whose Degraded outcome aborts the run.
	StopOnDegraded []string
	MaxTextLength  int
	RulesVersion   string
}

// DefaultConfig returns the production timeouts.
func DefaultConfig() Config {
	return Config{
		StageTimeouts: map[string]time.Duration{
			agents.PromptArchitect: 45 * time.Second,
			agents.Copywriter:      90 * time.Second,
			agents.BannerDesigner:  300 * time.Second,
			agents.QAInspector:     30 * time.Second,
		},
		TotalTimeout:  600 * time.Second,
		MaxTextLength: agents.DefaultMaxTextLength,
		RulesVersion:  agents.DefaultRulesVersion,
	}
}

// StageError reports the stage that aborted a run.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("stage %s: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

// Runner executes pipeline runs. It is safe for concurrent use; every run
// gets its own broker.
type Runner struct {
	cfg       Config
	tools     ToolSet
	retry     resilience.RetryPolicy
	cache     cache.Cache
	noCache   bool
	security  core.SecurityChecker
	images    agents.ImagePromptValidator
	policy    governance.PolicyEngine
	templates atomic.Pointer[templates.Set]
	texts     storage.TextSaver
	metrics   agent.Metrics
	observer  agent.Observer
	emitter   core.EventEmitter
	recorder  Recorder
	errors    *telemetry.ErrorMetrics
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Option configures a Runner.
type Option func(*Runner)

// WithConfig sets the stage policy.
func WithConfig(cfg Config) Option { return func(r *Runner) { r.cfg = cfg } }

// WithRetry sets the broker retry policy.
func WithRetry(p resilience.RetryPolicy) Option { return func(r *Runner) { r.retry = p } }

// WithSharedCache makes every run use c instead of a per-run memory cache.
func WithSharedCache(c cache.Cache) Option { return func(r *Runner) { r.cache = c } }

// WithoutCache disables result caching.
func WithoutCache() Option { return func(r *Runner) { r.noCache = true } }

// WithSecurity sets the checker consulted by the broker and the agent
// lifecycle.
func WithSecurity(s core.SecurityChecker) Option { return func(r *Runner) { r.security = s } }

// WithImagePromptValidator sets the prompt architect's image prompt screen.
func WithImagePromptValidator(v agents.ImagePromptValidator) Option {
	return func(r *Runner) { r.images = v }
}

// WithPolicy applies a rule set on top of agent permissions.
func WithPolicy(engine governance.PolicyEngine) Option { return func(r *Runner) { r.policy = engine } }

// WithTemplates sets the prompt templates.
func WithTemplates(set *templates.Set) Option { return func(r *Runner) { r.SetTemplates(set) } }

// WithTextStore persists the final text of every run.
func WithTextStore(s storage.TextSaver) Option { return func(r *Runner) { r.texts = s } }

// WithMetrics sets the agent counters.
func WithMetrics(m agent.Metrics) Option { return func(r *Runner) { r.metrics = m } }

// WithObserver sets the agent outcome observer.
func WithObserver(o agent.Observer) Option { return func(r *Runner) { r.observer = o } }

// WithEmitter receives pipeline and stage events.
func WithEmitter(e core.EventEmitter) Option { return func(r *Runner) { r.emitter = e } }

// WithRecorder sets the run and stage recorder.
func WithRecorder(rec Recorder) Option { return func(r *Runner) { r.recorder = rec } }

// WithErrorMetrics counts stage failures by code.
func WithErrorMetrics(em *telemetry.ErrorMetrics) Option { return func(r *Runner) { r.errors = em } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(r *Runner) {
		if t != nil {
			r.tracer = t
		}
	}
}

// New creates a runner over tools.
func New(tools ToolSet, opts ...Option) *Runner {
	r := &Runner{
		cfg:     DefaultConfig(),
		tools:   tools,
		logger:  slog.Default(),
		tracer:  otel.Tracer("tgads/pipeline"),
		emitter: core.NoopEventEmitter{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.retry == nil {
		r.retry = resilience.DefaultRetryConfig().WithLogger(r.logger)
	}
	if r.templates.Load() == nil {
		r.templates.Store(templates.Default())
	}
	return r
}

// SetTemplates replaces the prompt templates. Runs already in flight keep
// the set they started with.
func (r *Runner) SetTemplates(set *templates.Set) {
	if set != nil {
		r.templates.Store(set)
	}
}

type stage struct {
	agent          agent.Agent
	timeout        time.Duration
	stopOnDegraded bool
}

func (r *Runner) newBroker() *broker.Broker {
	opts := []broker.Option{
		broker.WithRetry(r.retry),
		broker.WithLogger(r.logger),
	}
	switch {
	case r.noCache:
	case r.cache != nil:
		opts = append(opts, broker.WithCache(r.cache))
	default:
		opts = append(opts, broker.WithCache(cache.NewMemory()))
	}
	if r.security != nil {
		opts = append(opts, broker.WithSecurity(r.security))
	}
	if r.policy != nil {
		opts = append(opts, broker.WithPolicy(r.policy))
	}
	b := broker.New(opts...)
	if r.tools != nil {
		for _, tool := range r.tools() {
			b.Register(tool)
		}
	}
	return b
}

func (r *Runner) stages(b *broker.Broker) []stage {
	list := []agent.Agent{
		agents.NewPromptAgent(r.templates.Load(), r.images, r.cfg.MaxTextLength, r.logger),
		agents.NewCopywriterAgent(b, r.cfg.MaxTextLength, r.logger),
		agents.NewBannerDesignerAgent(b, r.logger),
		agents.NewQAAgent(b, r.cfg.RulesVersion, r.logger),
	}
	stop := make(map[string]bool, len(r.cfg.StopOnDegraded))
	for _, name := range r.cfg.StopOnDegraded {
		stop[name] = true
	}
	out := make([]stage, 0, len(list))
	for _, a := range list {
		out = append(out, stage{
			agent:          a,
			timeout:        r.cfg.StageTimeouts[a.Name()],
			stopOnDegraded: stop[a.Name()],
		})
	}
	return out
}

// Run executes the four stages over p and returns it. On failure the
// returned error is a *StageError and p holds the partial results.
func (r *Runner) Run(ctx context.Context, p *core.Payload) (*core.Payload, error) {
	if p == nil {
		return nil, agent.NewInvalidInputError("payload is required")
	}
	start := time.Now()
	ctx, requestID := core.EnsureRequestID(ctx)
	p.SetMeta(MetaRequestID, requestID)

	if r.cfg.TotalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.TotalTimeout)
		defer cancel()
	}
	ctx, span := r.tracer.Start(ctx, "Pipeline.Run",
		trace.WithAttributes(telemetry.RunAttributes(requestID, p.String(core.KeyProduct))...))
	defer span.End()

	r.emitter.Emit(ctx, core.NewEvent(core.EventPipelineStarted, "", requestID, map[string]any{
		core.KeyProduct: p.String(core.KeyProduct),
	}))

	b := r.newBroker()
	stages := r.stages(b)
	for _, s := range stages {
		b.SetAgentPermissions(s.agent.Name(), s.agent.Permissions()...)
	}

	lc := agent.Lifecycle{
		Security: r.security,
		Metrics:  r.metrics,
		Observer: r.observer,
		Logger:   r.logger,
		Tracer:   r.tracer,
	}

	statuses := make(map[string]string, len(stages))
	var runErr error
	for _, s := range stages {
		name := s.agent.Name()
		r.emitter.Emit(ctx, core.NewEvent(core.EventStageStarted, name, requestID, nil))
		outcome := r.runStage(ctx, s, p, lc)
		r.emitter.Emit(ctx, stageEvent(name, requestID, outcome))
		statuses[name] = outcome.Status.String()
		p.SetMeta(MetaStageStatus, copyStatuses(statuses))

		if outcome.Failed() {
			runErr = &StageError{Stage: name, Err: outcome.Err}
			break
		}
		if outcome.Status == agent.StatusDegraded && s.stopOnDegraded {
			runErr = &StageError{
				Stage: name,
				Err: errors.Agent(name, "stage degraded", nil).
					WithContext("warnings", outcome.Warnings),
			}
			break
		}
	}

	elapsed := time.Since(start)
	p.SetMeta(MetaDuration, elapsed.Seconds())
	if r.recorder != nil {
		r.recorder.RecordRun(runErr == nil, elapsed)
	}

	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		r.errors.RecordError(ctx, runErr, "pipeline")
		r.logger.ErrorContext(ctx, "pipeline aborted", "error", runErr, "duration", elapsed)
		r.emitter.Emit(ctx, core.NewEvent(core.EventPipelineFailed, "", requestID, map[string]any{
			"error":      runErr.Error(),
			MetaDuration: elapsed.Seconds(),
		}))
		return p, runErr
	}

	qa := p.String(core.KeyQAStatus)
	span.SetAttributes(attribute.String(telemetry.AttrQAStatus, qa))
	if r.recorder != nil {
		r.recorder.RecordQA(qa)
	}
	r.saveText(ctx, p, requestID)
	r.logger.InfoContext(ctx, "pipeline finished", "qa_status", qa, "duration", elapsed)
	r.emitter.Emit(ctx, core.NewEvent(core.EventPipelineCompleted, "", requestID, map[string]any{
		core.KeyQAStatus: qa,
		MetaDuration:     elapsed.Seconds(),
	}))
	return p, nil
}

func stageEvent(stage, requestID string, o agent.Outcome) core.Event {
	switch o.Status {
	case agent.StatusDegraded:
		return core.NewEvent(core.EventStageDegraded, stage, requestID, map[string]any{"warnings": o.Warnings})
	case agent.StatusFatal:
		return core.NewEvent(core.EventStageFailed, stage, requestID, map[string]any{"error": o.Err.Error()})
	default:
		return core.NewEvent(core.EventStageCompleted, stage, requestID, nil)
	}
}

func (r *Runner) runStage(ctx context.Context, s stage, p *core.Payload, lc agent.Lifecycle) agent.Outcome {
	name := s.agent.Name()
	start := time.Now()
	// The stage writes into a copy. A timed out stage keeps running in the
	// background and must not touch the results Run returns.
	work := p.Clone()
	outcome, err := resilience.WithTimeoutResult(ctx, resilience.TimeoutConfig{
		Duration:  s.timeout,
		Operation: name,
	}, func(ctx context.Context) (agent.Outcome, error) {
		return agent.Handle(ctx, s.agent, work, lc), nil
	})
	if err != nil {
		// Handle did not return in time, so its counters were not updated.
		if r.metrics != nil {
			r.metrics.Increment(ctx, name+".error")
		}
		outcome = agent.Fatal(err)
	} else {
		p.Merge(work)
	}
	if r.recorder != nil {
		r.recorder.RecordStage(name, outcome.Status.String(), time.Since(start))
	}
	return outcome
}

// saveText stores the final text. Failures are logged and never fail the
// run.
func (r *Runner) saveText(ctx context.Context, p *core.Payload, requestID string) {
	text := p.String(core.KeyFinalText)
	if r.texts == nil || text == "" {
		return
	}
	meta := map[string]any{
		"product":    p.String(core.KeyProduct),
		"style":      p.String(core.KeyStyle),
		"qa_status":  p.String(core.KeyQAStatus),
		"qa_report":  p.Strings(core.KeyQAReport),
		"banner_url": p.String(core.KeyBannerURL),
	}
	id, err := r.texts.SaveText(ctx, text, meta, p.String(core.KeyTextModel), requestID)
	if err != nil {
		r.errors.RecordError(ctx, errors.New(errors.CodeStorage, "save text", err), "storage")
		r.logger.WarnContext(ctx, "failed to save text", "error", err)
		return
	}
	p.SetMeta(MetaTextRecordID, id)
}

// Health reports the tools a run would get.
func (r *Runner) Health(ctx context.Context) core.HealthResult {
	return r.newBroker().Health(ctx)
}

// RunPipeline runs a map-shaped brief and returns the payload projection
// plus a "metadata" entry.
func (r *Runner) RunPipeline(ctx context.Context, input map[string]any) (map[string]any, error) {
	p, err := r.Run(ctx, core.PayloadFromMap(input))
	if p == nil {
		return nil, err
	}
	out := p.ToMap()
	out["metadata"] = p.Metadata()
	return out, err
}

func copyStatuses(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
