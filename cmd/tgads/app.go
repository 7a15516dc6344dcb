// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/agent"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/agents"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/broker"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/cache"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/config"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/core"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/diffusion"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/governance"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/llm"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/pipeline"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/publish"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/resilience"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/security"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/storage"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/telemetry"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/templates"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/tools"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	checker   *security.Checker
	images    *storage.ImageStore
	texts     *storage.TextStore
	cache     cache.Cache
	policy    governance.PolicyEngine
	collector *telemetry.Collector
	tracker   *agent.Tracker
	health    *core.HealthRegistry
	errors    *telemetry.ErrorMetrics
	tools     tools.Set
	runner    *pipeline.Runner
	publisher *publish.Telegram

	closers []func(context.Context) error
}

type appOptions struct {
	logOutput io.Writer
	offline   bool
	publish   bool
}

func loadConfig(g *globalFlags) (*config.Config, error) {
	cfg, err := config.LoadWithCLI(g.cliArgs())
	if err != nil {
		return nil, NewConfigError(err, g.ConfigPath)
	}
	return cfg, nil
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (_ *app, err error) {
	if opts.logOutput == nil {
		opts.logOutput = os.Stderr
	}
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	a.logger = telemetry.ConfigureSlog(opts.logOutput, cfg.Log.Level, cfg.Log.Format)

	shutdown, err := telemetry.InitWithConfig("tgads", version, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.closers = append(a.closers, shutdown)

	meter := otel.Meter("tgads")
	agentMetrics, err := telemetry.NewAgentMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("agent metrics: %w", err)
	}
	if a.errors, err = telemetry.NewErrorMetrics(meter); err != nil {
		return nil, fmt.Errorf("error metrics: %w", err)
	}
	a.collector = telemetry.NewCollector("tgads")
	a.tracker = agent.NewTracker()

	if a.checker, err = newChecker(cfg, a.logger); err != nil {
		return nil, err
	}
	tmpl, err := templates.Load(cfg.TelegramAds.TemplatesFile)
	if err != nil {
		return nil, NewConfigError(err, cfg.TelegramAds.TemplatesFile)
	}
	if len(cfg.Policies) > 0 {
		a.policy = governance.NewRuleSet(cfg.Policies)
	}

	if a.cache, err = a.newCache(ctx); err != nil {
		return nil, err
	}
	if a.images, err = storage.NewImageStore(cfg.Storage.Images); err != nil {
		return nil, err
	}
	if cfg.Storage.Enabled {
		if a.texts, err = storage.Open(ctx, cfg.Storage.Text); err != nil {
			return nil, fmt.Errorf("open text storage: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return a.texts.Close() })
	}

	provider, err := a.newProvider(ctx, opts.offline)
	if err != nil {
		return nil, err
	}
	a.tools = tools.Set{
		Text: tools.NewTextTool(provider,
			tools.WithModel(cfg.LLM.Model),
			tools.WithTemperature(cfg.LLM.Temperature),
			tools.WithMaxTokens(cfg.LLM.MaxTokens),
			tools.WithTextLogger(a.logger),
		),
		Image:      tools.NewImageTool(a.newGenerator(ctx, opts.offline), a.images, a.logger),
		Compliance: tools.NewComplianceTool(a.checker),
	}

	runnerOpts := []pipeline.Option{
		pipeline.WithConfig(pipeline.Config{
			StageTimeouts:  cfg.Agents.StageTimeouts(),
			TotalTimeout:   cfg.Agents.Total(),
			StopOnDegraded: cfg.Agents.StopOnDegraded,
			MaxTextLength:  cfg.TelegramAds.MaxTextLength,
			RulesVersion:   cfg.TelegramAds.RulesVersion,
		}),
		pipeline.WithRetry(cfg.Agents.Retry().WithLogger(a.logger)),
		pipeline.WithSecurity(a.checker),
		pipeline.WithImagePromptValidator(a.checker),
		pipeline.WithTemplates(tmpl),
		pipeline.WithMetrics(agentMetrics),
		pipeline.WithObserver(agent.Observers{a.collector, a.tracker}),
		pipeline.WithEmitter(core.EmitterFunc(a.logEvent)),
		pipeline.WithRecorder(a.collector),
		pipeline.WithErrorMetrics(a.errors),
		pipeline.WithLogger(a.logger),
	}
	switch {
	case cfg.Cache.Backend == "none":
		runnerOpts = append(runnerOpts, pipeline.WithoutCache())
	case a.cache != nil:
		runnerOpts = append(runnerOpts, pipeline.WithSharedCache(a.cache))
	}
	if a.policy != nil {
		runnerOpts = append(runnerOpts, pipeline.WithPolicy(a.policy))
	}
	if a.texts != nil {
		runnerOpts = append(runnerOpts, pipeline.WithTextStore(a.texts))
	}
	a.runner = pipeline.New(a.tools.Tools, runnerOpts...)

	a.health = core.NewHealthRegistry(5 * time.Second)
	a.health.Register("pipeline", core.HealthCheckerFunc(a.runner.Health))
	a.health.Register("agents", a.tracker)
	if a.texts != nil {
		a.health.Register("storage", pingCheck("storage", a.texts.Ping))
	}
	if p, ok := a.cache.(interface{ Ping(context.Context) error }); ok {
		a.health.Register("cache", pingCheck("cache", p.Ping))
	}

	if opts.publish {
		a.publisher, err = publish.NewTelegram(cfg.Telegram,
			publish.WithBannerFiles(a.images),
			publish.WithLogger(a.logger),
		)
		if err != nil {
			return nil, err
		}
	}
	return a, nil
}

func newChecker(cfg *config.Config, logger *slog.Logger) (*security.Checker, error) {
	rules := security.DefaultRules()
	if path := cfg.TelegramAds.RuleFiles.TelegramRules; path != "" {
		loaded, err := security.LoadRules(path)
		if err != nil {
			return nil, NewConfigError(err, path)
		}
		rules = loaded
	}
	if cfg.TelegramAds.MaxTextLength > 0 {
		rules.MaxTextLength = cfg.TelegramAds.MaxTextLength
	}
	return security.New(security.WithRules(rules), security.WithLogger(logger)), nil
}

// newCache returns the shared cache, or nil for the per-run memory cache.
func (a *app) newCache(ctx context.Context) (cache.Cache, error) {
	if a.cfg.Cache.Backend != "redis" {
		return nil, nil
	}
	c, err := cache.DialRedis(ctx, a.cfg.Cache.Redis, cache.WithLogger(a.logger))
	if err != nil {
		return nil, fmt.Errorf("connect redis cache: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return c.Close() })
	return c, nil
}

func (a *app) newProvider(ctx context.Context, offline bool) (llm.Provider, error) {
	cfg := a.cfg.LLM
	if offline {
		cfg.Provider = "mock"
	}
	p, err := llm.New(ctx, cfg)
	if err != nil {
		return nil, NewConfigError(err, "")
	}
	a.logger.Info("text provider ready", "provider", cfg.Provider, "model", cfg.Model)
	return p, nil
}

func (a *app) newGenerator(ctx context.Context, offline bool) diffusion.Generator {
	cfg := a.cfg.Diffusion
	if offline || cfg.BaseURL == "" || strings.EqualFold(cfg.BaseURL, "placeholder") {
		a.logger.Info("image generator ready", "backend", "placeholder")
		return diffusion.Placeholder{}
	}
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "stable_diffusion",
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Timeout:          30 * time.Second,
		OnStateChange: func(name string, from, to resilience.CircuitBreakerState) {
			a.logger.Warn("circuit breaker state changed", "breaker", name, "from", string(from), "to", string(to))
			a.errors.RecordCircuitBreakerState(ctx, name, to)
		},
	})
	client := diffusion.NewClient(cfg, diffusion.WithBreaker(breaker), diffusion.WithLogger(a.logger))
	if err := client.Ping(ctx); err != nil {
		a.logger.Warn("stable diffusion not reachable yet", "base_url", cfg.BaseURL, "error", err)
	}
	a.logger.Info("image generator ready", "backend", "stable_diffusion", "base_url", cfg.BaseURL)
	return client
}

// newBroker builds a standalone broker over the app's tools for outer
// surfaces such as MCP.
func (a *app) newBroker() *broker.Broker {
	opts := []broker.Option{
		broker.WithRetry(a.cfg.Agents.Retry().WithLogger(a.logger)),
		broker.WithSecurity(a.checker),
		broker.WithLogger(a.logger),
		broker.WithMeter(otel.Meter("tgads")),
	}
	switch {
	case a.cache != nil:
		opts = append(opts, broker.WithCache(a.cache))
	case a.cfg.Cache.Backend == "memory":
		opts = append(opts, broker.WithCache(cache.NewMemory()))
	}
	if a.policy != nil {
		opts = append(opts, broker.WithPolicy(a.policy))
	}
	b := broker.New(opts...)
	for _, t := range a.tools.Tools() {
		b.Register(t)
	}
	return b
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return stderrors.Join(errs...)
}

// rulesVersion is reported in logs at startup.
func (a *app) rulesVersion() string {
	if v := a.checker.Rules().Version; v != "" {
		return v
	}
	return agents.DefaultRulesVersion
}

func (a *app) logEvent(ctx context.Context, e core.Event) {
	a.logger.DebugContext(ctx, "pipeline event",
		slog.String("type", string(e.Type)),
		slog.String("stage", e.Stage),
		slog.String("request_id", e.RequestID),
	)
}

func pingCheck(component string, ping func(context.Context) error) core.HealthChecker {
	return core.HealthCheckerFunc(func(ctx context.Context) core.HealthResult {
		if err := ping(ctx); err != nil {
			return core.HealthResult{
				Status:    core.HealthUnhealthy,
				Component: component,
				Message:   err.Error(),
				Error:     err,
			}
		}
		return core.HealthResult{Status: core.HealthHealthy, Component: component}
	})
}
