// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/api"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/config"
)

type serveFlags struct {
	Addr         string
	Publish      bool
	WatchEvery   time.Duration
	ShutdownWait time.Duration
}

func newServeCmd(g *globalFlags) *cobra.Command {
	f := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), g, f)
		},
	}
	cmd.Flags().StringVar(&f.Addr, "addr", "", "listen address (default api.addr)")
	cmd.Flags().BoolVar(&f.Publish, "publish", false, "enable publishing approved ads to the telegram channel")
	cmd.Flags().DurationVar(&f.WatchEvery, "watch-interval", 2*time.Second, "rules and templates poll interval")
	cmd.Flags().DurationVar(&f.ShutdownWait, "shutdown-timeout", 15*time.Second, "graceful shutdown timeout")
	return cmd
}

func runServe(ctx context.Context, g *globalFlags, f *serveFlags) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, appOptions{publish: f.Publish})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	addr := f.Addr
	if addr == "" {
		addr = cfg.API.Addr
	}
	opts := []api.Option{
		api.WithBannerFiles(a.images),
		api.WithCollector(a.collector),
		api.WithHealthRegistry(a.health),
		api.WithVersion(version),
		api.WithRateLimit(cfg.API.RateLimit, cfg.API.RateBurst),
		api.WithLogger(a.logger),
	}
	if a.publisher != nil {
		opts = append(opts, api.WithPublisher(a.publisher))
	}

	group, ctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.New(a.runner, opts...).Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	group.Go(func() error {
		a.logger.Info("api listening", "addr", addr, "rules_version", a.rulesVersion())
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), f.ShutdownWait)
		defer cancel()
		a.logger.Info("shutting down api")
		return srv.Shutdown(shutdownCtx)
	})
	rules, tmpl := cfg.TelegramAds.RuleFiles.TelegramRules, cfg.TelegramAds.TemplatesFile
	if rules != "" || tmpl != "" {
		w := config.NewWatcher(
			config.WithWatchInterval(f.WatchEvery),
			config.WithWatchLogger(a.logger),
		)
		if rules != "" {
			w.WatchRules(rules, a.checker)
		}
		if tmpl != "" {
			w.WatchTemplates(tmpl, a.runner)
		}
		group.Go(func() error {
			w.Start(ctx)
			<-ctx.Done()
			w.Stop()
			return nil
		})
	}
	return group.Wait()
}
