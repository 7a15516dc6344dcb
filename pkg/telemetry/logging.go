// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/core"
)

// LogConfig mirrors the log configuration section.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // text or json
}

// ConfigureSlog installs and returns the process logger. Records logged with
// a context carry trace_id, span_id, request_id and agent when known, so a
// pipeline run can be followed across stages.
func ConfigureSlog(output io.Writer, level, format string) *slog.Logger {
	logger := slog.New(newSlogHandler(output, level, format))
	slog.SetDefault(logger)
	return logger
}

func newSlogHandler(output io.Writer, level, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return runHandler{Handler: slog.NewJSONHandler(output, opts)}
	}
	return runHandler{Handler: slog.NewTextHandler(output, opts)}
}

// runHandler decorates records with the run identifiers found in ctx.
// Keys already bound with WithAttrs are not repeated.
type runHandler struct {
	slog.Handler
	bound map[string]bool
}

func (h runHandler) Handle(ctx context.Context, record slog.Record) error {
	if ctx != nil {
		present := attrKeys(record)
		for _, a := range contextAttrs(ctx) {
			if !present[a.Key] && !h.bound[a.Key] {
				record.AddAttrs(a)
			}
		}
	}
	return h.Handler.Handle(ctx, record)
}

func (h runHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	bound := make(map[string]bool, len(h.bound)+len(attrs))
	for k := range h.bound {
		bound[k] = true
	}
	for _, a := range attrs {
		bound[a.Key] = true
	}
	return runHandler{Handler: h.Handler.WithAttrs(attrs), bound: bound}
}

func (h runHandler) WithGroup(name string) slog.Handler {
	return runHandler{Handler: h.Handler.WithGroup(name), bound: h.bound}
}

func contextAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if id, ok := core.RequestID(ctx); ok {
		attrs = append(attrs, slog.String("request_id", id))
	}
	if agent := core.AgentFromContext(ctx); agent != "" {
		attrs = append(attrs, slog.String("agent", agent))
	}
	return attrs
}

func attrKeys(record slog.Record) map[string]bool {
	keys := make(map[string]bool, record.NumAttrs())
	record.Attrs(func(a slog.Attr) bool {
		keys[a.Key] = true
		return true
	})
	return keys
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
