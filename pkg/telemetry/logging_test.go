// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/core"
)

func TestSlogHandlerAddsContextIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newSlogHandler(&buf, "debug", "json"))

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	ctx = core.WithRequestID(ctx, "req-42")
	logger.InfoContext(ctx, "stage finished")
	span.End()

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if rec["request_id"] != "req-42" {
		t.Errorf("request_id = %v", rec["request_id"])
	}
	if rec["trace_id"] != span.SpanContext().TraceID().String() {
		t.Errorf("trace_id = %v", rec["trace_id"])
	}
	if _, ok := rec["span_id"]; !ok {
		t.Error("span_id missing")
	}
}

func TestSlogHandlerLevels(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARNING", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.level); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.level, got, tt.want)
		}
	}

	var buf bytes.Buffer
	logger := slog.New(newSlogHandler(&buf, "warn", "text"))
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info line should be filtered at warn level: %q", buf.String())
	}
}

func TestSlogHandlerDoesNotRepeatBoundAgent(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newSlogHandler(&buf, "info", "text")).With(slog.String("agent", "copywriter"))

	ctx := core.WithAgent(context.Background(), "copywriter")
	logger.InfoContext(ctx, "agent finished")

	if n := bytes.Count(buf.Bytes(), []byte("agent=copywriter")); n != 1 {
		t.Errorf("agent attribute written %d times: %s", n, buf.String())
	}
}
