// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package api serves the banner pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/core"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/errors"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/telemetry"
)

const (
	serviceName = "Telegram Ads Banner Generator API"
	maxBodySize = 1 << 20
)

// Runner executes one pipeline run. pipeline.Runner implements it.
type Runner interface {
	Run(ctx context.Context, p *core.Payload) (*core.Payload, error)
	Health(ctx context.Context) core.HealthResult
}

// BannerFiles resolves banner file names. storage.ImageStore implements it.
type BannerFiles interface {
	Path(name string) (string, error)
}

// Publisher posts approved runs. publish.Telegram implements it.
type Publisher interface {
	PublishPayload(ctx context.Context, p *core.Payload) (int, error)
}

// BannerRequest is the body of POST /api/generate.
type BannerRequest struct {
	Product     string `json:"product"`
	ProductType string `json:"product_type"`
	Audience    string `json:"audience"`
	Goal        string `json:"goal"`
	Language    string `json:"language"`
	Style       string `json:"style"`
	Publish     bool   `json:"publish,omitempty"`
}

// Brief returns the request as a pipeline brief with defaults applied.
func (r BannerRequest) Brief() core.Brief {
	return core.Brief{
		Product:     strings.TrimSpace(r.Product),
		ProductType: r.ProductType,
		Audience:    r.Audience,
		Goal:        r.Goal,
		Language:    r.Language,
		Style:       r.Style,
	}.WithDefaults()
}

// BannerResponse is the result of POST /api/generate.
type BannerResponse struct {
	Success        bool     `json:"success"`
	RequestID      string   `json:"request_id"`
	BannerURL      string   `json:"banner_url,omitempty"`
	BannerFilename string   `json:"banner_filename,omitempty"`
	FinalText      string   `json:"final_advertising_text,omitempty"`
	QAStatus       string   `json:"qa_status,omitempty"`
	QAReport       []string `json:"qa_report"`
	Warnings       []string `json:"warnings,omitempty"`
	ProcessingTime float64  `json:"processing_time"`
	MessageID      int      `json:"message_id,omitempty"`
	Error          string   `json:"error,omitempty"`
	ErrorType      string   `json:"error_type,omitempty"`
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status                string  `json:"status"`
	Version               string  `json:"version"`
	AssistantReady        bool    `json:"assistant_ready"`
	Uptime                float64 `json:"uptime"`
	TotalRequests         int64   `json:"total_requests"`
	SuccessfulRequests    int64   `json:"successful_requests"`
	FailedRequests        int64   `json:"failed_requests"`
	AverageProcessingTime float64 `json:"average_processing_time"`
	QueueSize             int64   `json:"queue_size"`

	Components []core.HealthResult `json:"components,omitempty"`
}

// Info is the body of GET /api/info.
type Info struct {
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	Description string            `json:"description"`
	Endpoints   map[string]string `json:"endpoints"`
}

// Server holds the HTTP handlers.
type Server struct {
	runner    Runner
	banners   BannerFiles
	publisher Publisher
	collector *telemetry.Collector
	health    *core.HealthRegistry
	version   string
	rps       float64
	burst     int
	logger    *slog.Logger

	inFlight atomic.Int64
}

// Option configures a Server.
type Option func(*Server)

// WithBannerFiles serves stored banners at /api/banners/{file}.
func WithBannerFiles(b BannerFiles) Option { return func(s *Server) { s.banners = b } }

// WithPublisher enables publishing of approved ads on request.
func WithPublisher(p Publisher) Option { return func(s *Server) { s.publisher = p } }

// WithCollector enables /metrics and request statistics.
func WithCollector(c *telemetry.Collector) Option { return func(s *Server) { s.collector = c } }

// WithHealthRegistry adds per-component results to GET /api/health.
func WithHealthRegistry(reg *core.HealthRegistry) Option { return func(s *Server) { s.health = reg } }

// WithVersion sets the reported version.
func WithVersion(v string) Option { return func(s *Server) { s.version = v } }

// WithRateLimit limits POST /api/generate per client address. A
// non-positive rps disables the limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		s.rps = rps
		s.burst = burst
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Server.
func New(runner Runner, opts ...Option) *Server {
	s := &Server{
		runner:  runner,
		version: "dev",
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler. ctx bounds background work such as
// rate limiter cleanup.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()

	generate := http.Handler(http.HandlerFunc(s.handleGenerate))
	if s.rps > 0 {
		generate = RateLimiter(ctx, s.rps, s.burst, s.logger)(generate)
	}
	mux.Handle("POST /api/generate", generate)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/banners/{file}", s.handleBanner)
	mux.HandleFunc("GET /api/info", s.handleInfo)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	if s.collector != nil {
		mux.Handle("GET /metrics", s.collector.Handler())
	}

	return Chain(mux, Recovery(s.logger), RequestLogger(s.logger, s.collector))
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, requestID := core.EnsureRequestID(r.Context())

	var req BannerRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(&req); err != nil {
		s.writeFailure(w, http.StatusBadRequest, requestID, start,
			errors.New(errors.CodeInvalidInput, "invalid request body", err))
		return
	}
	brief := req.Brief()
	if brief.Product == "" {
		s.writeFailure(w, http.StatusBadRequest, requestID, start,
			errors.New(errors.CodeInvalidInput, "product is required", nil))
		return
	}

	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	s.logger.InfoContext(ctx, "generating banner",
		"request_id", requestID,
		"product", truncate(brief.Product, 50),
		"style", brief.Style,
	)
	p, err := s.runner.Run(ctx, brief.Payload())
	if err != nil {
		s.logger.ErrorContext(ctx, "generation failed", "request_id", requestID, "error", err)
		s.writeFailure(w, statusFor(err), requestID, start, err)
		return
	}

	resp := BannerResponse{
		Success:        true,
		RequestID:      requestID,
		BannerURL:      p.String(core.KeyBannerURL),
		FinalText:      p.String(core.KeyFinalText),
		QAStatus:       p.String(core.KeyQAStatus),
		QAReport:       nonNil(p.Strings(core.KeyQAReport)),
		Warnings:       p.Strings(core.KeyWarnings),
		ProcessingTime: seconds(time.Since(start)),
	}
	if resp.BannerURL != "" {
		resp.BannerFilename = path.Base(resp.BannerURL)
	}
	if req.Publish && s.publisher != nil && resp.QAStatus == "APPROVED" {
		id, err := s.publisher.PublishPayload(ctx, p)
		if err != nil {
			s.logger.WarnContext(ctx, "publish failed", "request_id", requestID, "error", err)
			resp.Warnings = append(resp.Warnings, "publish: "+err.Error())
		} else {
			resp.MessageID = id
		}
	}
	s.logger.InfoContext(ctx, "banner generated",
		"request_id", requestID,
		"qa_status", resp.QAStatus,
		"processing_time", resp.ProcessingTime,
	)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeFailure(w http.ResponseWriter, status int, requestID string, start time.Time, err error) {
	e := errors.As(err)
	writeJSON(w, status, BannerResponse{
		Success:        false,
		RequestID:      requestID,
		QAReport:       []string{},
		ProcessingTime: seconds(time.Since(start)),
		Error:          err.Error(),
		ErrorType:      string(e.Code),
	})
}

// statusFor maps a pipeline error to an HTTP status.
func statusFor(err error) int {
	if status := errors.As(err).StatusCode; status != 0 {
		return status
	}
	return http.StatusInternalServerError
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Version:   s.version,
		QueueSize: s.inFlight.Load(),
	}
	if s.runner == nil {
		resp.Status = "degraded"
	} else {
		h := s.runner.Health(r.Context())
		resp.AssistantReady = h.Status == core.HealthHealthy
		if !resp.AssistantReady {
			resp.Status = "degraded"
		}
	}
	if s.health != nil {
		var overall core.HealthStatus
		resp.Components, overall = s.health.CheckAll(r.Context())
		if overall != core.HealthHealthy {
			resp.Status = "degraded"
		}
	}
	if s.collector != nil {
		stats := s.collector.Stats()
		resp.Uptime = round(stats.Uptime.Seconds(), 2)
		resp.TotalRequests = stats.Total
		resp.SuccessfulRequests = stats.Successful
		resp.FailedRequests = stats.Failed
		resp.AverageProcessingTime = seconds(stats.AvgProcessingTime)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBanner(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("file")
	if s.banners == nil {
		writeError(w, http.StatusNotFound, "banner storage is disabled")
		return
	}
	p, err := s.banners.Path(name)
	if err == nil {
		var info os.FileInfo
		if info, err = os.Stat(p); err == nil && info.IsDir() {
			err = os.ErrNotExist
		}
	}
	if err != nil {
		writeError(w, http.StatusNotFound, "banner '"+name+"' not found")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	http.ServeFile(w, r, p)
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Info{
		Name:        serviceName,
		Version:     s.version,
		Description: "Generates Telegram ad banners with a pipeline of AI agents",
		Endpoints: map[string]string{
			"POST /api/generate":          "Generate a banner",
			"GET /api/health":             "Service health",
			"GET /api/banners/{filename}": "Fetch a stored banner",
			"GET /api/info":               "This page",
			"GET /metrics":                "Prometheus metrics",
		},
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Welcome to the " + serviceName,
		"health":  "/api/health",
		"info":    "/api/info",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func seconds(d time.Duration) float64 { return round(d.Seconds(), 3) }

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
