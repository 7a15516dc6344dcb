// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/agent"
)

// RequestStats are the counters reported by the health endpoint.
type RequestStats struct {
	Total             int64         `json:"total_requests"`
	Successful        int64         `json:"successful_requests"`
	Failed            int64         `json:"failed_requests"`
	AvgProcessingTime time.Duration `json:"-"`
	Uptime            time.Duration `json:"-"`
}

// Collector owns the Prometheus metrics served at /metrics. It also keeps
// local request counters for the health endpoint.
type Collector struct {
	registry *prometheus.Registry

	pipelineRuns     *prometheus.CounterVec
	pipelineDuration prometheus.Histogram
	stageDuration    *prometheus.HistogramVec
	agentOutcomes    *prometheus.CounterVec
	qaVerdicts       *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec

	mu        sync.Mutex
	stats     RequestStats
	totalTime time.Duration
	startedAt time.Time
}

// NewCollector registers the metrics on a fresh registry under namespace.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		pipelineRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Pipeline runs by result",
		}, []string{"result"}),
		pipelineDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "End-to-end pipeline duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 90, 300},
		}, []string{"stage", "status"}),
		agentOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_outcomes_total",
			Help:      "Agent outcomes by agent and status",
		}, []string{"agent", "status"}),
		qaVerdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "qa_verdicts_total",
			Help:      "Compliance verdicts by status",
		}, []string{"status"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, path and status",
		}, []string{"method", "path", "code"}),
		startedAt: time.Now(),
	}
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// RecordRun records one finished pipeline run.
func (c *Collector) RecordRun(success bool, elapsed time.Duration) {
	result := "success"
	if !success {
		result = "failed"
	}
	c.pipelineRuns.WithLabelValues(result).Inc()
	c.pipelineDuration.Observe(elapsed.Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Total++
	if success {
		c.stats.Successful++
	} else {
		c.stats.Failed++
	}
	c.totalTime += elapsed
}

// RecordStage records one pipeline stage.
func (c *Collector) RecordStage(stage, status string, elapsed time.Duration) {
	c.stageDuration.WithLabelValues(stage, status).Observe(elapsed.Seconds())
}

// RecordQA records a compliance verdict.
func (c *Collector) RecordQA(status string) {
	if status != "" {
		c.qaVerdicts.WithLabelValues(status).Inc()
	}
}

// RecordHTTP records a served HTTP request.
func (c *Collector) RecordHTTP(method, path string, code int) {
	c.httpRequests.WithLabelValues(method, path, strconv.Itoa(code)).Inc()
}

// Observe implements agent.Observer.
func (c *Collector) Observe(agentName string, outcome agent.Outcome, _ time.Duration) {
	c.agentOutcomes.WithLabelValues(agentName, outcome.Status.String()).Inc()
}

// Stats returns the local request counters.
func (c *Collector) Stats() RequestStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	if s.Total > 0 {
		s.AvgProcessingTime = c.totalTime / time.Duration(s.Total)
	}
	s.Uptime = time.Since(c.startedAt)
	return s
}
