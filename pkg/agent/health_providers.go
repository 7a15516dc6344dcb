// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/core"
)

// Stats summarises the lifecycles observed for one agent.
type Stats struct {
	Runs        int           `json:"runs"`
	Successes   int           `json:"successes"`
	Degraded    int           `json:"degraded"`
	Failures    int           `json:"failures"`
	LastStatus  string        `json:"last_status"`
	LastError   string        `json:"last_error,omitempty"`
	LastElapsed time.Duration `json:"last_elapsed"`
	LastRun     time.Time     `json:"last_run"`
}

// Tracker records lifecycle outcomes and reports them as a health check.
// It implements Observer and core.HealthChecker.
type Tracker struct {
	mu    sync.RWMutex
	stats map[string]*Stats
	now   func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{stats: make(map[string]*Stats), now: time.Now}
}

// Observe implements Observer.
func (t *Tracker) Observe(agent string, outcome Outcome, elapsed time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.stats[agent]
	if !ok {
		s = &Stats{}
		t.stats[agent] = s
	}
	s.Runs++
	s.LastStatus = outcome.Status.String()
	s.LastElapsed = elapsed
	s.LastRun = t.now()
	s.LastError = ""
	switch outcome.Status {
	case StatusSuccess:
		s.Successes++
	case StatusDegraded:
		s.Successes++
		s.Degraded++
	case StatusFatal:
		s.Failures++
		if outcome.Err != nil {
			s.LastError = outcome.Err.Error()
		}
	}
}

// Snapshot returns a copy of the stats for every observed agent.
func (t *Tracker) Snapshot() map[string]Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]Stats, len(t.stats))
	for name, s := range t.stats {
		out[name] = *s
	}
	return out
}

// Check implements core.HealthChecker. Any agent whose last run was fatal
// makes the result degraded.
func (t *Tracker) Check(_ context.Context) core.HealthResult {
	snap := t.Snapshot()
	result := core.HealthResult{
		Status:    core.HealthHealthy,
		Component: "agents",
		Message:   "no failing agents",
		Details:   make(map[string]any, len(snap)),
		LastCheck: t.now(),
	}
	var failing []string
	for name, s := range snap {
		result.Details[name] = s
		if s.LastStatus == StatusFatal.String() {
			failing = append(failing, name)
		}
	}
	if len(failing) > 0 {
		sort.Strings(failing)
		result.Status = core.HealthDegraded
		result.Message = "last run failed for: " + strings.Join(failing, ", ")
	}
	return result
}
