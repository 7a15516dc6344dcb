// SPDX-License-Identifier: Apache-2.0
// Package core holds the shared types of the ad pipeline: tools and their
// arguments, the staged payload, events and health checks.
package core

import (
	"context"
	"time"
)

// HealthStatus represents the health state of a component.
type HealthStatus string

const (
	// HealthHealthy indicates the component is fully operational.
	HealthHealthy HealthStatus = "HEALTHY"

	// HealthDegraded indicates the component works with reduced capacity.
	HealthDegraded HealthStatus = "DEGRADED"

	// HealthUnhealthy indicates the component is not operational.
	HealthUnhealthy HealthStatus = "UNHEALTHY"
)

// HealthResult is the outcome of one health check.
type HealthResult struct {
	Status    HealthStatus   `json:"status"`
	Component string         `json:"component"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	LastCheck time.Time      `json:"last_check"`
	Error     error          `json:"-"`
}

// HealthChecker checks the health of a component.
type HealthChecker interface {
	Check(ctx context.Context) HealthResult
}

// HealthCheckerFunc adapts a function into a HealthChecker.
type HealthCheckerFunc func(ctx context.Context) HealthResult

// Check calls f and stamps LastCheck when the function left it empty.
func (f HealthCheckerFunc) Check(ctx context.Context) HealthResult {
	result := f(ctx)
	if result.LastCheck.IsZero() {
		result.LastCheck = time.Now()
	}
	return result
}
