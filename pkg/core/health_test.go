// SPDX-License-Identifier: Apache-2.0
package core

import (
	"context"
	"testing"
	"time"
)

func static(status HealthStatus) HealthChecker {
	return HealthCheckerFunc(func(ctx context.Context) HealthResult {
		return HealthResult{Status: status}
	})
}

func TestHealthCheckerFuncStampsLastCheck(t *testing.T) {
	calls := 0
	checker := HealthCheckerFunc(func(ctx context.Context) HealthResult {
		calls++
		return HealthResult{Status: HealthHealthy, Message: "ok"}
	})

	result := checker.Check(context.Background())
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if result.LastCheck.IsZero() {
		t.Errorf("expected LastCheck to be set by wrapper")
	}
}

func TestHealthRegistryOverallStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []HealthStatus
		want     HealthStatus
	}{
		{"all healthy", []HealthStatus{HealthHealthy, HealthHealthy}, HealthHealthy},
		{"one degraded", []HealthStatus{HealthHealthy, HealthDegraded}, HealthDegraded},
		{"one unhealthy", []HealthStatus{HealthDegraded, HealthUnhealthy, HealthHealthy}, HealthUnhealthy},
		{"empty", nil, HealthHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewHealthRegistry(0)
			for i, s := range tt.statuses {
				reg.Register(string(rune('a'+i)), static(s))
			}
			results, overall := reg.CheckAll(context.Background())
			if len(results) != len(tt.statuses) {
				t.Errorf("expected %d results, got %d", len(tt.statuses), len(results))
			}
			if overall != tt.want {
				t.Errorf("expected %v overall, got %v", tt.want, overall)
			}
		})
	}
}

func TestHealthRegistrySetsComponentAndSorts(t *testing.T) {
	reg := NewHealthRegistry(0)
	reg.Register("storage", static(HealthHealthy))
	reg.Register("broker", static(HealthHealthy))

	results, _ := reg.CheckAll(context.Background())
	if results[0].Component != "broker" || results[1].Component != "storage" {
		t.Errorf("unexpected order: %+v", results)
	}
}

func TestHealthRegistryCachesWithinTTL(t *testing.T) {
	reg := NewHealthRegistry(10 * time.Second)
	calls := 0
	reg.Register("svc", HealthCheckerFunc(func(ctx context.Context) HealthResult {
		calls++
		return HealthResult{Status: HealthHealthy}
	}))

	for i := 0; i < 3; i++ {
		if _, err := reg.Check(context.Background(), "svc"); err != nil {
			t.Fatalf("Check failed: %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("expected cached result, checker ran %d times", calls)
	}

	reg.now = func() time.Time { return time.Now().Add(time.Minute) }
	if _, err := reg.Check(context.Background(), "svc"); err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected refresh after TTL, got %d calls", calls)
	}
}

func TestHealthRegistryUnknownComponent(t *testing.T) {
	reg := NewHealthRegistry(0)
	if _, err := reg.Check(context.Background(), "missing"); err == nil {
		t.Errorf("expected error for unregistered checker")
	}
}

func TestHealthRegistryHonoursContext(t *testing.T) {
	reg := NewHealthRegistry(0)
	reg.Register("slow", HealthCheckerFunc(func(ctx context.Context) HealthResult {
		select {
		case <-ctx.Done():
			return HealthResult{Status: HealthUnhealthy, Message: "context timeout"}
		case <-time.After(200 * time.Millisecond):
			return HealthResult{Status: HealthHealthy}
		}
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	result, _ := reg.Check(ctx, "slow")
	if result.Status != HealthUnhealthy {
		t.Errorf("expected Unhealthy due to timeout, got %v", result.Status)
	}
}
