// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/core"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/diffusion"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/errors"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/llm"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/pipeline"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/resilience"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/security"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/storage"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/telemetry"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/tools"
)

type fakeRunner struct {
	run    func(ctx context.Context, p *core.Payload) (*core.Payload, error)
	health core.HealthStatus
	last   *core.Payload
}

func (f *fakeRunner) Run(ctx context.Context, p *core.Payload) (*core.Payload, error) {
	f.last = p
	return f.run(ctx, p)
}

func (f *fakeRunner) Health(context.Context) core.HealthResult {
	return core.HealthResult{Status: f.health}
}

type fakePublisher struct{ calls int }

func (f *fakePublisher) PublishPayload(context.Context, *core.Payload) (int, error) {
	f.calls++
	return 7, nil
}

func approved(_ context.Context, p *core.Payload) (*core.Payload, error) {
	p.Set(core.KeyFinalText, "Сок")
	p.Set(core.KeyBannerURL, "/api/banners/banner_1.png")
	p.Set(core.KeyQAStatus, "APPROVED")
	p.Set(core.KeyQAReport, []string{})
	return p, nil
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.RemoteAddr = "192.0.2.1:4321"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestGenerate(t *testing.T) {
	runner := &fakeRunner{run: approved, health: core.HealthHealthy}
	pub := &fakePublisher{}
	h := New(runner, WithPublisher(pub)).Handler(context.Background())

	rec := do(t, h, http.MethodPost, "/api/generate", `{"product":"Апельсиновый сок","publish":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[BannerResponse](t, rec)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, "banner_1.png", resp.BannerFilename)
	assert.Equal(t, "APPROVED", resp.QAStatus)
	assert.Equal(t, 7, resp.MessageID)
	assert.Equal(t, 1, pub.calls)

	// Optional brief fields take their defaults.
	assert.Equal(t, "product", runner.last.String(core.KeyProductType))
	assert.Equal(t, "general audience", runner.last.String(core.KeyAudience))
	assert.Equal(t, "sales", runner.last.String(core.KeyGoal))
	assert.Equal(t, "professional", runner.last.String(core.KeyStyle))
}

func TestGenerateErrors(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		runErr    error
		status    int
		errorType string
	}{
		{"malformed body", `{"product":`, nil, http.StatusBadRequest, "INVALID_INPUT"},
		{"missing product", `{"product":"  "}`, nil, http.StatusBadRequest, "INVALID_INPUT"},
		{
			"stage failure", `{"product":"сок"}`,
			&pipeline.StageError{Stage: "prompt_architect", Err: errors.Agent("prompt_architect", "missing required keys", nil)},
			http.StatusBadRequest, "AGENT_ERROR",
		},
		{
			"stage timeout", `{"product":"сок"}`,
			&pipeline.StageError{Stage: "banner_designer", Err: errors.New(errors.CodeTimeout, "operation exceeded timeout", nil)},
			http.StatusGatewayTimeout, "TIMEOUT",
		},
		{
			"security", `{"product":"сок"}`,
			&pipeline.StageError{Stage: "copywriter", Err: errors.Security("blocked")},
			http.StatusForbidden, "SECURITY_VIOLATION",
		},
		{"unclassified", `{"product":"сок"}`, stderrors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{run: func(_ context.Context, p *core.Payload) (*core.Payload, error) {
				return p, tt.runErr
			}}
			h := New(runner).Handler(context.Background())
			rec := do(t, h, http.MethodPost, "/api/generate", tt.body)
			assert.Equal(t, tt.status, rec.Code)

			resp := decode[BannerResponse](t, rec)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.errorType, resp.ErrorType)
			assert.NotEmpty(t, resp.Error)
			assert.NotNil(t, resp.QAReport)
		})
	}
}

func TestGenerateRateLimited(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner := &fakeRunner{run: approved}
	h := New(runner, WithRateLimit(0.001, 1)).Handler(ctx)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/generate", `{"product":"сок"}`).Code)
	rec := do(t, h, http.MethodPost, "/api/generate", `{"product":"сок"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "RATE_LIMITED")

	// Other routes are not limited.
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/info", "").Code)
}

func TestHealth(t *testing.T) {
	collector := telemetry.NewCollector("tgads_test")
	collector.RecordRun(true, 0)
	runner := &fakeRunner{health: core.HealthDegraded}
	h := New(runner, WithCollector(collector), WithVersion("1.2.3")).Handler(context.Background())

	resp := decode[HealthResponse](t, do(t, h, http.MethodGet, "/api/health", ""))
	assert.Equal(t, "degraded", resp.Status)
	assert.False(t, resp.AssistantReady)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, int64(1), resp.TotalRequests)
	assert.Equal(t, int64(1), resp.SuccessfulRequests)
}

func TestHealthComponents(t *testing.T) {
	reg := core.NewHealthRegistry(0)
	reg.Register("storage", core.HealthCheckerFunc(func(context.Context) core.HealthResult {
		return core.HealthResult{Status: core.HealthUnhealthy, Component: "storage", Message: "database is locked"}
	}))
	reg.Register("agents", core.HealthCheckerFunc(func(context.Context) core.HealthResult {
		return core.HealthResult{Status: core.HealthHealthy, Component: "agents"}
	}))
	h := New(&fakeRunner{health: core.HealthHealthy}, WithHealthRegistry(reg)).Handler(context.Background())

	resp := decode[HealthResponse](t, do(t, h, http.MethodGet, "/api/health", ""))
	assert.Equal(t, "degraded", resp.Status)
	assert.True(t, resp.AssistantReady)
	require.Len(t, resp.Components, 2)
	assert.Equal(t, "agents", resp.Components[0].Component)
	assert.Equal(t, core.HealthUnhealthy, resp.Components[1].Status)
}

func TestBanners(t *testing.T) {
	images, err := storage.NewImageStore(storage.ImageConfig{Dir: t.TempDir()})
	require.NoError(t, err)
	url, err := images.SaveImage(context.Background(), []byte("\x89PNG"))
	require.NoError(t, err)

	h := New(&fakeRunner{}, WithBannerFiles(images)).Handler(context.Background())

	rec := do(t, h, http.MethodGet, url, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "\x89PNG", rec.Body.String())

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/banners/missing.png", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/banners/.hidden", "").Code)
}

func TestInfoRootAndMetrics(t *testing.T) {
	collector := telemetry.NewCollector("tgads_test")
	h := New(&fakeRunner{}, WithCollector(collector)).Handler(context.Background())

	info := decode[Info](t, do(t, h, http.MethodGet, "/api/info", ""))
	assert.Contains(t, info.Endpoints, "POST /api/generate")

	root := decode[map[string]string](t, do(t, h, http.MethodGet, "/", ""))
	assert.Equal(t, "/api/health", root["health"])

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/nope", "").Code)

	rec := do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tgads_test_http_requests_total")
}

func TestGenerateWithPipeline(t *testing.T) {
	checker := security.New()
	images, err := storage.NewImageStore(storage.ImageConfig{Dir: t.TempDir()})
	require.NoError(t, err)
	set := tools.Set{
		Text:       tools.NewTextTool(llm.NewMock()),
		Image:      tools.NewImageTool(diffusion.Placeholder{}, images, nil),
		Compliance: tools.NewComplianceTool(checker),
	}
	collector := telemetry.NewCollector("tgads_it")
	runner := pipeline.New(set.Tools,
		pipeline.WithRetry(resilience.DefaultRetryConfig().WithBackoff(resilience.FixedBackoff(0))),
		pipeline.WithSecurity(checker),
		pipeline.WithRecorder(collector),
	)
	h := New(runner, WithBannerFiles(images), WithCollector(collector)).Handler(context.Background())

	rec := do(t, h, http.MethodPost, "/api/generate", `{"product":"Апельсиновый сок","audience":"семьи"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[BannerResponse](t, rec)
	assert.Equal(t, "APPROVED", resp.QAStatus)
	assert.Contains(t, resp.FinalText, "Апельсиновый сок")

	banner := do(t, h, http.MethodGet, resp.BannerURL, "")
	assert.Equal(t, http.StatusOK, banner.Code)

	health := decode[HealthResponse](t, do(t, h, http.MethodGet, "/api/health", ""))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, int64(1), health.SuccessfulRequests)
}
