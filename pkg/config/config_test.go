package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.LLM.Provider != "mock" {
		t.Errorf("expected default provider mock, got %s", cfg.LLM.Provider)
	}
	if cfg.LLM.Timeout != 120*time.Second {
		t.Errorf("expected llm timeout 120s, got %s", cfg.LLM.Timeout)
	}
	if cfg.Diffusion.Steps != 25 || cfg.Diffusion.Width != 1920 || cfg.Diffusion.Sampler != "Euler a" {
		t.Errorf("unexpected stable diffusion defaults: %+v", cfg.Diffusion)
	}
	if cfg.TelegramAds.MaxTextLength != 160 || cfg.TelegramAds.RulesVersion != "tg_ads_2026" {
		t.Errorf("unexpected telegram_ads defaults: %+v", cfg.TelegramAds)
	}

	timeouts := cfg.Agents.StageTimeouts()
	want := map[string]time.Duration{
		"prompt_architect": 45 * time.Second,
		"copywriter":       90 * time.Second,
		"banner_designer":  300 * time.Second,
		"qa_inspector":     30 * time.Second,
	}
	for stage, d := range want {
		if timeouts[stage] != d {
			t.Errorf("timeout %s = %s, want %s", stage, timeouts[stage], d)
		}
	}
	if cfg.Agents.Total() != 600*time.Second {
		t.Errorf("total timeout = %s", cfg.Agents.Total())
	}
	if rc := cfg.Agents.Retry(); rc.MaxAttempts != 3 || rc.Backoff.Delay(1) != time.Second {
		t.Errorf("unexpected retry config: %+v", rc)
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("TGADS_LLM__PROVIDER", "openai")
	t.Setenv("TGADS_LLM__API_KEY", "sk-test")
	t.Setenv("TGADS_CACHE__REDIS__ADDR", "redis:6379")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.Provider != "openai" || cfg.LLM.APIKey != "sk-test" {
		t.Errorf("env overrides not applied: %+v", cfg.LLM)
	}
	if cfg.Cache.Redis.Addr != "redis:6379" {
		t.Errorf("nested env override not applied: %q", cfg.Cache.Redis.Addr)
	}
}

func TestLoadFileAndProfile(t *testing.T) {
	dir := t.TempDir()
	base := `
llm:
  provider: ollama
  model: llama3.1
log:
  level: info
agents:
  copywriter_timeout: 60
  backoff: exponential
policies:
  - effect: deny
    name: "image.*"
    agent: "mcp"
`
	basePath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(basePath, []byte(base), 0o644); err != nil {
		t.Fatalf("write base config: %v", err)
	}
	dev := `
llm:
  provider: mock
log:
  level: debug
`
	if err := os.WriteFile(filepath.Join(dir, "config.dev.yaml"), []byte(dev), 0o644); err != nil {
		t.Fatalf("write dev config: %v", err)
	}

	cfg, err := Load(basePath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.Provider != "ollama" || cfg.Agents.CopywriterTimeout != 60 {
		t.Errorf("file values not applied: %+v %+v", cfg.LLM, cfg.Agents)
	}
	if len(cfg.Policies) != 1 || cfg.Policies[0].Name != "image.*" {
		t.Errorf("policies = %+v", cfg.Policies)
	}

	t.Setenv("TGADS_PROFILE", "dev")
	cfg, err = Load(basePath)
	if err != nil {
		t.Fatalf("Load with profile failed: %v", err)
	}
	if cfg.LLM.Provider != "mock" || cfg.Log.Level != "debug" {
		t.Errorf("profile overlay not applied: %+v %+v", cfg.LLM, cfg.Log)
	}
	if cfg.LLM.Model != "llama3.1" {
		t.Errorf("base value lost under profile: %q", cfg.LLM.Model)
	}
}

func TestLoadWithCLI(t *testing.T) {
	cfg, err := LoadWithCLI([]string{
		"--set", "llm.provider=anthropic",
		"--set", "storage.enabled=true",
		"--set", "api.rate_limit=10",
		"--set", `mcp.allow=["text.*","compliance.check"]`,
	})
	if err != nil {
		t.Fatalf("LoadWithCLI failed: %v", err)
	}
	if cfg.LLM.Provider != "anthropic" || !cfg.Storage.Enabled || cfg.API.RateLimit != 10 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if len(cfg.MCP.Allow) != 2 {
		t.Errorf("mcp.allow = %v", cfg.MCP.Allow)
	}
}

func TestParseCLIOverridesErrors(t *testing.T) {
	for _, args := range [][]string{{"--config"}, {"--set"}, {"--set", "invalid"}, {"--set", "=x"}} {
		if _, _, err := parseCLIOverrides(args); err == nil {
			t.Errorf("expected error for %v", args)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		set  []string
	}{
		{"cache backend", []string{"--set", "cache.backend=memcached"}},
		{"storage driver", []string{"--set", "storage.text.driver=mysql"}},
		{"backoff", []string{"--set", "agents.backoff=linear"}},
		{"text length", []string{"--set", "telegram_ads.max_text_length=0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadWithCLI(tt.set); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
