// Package config loads the service configuration with koanf: defaults,
// then a YAML file and its profile overlay, then TGADS_ environment
// variables, then --set overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/cache"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/diffusion"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/governance"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/llm"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/publish"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/resilience"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/storage"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/telemetry"
)

// EnvPrefix prefixes environment overrides. A double underscore separates
// nesting levels: TGADS_LLM__API_KEY sets llm.api_key.
const EnvPrefix = "TGADS_"

type Config struct {
	Log         telemetry.LogConfig `koanf:"log"`
	Telemetry   telemetry.Config    `koanf:"telemetry"`
	Agents      AgentsConfig        `koanf:"agents"`
	LLM         llm.Config          `koanf:"llm"`
	Diffusion   diffusion.Config    `koanf:"stable_diffusion"`
	TelegramAds TelegramAdsConfig   `koanf:"telegram_ads"`
	Cache       CacheConfig         `koanf:"cache"`
	Storage     StorageConfig       `koanf:"storage"`
	API         APIConfig           `koanf:"api"`
	Telegram    publish.Config      `koanf:"telegram"`
	MCP         MCPConfig           `koanf:"mcp"`
	Policies    []governance.Rule   `koanf:"policies"`
}

// AgentsConfig holds stage timeouts in seconds and the broker retry policy.
type AgentsConfig struct {
	PromptTimeout     int           `koanf:"prompt_timeout"`
	CopywriterTimeout int           `koanf:"copywriter_timeout"`
	BannerTimeout     int           `koanf:"banner_timeout"`
	QATimeout         int           `koanf:"qa_timeout"`
	TotalTimeout      int           `koanf:"total_timeout"`
	RetryAttempts     int           `koanf:"retry_attempts"`
	RetryDelay        time.Duration `koanf:"retry_delay"`
	Backoff           string        `koanf:"backoff"` // fixed, exponential, jittered
	StopOnDegraded    []string      `koanf:"stop_on_degraded"`
}

type TelegramAdsConfig struct {
	MaxTextLength int       `koanf:"max_text_length"`
	RulesVersion  string    `koanf:"rules_version"`
	RuleFiles     RuleFiles `koanf:"rule_files"`
	TemplatesFile string    `koanf:"templates_file"`
}

type RuleFiles struct {
	TelegramRules string `koanf:"telegram_rules"`
}

type CacheConfig struct {
	Backend string            `koanf:"backend"` // memory, redis
	Redis   cache.RedisConfig `koanf:"redis"`
}

type StorageConfig struct {
	Enabled bool                `koanf:"enabled"`
	Text    storage.Config      `koanf:"text"`
	Images  storage.ImageConfig `koanf:"images"`
}

type APIConfig struct {
	Addr      string  `koanf:"addr"`
	RateLimit float64 `koanf:"rate_limit"` // requests per second
	RateBurst int     `koanf:"rate_burst"`
}

type MCPConfig struct {
	AgentName string   `koanf:"agent_name"`
	Allow     []string `koanf:"allow"`
	Deny      []string `koanf:"deny"`
}

func defaults(k *koanf.Koanf) {
	for key, v := range map[string]any{
		"log.level":  "info",
		"log.format": "text",

		"telemetry.exporter": "none",

		"agents.prompt_timeout":     45,
		"agents.copywriter_timeout": 90,
		"agents.banner_timeout":     300,
		"agents.qa_timeout":         30,
		"agents.total_timeout":      600,
		"agents.retry_attempts":     3,
		"agents.retry_delay":        "1s",
		"agents.backoff":            "fixed",

		"llm.provider":    "mock",
		"llm.temperature": 0.7,
		"llm.max_tokens":  1000,
		"llm.timeout":     "120s",

		"stable_diffusion.base_url":        "http://localhost:7860",
		"stable_diffusion.steps":           25,
		"stable_diffusion.width":           1920,
		"stable_diffusion.height":          1080,
		"stable_diffusion.cfg_scale":       7.5,
		"stable_diffusion.sampler":         "Euler a",
		"stable_diffusion.negative_prompt": "text, watermark, logo, blurry, low quality, deformed",
		"stable_diffusion.timeout":         "300s",

		"telegram_ads.max_text_length": 160,
		"telegram_ads.rules_version":   "tg_ads_2026",

		"cache.backend":      "memory",
		"cache.redis.addr":   "localhost:6379",
		"cache.redis.ttl":    "1h",
		"cache.redis.prefix": "tgads:cache:",

		"storage.enabled":         false,
		"storage.text.driver":     "sqlite",
		"storage.text.dsn":        "tgads.db",
		"storage.images.dir":      "banners",
		"storage.images.base_url": "/api/banners",

		"api.addr":       ":8000",
		"api.rate_limit": 2.0,
		"api.rate_burst": 5,

		"mcp.agent_name": "mcp",
	} {
		_ = k.Set(key, v)
	}
}

// Load reads path (optional) and the environment. When TGADS_PROFILE is
// set, "<name>.<profile><ext>" next to path is merged on top of path.
func Load(path string) (*Config, error) {
	return load(path, nil)
}

func load(path string, overrides map[string]any) (*Config, error) {
	k := koanf.New(".")
	defaults(k)

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		if profile := os.Getenv(EnvPrefix + "PROFILE"); profile != "" {
			if overlay := profilePath(path, profile); fileExists(overlay) {
				if err := k.Load(file.Provider(overlay), yaml.Parser()); err != nil {
					return nil, fmt.Errorf("load %s: %w", overlay, err)
				}
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	for key, v := range overrides {
		if err := k.Set(key, v); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadWithCLI parses --config <path> and repeated --set key=value
// arguments. Values that parse as JSON are decoded, others stay strings.
func LoadWithCLI(args []string) (*Config, error) {
	path, overrides, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	return load(path, overrides)
}

func parseCLIOverrides(args []string) (string, map[string]any, error) {
	var path string
	overrides := make(map[string]any)
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			if i+1 >= len(args) {
				return "", nil, fmt.Errorf("--config requires a value")
			}
			i++
			path = args[i]
		case "--set":
			if i+1 >= len(args) {
				return "", nil, fmt.Errorf("--set requires key=value")
			}
			i++
			key, raw, ok := strings.Cut(args[i], "=")
			if !ok || strings.TrimSpace(key) == "" {
				return "", nil, fmt.Errorf("invalid --set value %q, want key=value", args[i])
			}
			overrides[strings.TrimSpace(key)] = parseValue(raw)
		}
	}
	return path, overrides, nil
}

func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case "memory", "redis", "none":
	default:
		return fmt.Errorf("cache.backend must be memory, redis or none, got %q", c.Cache.Backend)
	}
	switch c.Storage.Text.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("storage.text.driver must be sqlite or postgres, got %q", c.Storage.Text.Driver)
	}
	switch c.Agents.Backoff {
	case "fixed", "exponential", "jittered":
	default:
		return fmt.Errorf("agents.backoff must be fixed, exponential or jittered, got %q", c.Agents.Backoff)
	}
	if c.TelegramAds.MaxTextLength <= 0 {
		return fmt.Errorf("telegram_ads.max_text_length must be positive")
	}
	if c.Agents.RetryAttempts < 1 {
		return fmt.Errorf("agents.retry_attempts must be at least 1")
	}
	return nil
}

// Retry builds the broker retry policy.
func (a AgentsConfig) Retry() resilience.RetryConfig {
	rc := resilience.DefaultRetryConfig().WithMaxAttempts(a.RetryAttempts)
	switch a.Backoff {
	case "exponential":
		return rc.WithBackoff(resilience.ExponentialBackoff{Initial: a.RetryDelay, Max: 30 * time.Second})
	case "jittered":
		return rc.WithBackoff(resilience.JitteredBackoff{Base: resilience.FixedBackoff(a.RetryDelay), Fraction: 0.2})
	default:
		return rc.WithBackoff(resilience.FixedBackoff(a.RetryDelay))
	}
}

// StageTimeouts returns the per-stage timeouts keyed by agent name.
func (a AgentsConfig) StageTimeouts() map[string]time.Duration {
	return map[string]time.Duration{
		"prompt_architect": seconds(a.PromptTimeout),
		"copywriter":       seconds(a.CopywriterTimeout),
		"banner_designer":  seconds(a.BannerTimeout),
		"qa_inspector":     seconds(a.QATimeout),
	}
}

// Total returns the whole-run timeout.
func (a AgentsConfig) Total() time.Duration { return seconds(a.TotalTimeout) }

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func profilePath(path, profile string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + profile + ext
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
