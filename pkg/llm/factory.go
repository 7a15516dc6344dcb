// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Config selects and configures a provider.
type Config struct {
	Provider    string        `koanf:"provider"`
	Model       string        `koanf:"model"`
	APIKey      string        `koanf:"api_key"`
	BaseURL     string        `koanf:"base_url"`
	Temperature float64       `koanf:"temperature"`
	MaxTokens   int           `koanf:"max_tokens"`
	Timeout     time.Duration `koanf:"timeout"`
}

// New builds the provider named by cfg.Provider: openai (any compatible
// gateway, GigaChat included), anthropic, gemini, ollama or mock.
func New(ctx context.Context, cfg Config) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai", "gigachat":
		var opts []OpenAIOption
		if cfg.APIKey != "" {
			opts = append(opts, WithOpenAIAPIKey(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, WithOpenAIBaseURL(cfg.BaseURL))
		}
		if cfg.Model != "" {
			opts = append(opts, WithOpenAIModel(cfg.Model))
		}
		return NewOpenAI(opts...), nil
	case "anthropic":
		var opts []AnthropicOption
		if cfg.APIKey != "" {
			opts = append(opts, WithAnthropicAPIKey(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, WithAnthropicBaseURL(cfg.BaseURL))
		}
		if cfg.Model != "" {
			opts = append(opts, WithAnthropicModel(cfg.Model))
		}
		if cfg.MaxTokens > 0 {
			opts = append(opts, WithAnthropicMaxTokens(int64(cfg.MaxTokens)))
		}
		return NewAnthropic(opts...), nil
	case "gemini":
		p, err := NewGemini(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "ollama":
		return NewOllama(cfg.BaseURL, cfg.Model, cfg.Timeout), nil
	case "", "mock":
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
