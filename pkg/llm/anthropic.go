// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider implements Provider for the Anthropic Messages API.
type AnthropicProvider struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// AnthropicOption configures the AnthropicProvider.
type AnthropicOption func(*anthropicSettings)

type anthropicSettings struct {
	model     string
	maxTokens int64
	request   []option.RequestOption
}

// WithAnthropicModel sets the default model.
func WithAnthropicModel(model string) AnthropicOption {
	return func(s *anthropicSettings) { s.model = model }
}

// WithAnthropicMaxTokens sets the default maximum tokens for responses.
func WithAnthropicMaxTokens(tokens int64) AnthropicOption {
	return func(s *anthropicSettings) { s.maxTokens = tokens }
}

// WithAnthropicBaseURL sets a custom base URL.
func WithAnthropicBaseURL(url string) AnthropicOption {
	return func(s *anthropicSettings) { s.request = append(s.request, option.WithBaseURL(url)) }
}

// WithAnthropicAPIKey sets the API key.
func WithAnthropicAPIKey(apiKey string) AnthropicOption {
	return func(s *anthropicSettings) { s.request = append(s.request, option.WithAPIKey(apiKey)) }
}

// WithAnthropicRequestOptions passes raw client options.
func WithAnthropicRequestOptions(opts ...option.RequestOption) AnthropicOption {
	return func(s *anthropicSettings) { s.request = append(s.request, opts...) }
}

// NewAnthropic creates a new Anthropic provider.
// API key is read from ANTHROPIC_API_KEY environment variable by default.
func NewAnthropic(opts ...AnthropicOption) *AnthropicProvider {
	s := anthropicSettings{model: "claude-sonnet-4-20250514", maxTokens: 1024}
	for _, opt := range opts {
		opt(&s)
	}
	return &AnthropicProvider{
		client:    anthropic.NewClient(s.request...),
		model:     s.model,
		maxTokens: s.maxTokens,
	}
}

// Chat implements Provider.
func (p *AnthropicProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := p.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	systemPrompt := req.System()
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
		case RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic message failed: %w", err)
	}

	resp := &ChatResponse{
		Model: string(message.Model),
		Usage: Usage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
			TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
		},
	}
	for _, block := range message.Content {
		if block.Type == "text" {
			resp.Content += block.Text
		}
	}
	return resp, nil
}

var _ Provider = (*AnthropicProvider)(nil)
