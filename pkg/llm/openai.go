// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider implements Provider for the OpenAI chat completions API
// and compatible gateways.
type OpenAIProvider struct {
	client openai.Client
	model  string
}

// OpenAIOption configures the OpenAIProvider.
type OpenAIOption func(*openAISettings)

type openAISettings struct {
	model   string
	request []option.RequestOption
}

// WithOpenAIModel sets the default model.
func WithOpenAIModel(model string) OpenAIOption {
	return func(s *openAISettings) { s.model = model }
}

// WithOpenAIBaseURL sets a custom base URL (for Azure OpenAI, GigaChat
// gateways or proxies).
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(s *openAISettings) { s.request = append(s.request, option.WithBaseURL(url)) }
}

// WithOpenAIAPIKey sets the API key.
func WithOpenAIAPIKey(apiKey string) OpenAIOption {
	return func(s *openAISettings) { s.request = append(s.request, option.WithAPIKey(apiKey)) }
}

// WithOpenAIRequestOptions passes raw client options.
func WithOpenAIRequestOptions(opts ...option.RequestOption) OpenAIOption {
	return func(s *openAISettings) { s.request = append(s.request, opts...) }
}

// NewOpenAI creates a new OpenAI provider.
// API key is read from OPENAI_API_KEY environment variable by default.
func NewOpenAI(opts ...OpenAIOption) *OpenAIProvider {
	s := openAISettings{model: "gpt-5-mini"}
	for _, opt := range opts {
		opt(&s)
	}
	return &OpenAIProvider{
		client: openai.NewClient(s.request...),
		model:  s.model,
	}
}

// Chat implements Provider.
func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion failed: %w", err)
	}

	resp := &ChatResponse{
		Model: completion.Model,
		Usage: Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}
	if len(completion.Choices) > 0 {
		resp.Content = completion.Choices[0].Message.Content
	}
	return resp, nil
}

var _ Provider = (*OpenAIProvider)(nil)
