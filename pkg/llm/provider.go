// Package llm is the text-generation backend behind the text.generate tool.
package llm

import (
	"context"
	"strings"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is one completion request. Model, Temperature and MaxTokens
// fall back to the provider's configuration when zero.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// NewChatRequest builds the usual two-message request: instructions for
// the model, then the prompt. An empty system prompt is omitted.
func NewChatRequest(system, prompt string) ChatRequest {
	var msgs []Message
	if system != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: system})
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: prompt})
	return ChatRequest{Messages: msgs}
}

// System joins the system messages of r.
func (r ChatRequest) System() string { return r.join(RoleSystem) }

// Prompt joins the user messages of r.
func (r ChatRequest) Prompt() string { return r.join(RoleUser) }

func (r ChatRequest) join(role Role) string {
	var parts []string
	for _, m := range r.Messages {
		if m.Role == role {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

type ChatResponse struct {
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
	Usage   Usage  `json:"usage"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Provider writes ad copy from a chat request.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}
