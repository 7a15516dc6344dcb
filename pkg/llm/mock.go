package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"
)

// MockProvider is an offline Provider. Without Response, ChatFunc or
// scripted responses it writes a short ad naming the product line of the
// prompt.
type MockProvider struct {
	Response string
	Err      error
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	mu        sync.Mutex
	scripted  []string
	callCount int
}

// NewMock returns a mock that writes canned ads.
func NewMock() *MockProvider { return &MockProvider{} }

// NewScriptedMock returns a mock that pops responses in order.
func NewScriptedMock(responses ...string) *MockProvider {
	return &MockProvider{scripted: append([]string(nil), responses...)}
}

// Chat implements Provider.
func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	m.mu.Lock()
	m.callCount++
	var next string
	scripted := len(m.scripted) > 0
	if scripted {
		next, m.scripted = m.scripted[0], m.scripted[1:]
	}
	m.mu.Unlock()

	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	content := m.Response
	switch {
	case scripted:
		content = next
	case content == "":
		content = cannedAd(req)
	}
	return &ChatResponse{
		Content: content,
		Model:   "mock",
		Usage: Usage{
			PromptTokens:     10,
			CompletionTokens: 10,
			TotalTokens:      20,
		},
	}, nil
}

// Calls returns how many times Chat has been called.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

func cannedAd(req ChatRequest) string {
	product := "наш продукт"
	for _, line := range strings.Split(req.Prompt(), "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "Продукт:"); ok {
			product = strings.TrimSuffix(strings.TrimSpace(rest), ".")
			if i := strings.LastIndex(product, " ("); i > 0 {
				product = product[:i]
			}
		}
	}
	if utf8.RuneCountInString(product) > 60 {
		product = string([]rune(product)[:60])
	}
	return fmt.Sprintf("✨ %s: попробуйте сегодня! Закажите в Telegram 👉", product)
}
