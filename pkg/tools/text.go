// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/core"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/errors"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/llm"
)

const copywriterSystemPrompt = "Ты опытный копирайтер для рекламных баннеров Telegram."

var styleInstructions = map[string]string{
	"professional": "Пиши деловым, уверенным тоном.",
	"creative":     "Пиши ярко и образно, допускается игра слов.",
	"urgent":       "Подчеркни срочность и ограниченность предложения.",
	"emotional":    "Обращайся к чувствам и желаниям читателя.",
	"clear":        "Пиши просто и по делу, без лишних слов.",
}

// StyleInstruction returns the copywriting instruction for style, falling
// back to "professional".
func StyleInstruction(style string) string {
	if s, ok := styleInstructions[strings.ToLower(strings.TrimSpace(style))]; ok {
		return s
	}
	return styleInstructions["professional"]
}

// TextTool implements text.generate on top of an llm.Provider.
type TextTool struct {
	provider    llm.Provider
	model       string
	temperature float64
	maxTokens   int
	logger      *slog.Logger
}

// TextOption configures a TextTool.
type TextOption func(*TextTool)

// WithModel sets the model name sent with each request.
func WithModel(model string) TextOption {
	return func(t *TextTool) { t.model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temp float64) TextOption {
	return func(t *TextTool) { t.temperature = temp }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) TextOption {
	return func(t *TextTool) { t.maxTokens = n }
}

// WithTextLogger sets the logger.
func WithTextLogger(l *slog.Logger) TextOption {
	return func(t *TextTool) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTextTool creates text.generate.
func NewTextTool(provider llm.Provider, opts ...TextOption) *TextTool {
	t := &TextTool{provider: provider, temperature: 0.7, maxTokens: 1000, logger: slog.Default()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name implements core.Tool.
func (t *TextTool) Name() string { return TextGenerate }

// Execute takes prompt, style and max_length and returns {text, model}.
// Text over max_length is returned as is; the copywriter flags it.
func (t *TextTool) Execute(ctx context.Context, args core.Args) (core.Result, error) {
	prompt := strings.TrimSpace(args.String("prompt"))
	if prompt == "" {
		return nil, errors.New(errors.CodeInvalidInput, "prompt is required", nil).WithContext("tool", TextGenerate)
	}
	maxLength := args.Int("max_length", 160)

	user := fmt.Sprintf("%s\n\n%s\nОграничение: не более %d символов. Верни только текст объявления.",
		prompt, StyleInstruction(args.String("style")), maxLength)

	req := llm.NewChatRequest(copywriterSystemPrompt, user)
	req.Model = t.model
	req.Temperature = t.temperature
	req.MaxTokens = t.maxTokens
	resp, err := t.provider.Chat(ctx, req)
	if err != nil {
		return nil, errors.New(errors.CodeLLMError, "text generation failed", err).
			WithContext("tool", TextGenerate).
			WithRecoverable(true)
	}

	text := cleanText(resp.Content)
	if text == "" {
		return nil, errors.New(errors.CodeLLMError, "model returned empty text", nil).
			WithContext("tool", TextGenerate).
			WithRecoverable(true)
	}
	model := resp.Model
	if model == "" {
		model = t.model
	}
	t.logger.DebugContext(ctx, "text generated", "chars", len([]rune(text)), "model", model)
	return core.Result{"text": text, "model": model}, nil
}

// cleanText strips whitespace and the quotes models like to wrap ads in.
// A pair is removed only when it wraps the whole text, so quoted names
// inside the ad survive.
func cleanText(s string) string {
	s = strings.TrimSpace(s)
	for _, pair := range [][2]string{{`"`, `"`}, {"«", "»"}} {
		open, closing := pair[0], pair[1]
		if len(s) < len(open)+len(closing) || !strings.HasPrefix(s, open) || !strings.HasSuffix(s, closing) {
			continue
		}
		inner := s[len(open) : len(s)-len(closing)]
		if strings.Contains(inner, open) || strings.Contains(inner, closing) {
			continue
		}
		s = strings.TrimSpace(inner)
	}
	return s
}
