// SPDX-License-Identifier: Apache-2.0

package agents

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/agent"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/core"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/tools"
)

// CopywriterAgent writes the ad text with text.generate.
type CopywriterAgent struct {
	agent.Base
	broker    Caller
	maxLength int
	logger    *slog.Logger
}

// NewCopywriterAgent creates the copywriter.
func NewCopywriterAgent(broker Caller, maxLength int, logger *slog.Logger) *CopywriterAgent {
	if maxLength <= 0 {
		maxLength = DefaultMaxTextLength
	}
	return &CopywriterAgent{
		Base: agent.Base{
			AgentName: Copywriter,
			Tools:     []string{tools.TextGenerate},
			Required:  []string{core.KeyTextPrompt},
		},
		broker:    broker,
		maxLength: maxLength,
		logger:    loggerOrDefault(logger),
	}
}

// Process implements agent.Agent. Over-long text is kept and flagged;
// a failed call leaves an empty text.
func (a *CopywriterAgent) Process(ctx context.Context, p *core.Payload) agent.Outcome {
	res, err := a.broker.Call(ctx, tools.TextGenerate, a.Name(), core.Args{
		"prompt":     p.String(core.KeyTextPrompt),
		"style":      p.String(core.KeyStyle),
		"max_length": a.maxLength,
	})
	if err != nil {
		wrapped := agent.WrapToolError(err, a.Name(), tools.TextGenerate)
		a.logger.ErrorContext(ctx, "text generation failed", "error", wrapped)
		p.Set(core.KeyFinalText, "")
		return agent.Degraded("text_generation: " + err.Error())
	}

	text := res.String("text")
	p.Set(core.KeyFinalText, text)
	if model := res.String("model"); model != "" {
		p.Set(core.KeyTextModel, model)
	}

	if n := utf8.RuneCountInString(text); n > a.maxLength {
		return agent.Degraded(fmt.Sprintf("text_length: %d characters, limit %d", n, a.maxLength))
	}
	return agent.Success()
}
