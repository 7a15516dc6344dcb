// SPDX-License-Identifier: Apache-2.0

package agents

import (
	"context"
	"log/slog"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/agent"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/core"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/errors"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/templates"
)

// ImagePromptValidator screens image prompts for unsafe content.
type ImagePromptValidator interface {
	ValidateImagePrompt(ctx context.Context, prompt string) (bool, string)
}

// PromptAgent turns the brief into text and image prompts. It calls no
// tools.
type PromptAgent struct {
	agent.Base
	templates *templates.Set
	validator ImagePromptValidator
	maxLength int
	logger    *slog.Logger
}

// NewPromptAgent creates the prompt architect. validator may be nil.
func NewPromptAgent(set *templates.Set, validator ImagePromptValidator, maxLength int, logger *slog.Logger) *PromptAgent {
	if set == nil {
		set = templates.Default()
	}
	if maxLength <= 0 {
		maxLength = DefaultMaxTextLength
	}
	return &PromptAgent{
		Base: agent.Base{
			AgentName: PromptArchitect,
			Required:  []string{core.KeyProduct, core.KeyProductType, core.KeyAudience, core.KeyGoal},
		},
		templates: set,
		validator: validator,
		maxLength: maxLength,
		logger:    loggerOrDefault(logger),
	}
}

// Process implements agent.Agent.
func (a *PromptAgent) Process(ctx context.Context, p *core.Payload) agent.Outcome {
	brief := core.BriefFromMap(p.ToMap())
	prompts, err := a.templates.Render(brief, a.maxLength)
	if err != nil {
		return agent.Fatal(errors.Agent(a.Name(), "failed to render prompts", err))
	}

	p.Set(core.KeyTextPrompt, prompts.Text)
	p.Set(core.KeyImagePrompt, prompts.Image)
	p.Set(core.KeyNegativePrompt, prompts.Negative)
	p.Set(core.KeyMeta, prompts.Meta)
	a.logger.DebugContext(ctx, "prompts rendered", "template_version", a.templates.Version())

	if a.validator != nil {
		if ok, msg := a.validator.ValidateImagePrompt(ctx, prompts.Image); !ok {
			return agent.Degraded(msg)
		}
	}
	return agent.Success()
}
