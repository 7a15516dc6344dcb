// SPDX-License-Identifier: Apache-2.0

package agents

import (
	"context"
	"log/slog"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/agent"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/core"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/tools"
)

// BannerDesignerAgent renders the banner with image.generate. Generation
// failures are reported in the payload and never abort the run.
type BannerDesignerAgent struct {
	agent.Base
	broker Caller
	logger *slog.Logger
}

// NewBannerDesignerAgent creates the banner designer.
func NewBannerDesignerAgent(broker Caller, logger *slog.Logger) *BannerDesignerAgent {
	return &BannerDesignerAgent{
		Base: agent.Base{
			AgentName: BannerDesigner,
			Tools:     []string{tools.ImageGenerate},
			Required:  []string{core.KeyImagePrompt},
		},
		broker: broker,
		logger: loggerOrDefault(logger),
	}
}

// Process implements agent.Agent.
func (a *BannerDesignerAgent) Process(ctx context.Context, p *core.Payload) agent.Outcome {
	res, err := a.broker.Call(ctx, tools.ImageGenerate, a.Name(), core.Args{
		"prompt":          p.String(core.KeyImagePrompt),
		"negative_prompt": p.String(core.KeyNegativePrompt),
	})
	if err != nil {
		a.logger.ErrorContext(ctx, "banner generation failed",
			"error", agent.WrapToolError(err, a.Name(), tools.ImageGenerate))
		return a.fail(p, err.Error())
	}

	url := res.String("image_url")
	if url == "" || !res.Bool("success") {
		return a.fail(p, "image generation returned no image")
	}
	p.Set(core.KeyBannerURL, url)
	return agent.Success()
}

func (a *BannerDesignerAgent) fail(p *core.Payload, msg string) agent.Outcome {
	p.Set(core.KeyBannerURL, "")
	p.Set(core.KeyBannerError, msg)
	return agent.Degraded("banner: " + msg)
}
