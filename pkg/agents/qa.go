// SPDX-License-Identifier: Apache-2.0

package agents

import (
	"context"
	"log/slog"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/agent"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/core"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/tools"
)

const complianceFailedIssue = "compliance check failed"

// QAAgent gives the final verdict with compliance.check. It always writes
// qa_status and qa_report.
type QAAgent struct {
	agent.Base
	broker       Caller
	rulesVersion string
	logger       *slog.Logger
}

// NewQAAgent creates the QA inspector. An empty rulesVersion means
// DefaultRulesVersion.
func NewQAAgent(broker Caller, rulesVersion string, logger *slog.Logger) *QAAgent {
	if rulesVersion == "" {
		rulesVersion = DefaultRulesVersion
	}
	return &QAAgent{
		Base: agent.Base{
			AgentName: QAInspector,
			Tools:     []string{tools.ComplianceCheck},
			Required:  []string{core.KeyFinalText, core.KeyBannerURL},
		},
		broker:       broker,
		rulesVersion: rulesVersion,
		logger:       loggerOrDefault(logger),
	}
}

// Process implements agent.Agent.
func (a *QAAgent) Process(ctx context.Context, p *core.Payload) agent.Outcome {
	res, err := a.broker.Call(ctx, tools.ComplianceCheck, a.Name(), core.Args{
		"text":          p.String(core.KeyFinalText),
		"image_url":     p.String(core.KeyBannerURL),
		"rules_version": a.rulesVersion,
	})
	if err != nil {
		a.logger.ErrorContext(ctx, "compliance check failed",
			"error", agent.WrapToolError(err, a.Name(), tools.ComplianceCheck))
		p.Set(core.KeyQAStatus, core.QARejected)
		p.Set(core.KeyQAReport, []string{complianceFailedIssue})
		return agent.Degraded(complianceFailedIssue)
	}

	issues := res.Strings("issues")
	if issues == nil {
		issues = []string{}
	}
	status := core.QARejected
	if res.Bool("is_approved") {
		status = core.QAApproved
	}
	p.Set(core.KeyQAStatus, status)
	p.Set(core.KeyQAReport, issues)
	p.SetMeta("rules_version", res.String("rules_version"))
	a.logger.InfoContext(ctx, "compliance verdict", "status", status, "issues", len(issues))
	return agent.Success()
}
