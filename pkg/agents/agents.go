// SPDX-License-Identifier: Apache-2.0

// Package agents holds the four pipeline stages: prompt architect,
// copywriter, banner designer and QA inspector.
package agents

import (
	"context"
	"log/slog"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/core"
)

// Agent names, used for permissions, counters and stage status.
const (
	PromptArchitect = "prompt_architect"
	Copywriter      = "copywriter"
	BannerDesigner  = "banner_designer"
	QAInspector     = "qa_inspector"
)

// DefaultRulesVersion is the rule set the QA inspector asks for.
const DefaultRulesVersion = "tg_ads_2026"

// DefaultMaxTextLength is the Telegram Ads text limit in characters.
const DefaultMaxTextLength = 160

// Caller invokes broker tools on behalf of an agent.
type Caller interface {
	Call(ctx context.Context, tool, agent string, args core.Args) (core.Result, error)
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
