// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/core"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/security"
)

// ComplianceTool implements compliance.check with the security checker.
type ComplianceTool struct {
	checker *security.Checker
}

// NewComplianceTool creates compliance.check.
func NewComplianceTool(checker *security.Checker) *ComplianceTool {
	return &ComplianceTool{checker: checker}
}

// Name implements core.Tool.
func (t *ComplianceTool) Name() string { return ComplianceCheck }

// Execute takes text, image_url, link and rules_version and returns
// {is_approved, issues, rules_version}. A rules_version other than the
// loaded one is answered with the loaded version.
func (t *ComplianceTool) Execute(ctx context.Context, args core.Args) (core.Result, error) {
	verdict := t.checker.CheckAd(ctx, args.String("text"), args.String("link"))
	issues := verdict.Issues()
	if issues == nil {
		issues = []string{}
	}
	return core.Result{
		"is_approved":   verdict.Approved,
		"issues":        issues,
		"rules_version": t.checker.Rules().Version,
	}, nil
}
