// SPDX-License-Identifier: Apache-2.0

// Package tools implements the broker tools the agents call: text
// generation, banner generation and the compliance check.
package tools

import (
	"github.com/garantiatsverga/master-of-tg-ads/pkg/core"
)

// Tool names registered on the broker.
const (
	TextGenerate    = "text.generate"
	ImageGenerate   = "image.generate"
	ComplianceCheck = "compliance.check"
)

// Set groups the three tools. Nil members are skipped by Tools.
type Set struct {
	Text       *TextTool
	Image      *ImageTool
	Compliance *ComplianceTool
}

// Tools returns the configured tools in registration order.
func (s Set) Tools() []core.Tool {
	var out []core.Tool
	if s.Text != nil {
		out = append(out, s.Text)
	}
	if s.Image != nil {
		out = append(out, s.Image)
	}
	if s.Compliance != nil {
		out = append(out, s.Compliance)
	}
	return out
}
