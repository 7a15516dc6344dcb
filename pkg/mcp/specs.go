package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/tools"
)

// DefaultSpecs describes the pipeline's tools.
func DefaultSpecs() []ToolSpec {
	return []ToolSpec{
		{
			Name:        tools.TextGenerate,
			Description: "Write Telegram ad copy from a prompt",
			Options: []mcp.ToolOption{
				mcp.WithString("prompt", mcp.Required(), mcp.Description("Copywriting prompt")),
				mcp.WithString("style", mcp.Description("professional, friendly, creative or urgent")),
				mcp.WithNumber("max_length", mcp.Description("Character limit of the ad")),
			},
		},
		{
			Name:        tools.ImageGenerate,
			Description: "Render a banner image and return its URL",
			Options: []mcp.ToolOption{
				mcp.WithString("prompt", mcp.Required(), mcp.Description("Image prompt")),
				mcp.WithString("negative_prompt", mcp.Description("What the image must not show")),
				mcp.WithNumber("steps", mcp.Description("Sampling steps")),
			},
		},
		{
			Name:        tools.ComplianceCheck,
			Description: "Check ad text against the Telegram Ads rules",
			Options: []mcp.ToolOption{
				mcp.WithString("text", mcp.Required(), mcp.Description("Ad text")),
				mcp.WithString("link", mcp.Description("Landing link")),
			},
		},
	}
}
