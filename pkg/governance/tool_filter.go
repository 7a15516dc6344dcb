// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"context"
	"strings"
)

// ToolFilter decides which broker tools an outer surface such as MCP may
// expose. Patterns are exact names or globs like "image.*".
type ToolFilter struct {
	allow []string
	deny  []string
}

// ToolFilterOption configures a ToolFilter.
type ToolFilterOption func(*ToolFilter)

// NewToolFilter builds a filter. With no options every tool passes.
func NewToolFilter(opts ...ToolFilterOption) *ToolFilter {
	tf := &ToolFilter{}
	for _, opt := range opts {
		opt(tf)
	}
	return tf
}

// WithAllowlist restricts exposure to tools matching one of patterns.
func WithAllowlist(patterns []string) ToolFilterOption {
	return func(tf *ToolFilter) { tf.allow = appendPatterns(tf.allow, patterns) }
}

// WithDenylist hides tools matching any of patterns, even allowlisted ones.
func WithDenylist(patterns []string) ToolFilterOption {
	return func(tf *ToolFilter) { tf.deny = appendPatterns(tf.deny, patterns) }
}

// IsAllowed reports whether tool may be exposed.
func (tf *ToolFilter) IsAllowed(_ context.Context, tool string) Decision {
	if p, ok := firstMatch(tf.deny, tool); ok {
		return Deny("tool hidden by " + p)
	}
	if len(tf.allow) == 0 {
		return Allow()
	}
	if _, ok := firstMatch(tf.allow, tool); !ok {
		return Deny("tool not exposed")
	}
	return Allow()
}

// FilterTools keeps the exposed tools, preserving order.
func (tf *ToolFilter) FilterTools(ctx context.Context, tools []string) []string {
	if len(tf.allow) == 0 && len(tf.deny) == 0 {
		return tools
	}
	var out []string
	for _, name := range tools {
		if tf.IsAllowed(ctx, name).IsAllowed() {
			out = append(out, name)
		}
	}
	return out
}

func appendPatterns(dst, patterns []string) []string {
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			dst = append(dst, p)
		}
	}
	return dst
}

// firstMatch returns the first pattern matching tool. Empty entries never
// reach here, so an empty pattern does not act as a wildcard.
func firstMatch(patterns []string, tool string) (string, bool) {
	for _, p := range patterns {
		if matchPattern(p, tool) {
			return p, true
		}
	}
	return "", false
}

// addAll puts the trimmed, non-blank entries of tools into set. A blank
// entry would match every tool, so it is dropped.
func addAll(set map[string]bool, tools []string) {
	for _, tool := range appendPatterns(nil, tools) {
		set[tool] = true
	}
}

// matchesAny reports whether tool is in set, either by name or by glob.
func matchesAny(tool string, set map[string]bool) bool {
	if set[tool] {
		return true
	}
	for pattern := range set {
		if pattern != "" && matchPattern(pattern, tool) {
			return true
		}
	}
	return false
}
