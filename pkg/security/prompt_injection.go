// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package security

import (
	"context"
	"regexp"
	"strings"
)

// PromptInjectionDetector flags brief fields that try to steer the text
// model away from the ad it is asked to write.
type PromptInjectionDetector struct {
	patterns []*regexp.Regexp
}

var defaultInjectionPatterns = []string{
	// Direct instruction override attempts
	`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`,
	`(?i)disregard\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`,
	`(?i)forget\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`,
	`(?i)игнорируй\s+(все\s+)?(предыдущие|прошлые)\s+(инструкции|правила)`,
	`(?i)забудь\s+(все\s+)?(предыдущие|прошлые)\s+(инструкции|правила)`,

	// Role/persona manipulation
	`(?i)you\s+are\s+now\s+(a|an)\s+`,
	`(?i)pretend\s+(you\s+are|to\s+be)\s+`,
	`(?i)ты\s+теперь\s+`,

	// System prompt extraction
	`(?i)(show|reveal|print)\s+(me\s+)?your\s+(system\s+)?(prompt|instructions?)`,
	`(?i)покажи\s+(свой\s+)?(системный\s+)?промпт`,

	// Jailbreak attempts
	`(?i)jailbreak`,
	`(?i)bypass\s+(safety|content|filter)`,
	`(?i)(developer|debug|sudo|admin)\s+mode`,

	// Delimiter manipulation
	`(?i)\]\]\s*system\s*:`,
	`(?i)<\|.*\|>`,
	`(?i)\[/?INST\]`,
	`(?i)<</?SYS>>`,
}

// NewPromptInjectionDetector compiles the built-in patterns plus extra.
// Patterns that do not compile are skipped.
func NewPromptInjectionDetector(extra ...string) *PromptInjectionDetector {
	d := &PromptInjectionDetector{
		patterns: make([]*regexp.Regexp, 0, len(defaultInjectionPatterns)+len(extra)),
	}
	for _, pattern := range append(append([]string(nil), defaultInjectionPatterns...), extra...) {
		if re, err := regexp.Compile(pattern); err == nil {
			d.patterns = append(d.patterns, re)
		}
	}
	return d
}

// Detect returns the first matching pattern, if any. The scan stops when
// ctx is done, so a miss under a done ctx proves nothing.
func (d *PromptInjectionDetector) Detect(ctx context.Context, input string) (string, bool) {
	if input == "" {
		return "", false
	}
	normalized := strings.ToLower(input)
	for _, pattern := range d.patterns {
		if ctx.Err() != nil {
			return "", false
		}
		if pattern.MatchString(normalized) {
			return pattern.String(), true
		}
	}
	return "", false
}
