// SPDX-License-Identifier: Apache-2.0

// Package security checks ad content against the platform rules: text
// length, profanity, link shorteners, prohibited categories, unsafe image
// prompts and prompt injection in briefs.
package security

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/core"
)

// Violation types, used as the prefix of every issue string.
const (
	ViolationTextLength = "text_length"
	ViolationProfanity  = "profanity"
	ViolationLink       = "link"
	ViolationCategory   = "prohibited_category"
	ViolationImage      = "image_prompt"
	ViolationInjection  = "prompt_injection"
)

// Violation is one broken rule.
type Violation struct {
	Type   string `json:"type"`
	Detail string `json:"detail"`
}

// Issue formats the violation for reports, e.g. "text_length: 200 > 160".
func (v Violation) Issue() string {
	if v.Detail == "" {
		return v.Type
	}
	return v.Type + ": " + v.Detail
}

// Verdict is the result of an ad compliance check.
type Verdict struct {
	Approved   bool        `json:"is_approved"`
	Violations []Violation `json:"violations"`
}

// Issues returns the violations as report strings.
func (v Verdict) Issues() []string {
	issues := make([]string, 0, len(v.Violations))
	for _, violation := range v.Violations {
		issues = append(issues, violation.Issue())
	}
	return issues
}

// Stats counts checks performed by a Checker.
type Stats struct {
	TotalChecks          int            `json:"total_checks"`
	Passed               int            `json:"passed"`
	Failed               int            `json:"failed"`
	ViolationsByCategory map[string]int `json:"violations_by_category"`
	PassRate             float64        `json:"pass_rate"`
}

// Checker applies Rules. Rules can be swapped at runtime with SetRules.
type Checker struct {
	mu        sync.RWMutex
	rules     Rules
	injection *PromptInjectionDetector

	statsMu sync.Mutex
	stats   Stats

	logger *slog.Logger
}

// Option configures a Checker.
type Option func(*Checker)

// WithRules replaces the default rules.
func WithRules(r Rules) Option {
	return func(c *Checker) { c.setRules(r.withDefaults()) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Checker) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Checker with the default rules.
func New(opts ...Option) *Checker {
	c := &Checker{
		logger: slog.Default(),
		stats:  Stats{ViolationsByCategory: make(map[string]int)},
	}
	c.setRules(DefaultRules())
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetRules swaps the active rules.
func (c *Checker) SetRules(r Rules) {
	r = r.withDefaults()
	c.setRules(r)
	c.logger.Info("security rules loaded", "version", r.Version)
}

func (c *Checker) setRules(r Rules) {
	detector := NewPromptInjectionDetector(r.InjectionPatterns...)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = r
	c.injection = detector
}

// Rules returns the active rules.
func (c *Checker) Rules() Rules {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rules
}

// CheckAd checks ad text and an optional link. Every broken rule is
// reported, not only the first.
func (c *Checker) CheckAd(ctx context.Context, text, link string) Verdict {
	rules := c.Rules()
	lower := strings.ToLower(text)
	var violations []Violation

	if n := utf8.RuneCountInString(text); n > rules.MaxTextLength {
		violations = append(violations, Violation{
			Type:   ViolationTextLength,
			Detail: fmt.Sprintf("%d characters, limit %d", n, rules.MaxTextLength),
		})
	}
	for _, word := range rules.Profanity {
		if word != "" && strings.Contains(lower, word) {
			violations = append(violations, Violation{Type: ViolationProfanity, Detail: word})
			break
		}
	}
	for _, shortener := range rules.LinkShorteners {
		if shortener == "" {
			continue
		}
		if strings.Contains(strings.ToLower(link), shortener) || strings.Contains(lower, shortener) {
			violations = append(violations, Violation{Type: ViolationLink, Detail: shortener})
			break
		}
	}
	for _, category := range rules.Categories {
		if keyword, ok := containsAny(lower, category.Keywords); ok {
			violations = append(violations, Violation{
				Type:   ViolationCategory,
				Detail: category.Name + " (" + keyword + ")",
			})
		}
	}

	verdict := Verdict{Approved: len(violations) == 0, Violations: violations}
	c.record(verdict)
	if verdict.Approved {
		c.logger.DebugContext(ctx, "ad check passed", "rules_version", rules.Version)
	} else {
		c.logger.WarnContext(ctx, "ad check failed",
			"rules_version", rules.Version,
			"issues", verdict.Issues(),
		)
	}
	return verdict
}

// ValidateImagePrompt rejects prompts containing unsafe words. The message
// names the matched content.
func (c *Checker) ValidateImagePrompt(ctx context.Context, prompt string) (bool, string) {
	lower := strings.ToLower(prompt)
	for _, w := range c.Rules().ImageWords {
		if w.Word != "" && strings.Contains(lower, strings.ToLower(w.Word)) {
			c.logger.WarnContext(ctx, "unsafe image prompt", "word", w.Word)
			return false, fmt.Sprintf("%s: %s (%s)", ViolationImage, w.Word, w.Description)
		}
	}
	return true, ""
}

// DetectInjection reports a prompt injection attempt in input.
func (c *Checker) DetectInjection(ctx context.Context, input string) (string, bool) {
	c.mu.RLock()
	detector := c.injection
	c.mu.RUnlock()
	return detector.Detect(ctx, input)
}

// briefKeys are the payload fields supplied by the caller. Generated fields
// are judged by CheckAd instead.
var briefKeys = []string{
	core.KeyProduct, core.KeyProductType, core.KeyAudience,
	core.KeyGoal, core.KeyStyle,
}

// Check implements core.SecurityChecker. For a payload it inspects the
// brief fields for prompt injection and profanity. For tool arguments and
// plain maps it inspects every string value for prompt injection. A done
// ctx fails the check with ctx.Err(), since the scan may have stopped early.
func (c *Checker) Check(ctx context.Context, payload any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ok := c.check(ctx, payload)
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return ok, nil
}

func (c *Checker) check(ctx context.Context, payload any) bool {
	switch v := payload.(type) {
	case nil:
		return true
	case *core.Payload:
		for _, key := range briefKeys {
			if ok := c.checkBriefField(ctx, key, v.String(key)); !ok {
				return false
			}
		}
		return true
	case core.Args:
		return c.checkValues(ctx, v)
	case map[string]any:
		return c.checkValues(ctx, v)
	case string:
		_, found := c.DetectInjection(ctx, v)
		return !found
	default:
		return true
	}
}

func (c *Checker) checkBriefField(ctx context.Context, key, value string) bool {
	if value == "" {
		return true
	}
	if pattern, found := c.DetectInjection(ctx, value); found {
		c.logger.WarnContext(ctx, "prompt injection in brief", "field", key, "pattern", pattern)
		c.recordViolation(ViolationInjection)
		return false
	}
	if word, found := containsAny(strings.ToLower(value), c.Rules().Profanity); found {
		c.logger.WarnContext(ctx, "profanity in brief", "field", key, "word", word)
		c.recordViolation(ViolationProfanity)
		return false
	}
	return true
}

func (c *Checker) checkValues(ctx context.Context, values map[string]any) bool {
	for key, value := range values {
		s, ok := value.(string)
		if !ok {
			continue
		}
		if pattern, found := c.DetectInjection(ctx, s); found {
			c.logger.WarnContext(ctx, "prompt injection in tool arguments", "arg", key, "pattern", pattern)
			c.recordViolation(ViolationInjection)
			return false
		}
	}
	return true
}

func (c *Checker) record(v Verdict) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.stats.TotalChecks++
	if v.Approved {
		c.stats.Passed++
		return
	}
	c.stats.Failed++
	for _, violation := range v.Violations {
		c.stats.ViolationsByCategory[violation.Type]++
	}
}

func (c *Checker) recordViolation(kind string) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.stats.ViolationsByCategory[kind]++
}

// Stats returns a snapshot of the check counters. PassRate is a percentage.
func (c *Checker) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	out := c.stats
	out.ViolationsByCategory = make(map[string]int, len(c.stats.ViolationsByCategory))
	for k, v := range c.stats.ViolationsByCategory {
		out.ViolationsByCategory[k] = v
	}
	if out.TotalChecks > 0 {
		out.PassRate = float64(out.Passed) / float64(out.TotalChecks) * 100
	}
	return out
}

func containsAny(lower string, words []string) (string, bool) {
	for _, w := range words {
		if w != "" && strings.Contains(lower, strings.ToLower(w)) {
			return w, true
		}
	}
	return "", false
}
