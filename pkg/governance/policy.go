// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package governance decides which agent may call which tool: per-agent
// permission sets plus an optional ordered rule set applied on top.
package governance

import (
	"context"
	"path"
	"strconv"
	"strings"
)

// ActionType describes the type of action to evaluate.
type ActionType string

const (
	ActionTool ActionType = "tool"
	ActionMCP  ActionType = "mcp"
)

// Action describes a decision target for policy evaluation.
type Action struct {
	Type  ActionType
	Name  string
	Agent string
}

// DecisionStatus captures the policy outcome.
type DecisionStatus string

const (
	DecisionStatusAllow DecisionStatus = "allow"
	DecisionStatusDeny  DecisionStatus = "deny"
)

// Decision captures the outcome of a policy evaluation.
type Decision struct {
	Status DecisionStatus
	Reason string
	RuleID string
}

// Allow is the permissive decision.
func Allow() Decision { return Decision{Status: DecisionStatusAllow} }

// Deny builds a denial with a reason.
func Deny(reason string) Decision { return Decision{Status: DecisionStatusDeny, Reason: reason} }

// IsAllowed returns true when the decision permits the action.
func (d Decision) IsAllowed() bool { return d.Status == DecisionStatusAllow }

// PolicyEngine evaluates actions.
type PolicyEngine interface {
	Evaluate(ctx context.Context, action Action) Decision
}

// Rule defines a single policy rule. Name and Agent are glob patterns;
// empty matches anything.
type Rule struct {
	ID     string     `koanf:"id"`
	Effect string     `koanf:"effect"`
	Type   ActionType `koanf:"type"`
	Name   string     `koanf:"name"`
	Agent  string     `koanf:"agent"`
	Reason string     `koanf:"reason"`
}

// RuleSet evaluates rules in order; the first match wins.
type RuleSet struct {
	Rules           []Rule
	DefaultDecision Decision
}

// NewRuleSet creates a rule set with a default allow decision. Rules with an
// empty ID get a positional one.
func NewRuleSet(rules []Rule) *RuleSet {
	out := make([]Rule, 0, len(rules))
	for i, rule := range rules {
		if strings.TrimSpace(rule.ID) == "" {
			rule.ID = "rule-" + strconv.Itoa(i)
		}
		rule.Type = ActionType(strings.ToLower(string(rule.Type)))
		out = append(out, rule)
	}
	return &RuleSet{Rules: out, DefaultDecision: Allow()}
}

// Evaluate implements PolicyEngine.
func (r *RuleSet) Evaluate(_ context.Context, action Action) Decision {
	for _, rule := range r.Rules {
		if rule.Type != "" && rule.Type != action.Type {
			continue
		}
		if !matchPattern(rule.Name, action.Name) || !matchPattern(rule.Agent, action.Agent) {
			continue
		}
		decision := Decision{Reason: rule.Reason, RuleID: rule.ID, Status: DecisionStatusAllow}
		if strings.EqualFold(rule.Effect, "deny") {
			decision.Status = DecisionStatusDeny
		}
		return decision
	}
	return r.DefaultDecision
}

func matchPattern(pattern, value string) bool {
	if pattern == "" {
		return true
	}
	ok, err := path.Match(pattern, value)
	if err == nil && ok {
		return true
	}
	return pattern == value
}
