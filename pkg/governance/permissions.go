// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Permissions maps agent names to the tools they may invoke. Unlike
// ToolFilter an entry is closed: an agent registered with no tools may call
// nothing, and an unknown agent is denied once any entry exists.
type Permissions struct {
	mu     sync.RWMutex
	agents map[string]map[string]bool
	engine PolicyEngine
}

// NewPermissions creates an empty permission table. engine may be nil.
func NewPermissions(engine PolicyEngine) *Permissions {
	return &Permissions{
		agents: make(map[string]map[string]bool),
		engine: engine,
	}
}

// Set replaces the agent's permission set. The last write wins.
func (p *Permissions) Set(agent string, tools ...string) {
	set := make(map[string]bool, len(tools))
	addAll(set, tools)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.agents[agent] = set
}

// Get returns the agent's tools, sorted. Unknown agents get nil.
func (p *Permissions) Get(agent string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	set, ok := p.agents[agent]
	if !ok {
		return nil
	}
	tools := make([]string, 0, len(set))
	for tool := range set {
		tools = append(tools, tool)
	}
	sort.Strings(tools)
	return tools
}

// Len returns the number of agents with a registered set.
func (p *Permissions) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.agents)
}

// Check decides whether agent may call tool. With no registered sets or an
// empty agent name the table does not restrict; the rule set still applies.
func (p *Permissions) Check(ctx context.Context, agent, tool string) Decision {
	p.mu.RLock()
	enforced := len(p.agents) > 0 && agent != ""
	set := p.agents[agent]
	p.mu.RUnlock()

	if enforced && !matchesAny(tool, set) {
		return Deny(fmt.Sprintf("tool %q is not in the permission set of agent %q", tool, agent))
	}
	if p.engine != nil {
		return p.engine.Evaluate(ctx, Action{Type: ActionTool, Name: tool, Agent: agent})
	}
	return Allow()
}
