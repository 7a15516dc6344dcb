// SPDX-License-Identifier: Apache-2.0

// Package cache stores tool results keyed by tool name and arguments.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/core"
)

// Cache is the result cache consulted by the broker. Get reports a miss with
// false so a stored empty result is distinguishable from no entry.
type Cache interface {
	Get(ctx context.Context, key string) (core.Result, bool)
	Set(ctx context.Context, key string, value core.Result)
}

// Key derives the cache key for a call. encoding/json sorts map keys, so
// equal argument maps always produce the same key.
func Key(tool string, args core.Args) string {
	data, err := json.Marshal(args)
	if err != nil {
		// Unencodable args still get a stable, tool-scoped key.
		data = []byte(fmt.Sprintf("%v", args))
	}
	sum := sha256.Sum256(data)
	return tool + ":" + hex.EncodeToString(sum[:])
}

// Memory is an unbounded in-process cache. Entries never expire.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]core.Result
}

// NewMemory returns an empty memory cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]core.Result)}
}

// Get implements Cache.
func (m *Memory) Get(_ context.Context, key string) (core.Result, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	return clone(v), true
}

// Set implements Cache.
func (m *Memory) Set(_ context.Context, key string, value core.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = clone(value)
}

// Len returns the number of stored entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func clone(r core.Result) core.Result {
	if r == nil {
		return nil
	}
	out := make(core.Result, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
