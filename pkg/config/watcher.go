// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/security"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/templates"
)

// ReloadFunc applies a changed file. A returned error keeps the previous
// state and is logged.
type ReloadFunc func(path string) error

// Watcher polls files and calls each file's ReloadFunc when its size or
// modification time changes. Rule and template files are reloaded this way
// while the API keeps serving.
type Watcher struct {
	mu       sync.Mutex
	files    map[string]*watchedFile
	interval time.Duration
	logger   *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

type watchedFile struct {
	modTime time.Time
	size    int64
	seen    bool
	reload  ReloadFunc
}

type WatcherOption func(*Watcher)

// WithWatchInterval sets the polling interval. The default is one second.
func WithWatchInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithWatchLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func NewWatcher(opts ...WatcherOption) *Watcher {
	w := &Watcher{
		files:    make(map[string]*watchedFile),
		interval: time.Second,
		logger:   slog.Default(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch registers reload for path. The file's current state is the
// baseline; a file that does not exist yet is reloaded once it appears.
func (w *Watcher) Watch(path string, reload ReloadFunc) {
	f := &watchedFile{reload: reload}
	if info, err := os.Stat(path); err == nil {
		f.modTime, f.size, f.seen = info.ModTime(), info.Size(), true
	}
	w.mu.Lock()
	w.files[path] = f
	w.mu.Unlock()
}

// Start polls until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	w.startOnce.Do(func() { go w.loop(ctx) })
}

// Stop ends polling and waits for the loop to exit. It is safe to call
// more than once, and before Start.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.startOnce.Do(func() { close(w.doneCh) })
	<-w.doneCh
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.doneCh)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *Watcher) poll() {
	type change struct {
		path   string
		reload ReloadFunc
	}
	var changes []change

	w.mu.Lock()
	for path, f := range w.files {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if f.seen && info.ModTime().Equal(f.modTime) && info.Size() == f.size {
			continue
		}
		f.modTime, f.size, f.seen = info.ModTime(), info.Size(), true
		changes = append(changes, change{path, f.reload})
	}
	w.mu.Unlock()

	sort.Slice(changes, func(i, j int) bool { return changes[i].path < changes[j].path })
	for _, c := range changes {
		if err := c.reload(c.path); err != nil {
			w.logger.Error("reload failed, keeping previous version", "path", c.path, "error", err)
			continue
		}
		w.logger.Info("file reloaded", "path", c.path)
	}
}

// WatchRules reloads the Telegram Ads rules into checker.
func (w *Watcher) WatchRules(path string, checker *security.Checker) {
	w.Watch(path, func(p string) error {
		rules, err := security.LoadRules(p)
		if err != nil {
			return err
		}
		checker.SetRules(rules)
		w.logger.Info("rules updated", "version", rules.Version, "max_text_length", rules.MaxTextLength)
		return nil
	})
}

// TemplateSink accepts reloaded prompt templates. pipeline.Runner
// implements it.
type TemplateSink interface {
	SetTemplates(*templates.Set)
}

// WatchTemplates reloads the prompt templates into sink.
func (w *Watcher) WatchTemplates(path string, sink TemplateSink) {
	w.Watch(path, func(p string) error {
		set, err := templates.Load(p)
		if err != nil {
			return err
		}
		sink.SetTemplates(set)
		w.logger.Info("templates updated", "version", set.Version())
		return nil
	})
}
