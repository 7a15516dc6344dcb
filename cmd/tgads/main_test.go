// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/core"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/errors"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/pipeline"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, version) {
		t.Errorf("output %q does not contain %s", out, version)
	}
}

func TestCLIArgs(t *testing.T) {
	g := &globalFlags{ConfigPath: "tgads.yaml", Sets: []string{"llm.provider=openai", "api.rate_limit=5"}}
	want := []string{"--config", "tgads.yaml", "--set", "llm.provider=openai", "--set", "api.rate_limit=5"}
	if got := g.cliArgs(); !reflect.DeepEqual(got, want) {
		t.Errorf("cliArgs() = %v, want %v", got, want)
	}
}

func TestReadBrief(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "brief.json")
	if err := os.WriteFile(path, []byte(`{"product":"Сок","audience":"дети","style":"friendly"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	f := &runFlags{File: path}
	f.Brief.Audience = "семьи"
	brief, err := readBrief(f, nil)
	if err != nil {
		t.Fatalf("readBrief: %v", err)
	}
	if brief.Product != "Сок" || brief.Audience != "семьи" || brief.Style != "friendly" {
		t.Errorf("unexpected brief %+v", brief)
	}
	if brief.Goal != "sales" || brief.ProductType != "product" {
		t.Errorf("defaults not applied: %+v", brief)
	}

	if _, err := readBrief(&runFlags{}, nil); err == nil {
		t.Error("expected an error without a product")
	}
	if _, err := readBrief(&runFlags{File: "-"}, strings.NewReader("{")); err == nil {
		t.Error("expected an error for invalid JSON")
	}
}

func TestWrapPipelineError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code errors.ErrorCode
		hint string
	}{
		{
			"timeout",
			&pipeline.StageError{Stage: "banner_designer", Err: errors.New(errors.CodeTimeout, "operation exceeded timeout", nil)},
			errors.CodeTimeout, "agents.banner_timeout",
		},
		{
			"missing keys",
			&pipeline.StageError{Stage: "prompt_architect", Err: errors.MissingKeys("prompt_architect", []string{"goal"})},
			errors.CodeAgent, "brief",
		},
		{"plain", errors.New(errors.CodeStorage, "disk", nil), errors.CodeStorage, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WrapPipelineError(tt.err)
			if got.Err.Code != tt.code {
				t.Errorf("code = %s, want %s", got.Err.Code, tt.code)
			}
			if !strings.Contains(got.Hint, tt.hint) {
				t.Errorf("hint %q does not mention %q", got.Hint, tt.hint)
			}
		})
	}
}

func TestRunOffline(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "run",
		"--offline",
		"--product", "Апельсиновый сок",
		"--audience", "семьи с детьми",
		"--set", "storage.images.dir="+filepath.Join(dir, "banners"),
		"--set", "storage.enabled=true",
		"--set", "storage.text.dsn="+filepath.Join(dir, "tgads.db"),
		"--set", "agents.retry_delay=1ms",
	)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}

	var res runResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if !res.Success {
		t.Fatalf("run failed: %s", res.Error)
	}
	if res.Result[core.KeyQAStatus] != "APPROVED" {
		t.Errorf("qa_status = %v", res.Result[core.KeyQAStatus])
	}
	if _, ok := res.Metadata[pipeline.MetaTextRecordID]; !ok {
		t.Errorf("text was not stored: %v", res.Metadata)
	}
	entries, err := os.ReadDir(filepath.Join(dir, "banners"))
	if err != nil || len(entries) != 1 {
		t.Errorf("expected one banner, got %v (%v)", entries, err)
	}
}

func TestCheckCommand(t *testing.T) {
	out, err := execute(t, "check", "--text", "Свежий сок каждый день")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !strings.Contains(out, `"is_approved": true`) {
		t.Errorf("unexpected output %s", out)
	}

	out, err = execute(t, "check", "--text", "Лучшее вино, скидки по ссылке bit.ly/x")
	if err == nil {
		t.Fatal("expected rejection")
	}
	if !strings.Contains(out, "prohibited_category") || !strings.Contains(out, "link") {
		t.Errorf("unexpected output %s", out)
	}
}

func TestConfigError(t *testing.T) {
	_, err := execute(t, "run", "--product", "сок", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected a config error")
	}
	if !strings.Contains(err.Error(), "Hint") {
		t.Errorf("error %q carries no hint", err)
	}
}
