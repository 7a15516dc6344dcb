package templates

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/core"
)

func TestDefaultRender(t *testing.T) {
	brief := core.Brief{
		Product:     "Orange juice 'Sunny'",
		ProductType: "Beverages",
		Audience:    "Mothers of children 3-7",
		Goal:        "Telegram channel sales",
	}
	p, err := Default().Render(brief, 160)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for _, want := range []string{"Orange juice 'Sunny'", "Mothers of children 3-7", "160"} {
		if !strings.Contains(p.Text, want) {
			t.Errorf("text prompt missing %q:\n%s", want, p.Text)
		}
	}
	if !strings.Contains(p.Image, "Orange juice 'Sunny'") || strings.Contains(p.Image, "\n") {
		t.Errorf("unexpected image prompt %q", p.Image)
	}
	if p.Negative == "" {
		t.Error("negative prompt empty")
	}
	if p.Meta["product"] != brief.Product || p.Meta["prompt_version"] == "" {
		t.Errorf("unexpected meta %v", p.Meta)
	}
}

func TestRenderAppliesBriefDefaults(t *testing.T) {
	p, err := Default().Render(core.Brief{Product: "Tea"}, 160)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(p.Text, "general audience") {
		t.Errorf("default audience not applied:\n%s", p.Text)
	}
}

func TestLoadPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	if err := os.WriteFile(path, []byte("version: custom\nimage_prompt: \"photo of {{.Product}}\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	p, err := s.Render(core.Brief{Product: "Tea"}, 160)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if p.Image != "photo of Tea" {
		t.Errorf("image prompt = %q", p.Image)
	}
	if s.Version() != "custom" || p.Text == "" {
		t.Errorf("defaults not merged: version %q text %q", s.Version(), p.Text)
	}
}

func TestParseErrors(t *testing.T) {
	if _, err := Parse([]byte("text_prompt: \"{{.Product\"")); err == nil {
		t.Fatal("expected template compile error")
	}
	s, err := Parse([]byte("text_prompt: \"{{.Unknown}}\""))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := s.Render(core.Brief{Product: "x"}, 10); err == nil {
		t.Fatal("expected render error for unknown field")
	}
}
