// SPDX-License-Identifier: Apache-2.0

// Package templates renders the text and image prompts written by the
// prompt architect from a brief.
package templates

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/core"
)

//go:embed default.yaml
var defaultTemplates []byte

// File is the on-disk template definition.
type File struct {
	Version        string `yaml:"version"`
	PromptLanguage string `yaml:"prompt_language"`
	TextPrompt     string `yaml:"text_prompt"`
	ImagePrompt    string `yaml:"image_prompt"`
	NegativePrompt string `yaml:"negative_prompt"`
}

// Set is a compiled template file.
type Set struct {
	version        string
	promptLanguage string
	text           *template.Template
	image          *template.Template
	negative       *template.Template
}

// Data is what the templates can reference.
type Data struct {
	core.Brief
	MaxLength int
}

// Prompts are the rendered outputs.
type Prompts struct {
	Text     string
	Image    string
	Negative string
	Meta     map[string]any
}

// Default returns the embedded templates.
func Default() *Set {
	s, err := Parse(defaultTemplates)
	if err != nil {
		panic(fmt.Sprintf("templates: embedded defaults: %v", err))
	}
	return s
}

// Load reads a template file. An empty path returns the defaults.
func Load(path string) (*Set, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	return Parse(data)
}

// Parse compiles a template file. Prompts the file leaves empty fall back
// to the embedded defaults.
func Parse(data []byte) (*Set, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	if f.TextPrompt == "" || f.ImagePrompt == "" || f.NegativePrompt == "" || f.Version == "" {
		var def File
		if err := yaml.Unmarshal(defaultTemplates, &def); err != nil {
			return nil, fmt.Errorf("parse default templates: %w", err)
		}
		f = merge(f, def)
	}

	s := &Set{version: f.Version, promptLanguage: f.PromptLanguage}
	var err error
	if s.text, err = compile("text_prompt", f.TextPrompt); err != nil {
		return nil, err
	}
	if s.image, err = compile("image_prompt", f.ImagePrompt); err != nil {
		return nil, err
	}
	if s.negative, err = compile("negative_prompt", f.NegativePrompt); err != nil {
		return nil, err
	}
	return s, nil
}

func merge(f, def File) File {
	if f.Version == "" {
		f.Version = def.Version
	}
	if f.PromptLanguage == "" {
		f.PromptLanguage = def.PromptLanguage
	}
	if f.TextPrompt == "" {
		f.TextPrompt = def.TextPrompt
	}
	if f.ImagePrompt == "" {
		f.ImagePrompt = def.ImagePrompt
	}
	if f.NegativePrompt == "" {
		f.NegativePrompt = def.NegativePrompt
	}
	return f
}

func compile(name, text string) (*template.Template, error) {
	t, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	return t, nil
}

// Version returns the template version recorded in prompt metadata.
func (s *Set) Version() string { return s.version }

// Render fills the templates from brief. Empty brief fields take their
// defaults first.
func (s *Set) Render(brief core.Brief, maxLength int) (Prompts, error) {
	brief = brief.WithDefaults()
	data := Data{Brief: brief, MaxLength: maxLength}

	text, err := execute(s.text, data)
	if err != nil {
		return Prompts{}, err
	}
	image, err := execute(s.image, data)
	if err != nil {
		return Prompts{}, err
	}
	negative, err := execute(s.negative, data)
	if err != nil {
		return Prompts{}, err
	}
	return Prompts{
		Text:     text,
		Image:    image,
		Negative: negative,
		Meta: map[string]any{
			"product":         brief.Product,
			"prompt_language": s.promptLanguage,
			"prompt_version":  s.version,
		},
	}, nil
}

func execute(t *template.Template, data Data) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return strings.TrimSpace(buf.String()), nil
}
