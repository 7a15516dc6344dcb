// SPDX-License-Identifier: Apache-2.0

package security

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Category is a named group of prohibited keywords.
type Category struct {
	Name     string   `yaml:"name" json:"name"`
	Keywords []string `yaml:"keywords" json:"keywords"`
}

// ImageWord is a word that must not appear in an image prompt.
type ImageWord struct {
	Word        string `yaml:"word" json:"word"`
	Description string `yaml:"description" json:"description"`
}

// Rules is the platform rule set. JSON rule files parse as well since
// JSON is valid YAML.
type Rules struct {
	Version           string      `yaml:"version" json:"version"`
	MaxTextLength     int         `yaml:"max_text_length" json:"max_text_length"`
	Profanity         []string    `yaml:"profanity" json:"profanity"`
	LinkShorteners    []string    `yaml:"link_shorteners" json:"link_shorteners"`
	Categories        []Category  `yaml:"prohibited_categories" json:"prohibited_categories"`
	ImageWords        []ImageWord `yaml:"image_dangerous_words" json:"image_dangerous_words"`
	InjectionPatterns []string    `yaml:"injection_patterns" json:"injection_patterns"`
}

// DefaultRules returns the built-in Telegram Ads rules.
func DefaultRules() Rules {
	return Rules{
		Version:        "tg_ads_2026",
		MaxTextLength:  160,
		Profanity:      []string{"сука", "пидор", "гомик", "блядь", "хуй", "пизда", "ебать"},
		LinkShorteners: []string{"bit.ly", "tinyurl"},
		Categories: []Category{
			{Name: "алкоголь", Keywords: []string{"алкоголь", "вино", "водка", "пиво", "спирт"}},
			{Name: "наркотики", Keywords: []string{"наркотик", "марихуана", "героин", "кокаин"}},
			{Name: "оружие", Keywords: []string{"оружие", "пистолет", "автомат", "нож", "пуля"}},
		},
		ImageWords: []ImageWord{
			{Word: "nude", Description: "обнаженное тело"},
			{Word: "naked", Description: "обнаженный"},
			{Word: "blood", Description: "кровь"},
			{Word: "gore", Description: "кровавые сцены"},
			{Word: "violence", Description: "насилие"},
			{Word: "weapon", Description: "оружие"},
		},
	}
}

// ParseRules decodes a rule file. Sections the file leaves out keep their
// defaults.
func ParseRules(data []byte) (Rules, error) {
	var parsed Rules
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return Rules{}, fmt.Errorf("parse rules: %w", err)
	}
	return parsed.withDefaults(), nil
}

// LoadRules reads and parses the rule file at path.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read rules: %w", err)
	}
	return ParseRules(data)
}

func (r Rules) withDefaults() Rules {
	def := DefaultRules()
	if r.Version == "" {
		r.Version = def.Version
	}
	if r.MaxTextLength <= 0 {
		r.MaxTextLength = def.MaxTextLength
	}
	if r.Profanity == nil {
		r.Profanity = def.Profanity
	}
	if r.LinkShorteners == nil {
		r.LinkShorteners = def.LinkShorteners
	}
	if r.Categories == nil {
		r.Categories = def.Categories
	}
	if r.ImageWords == nil {
		r.ImageWords = def.ImageWords
	}
	return r
}
