// SPDX-License-Identifier: Apache-2.0
package core

import (
	"sort"
	"strings"
	"sync"
)

// Keys written and read by the pipeline stages.
const (
	KeyProduct     = "product"
	KeyProductType = "product_type"
	KeyAudience    = "audience"
	KeyGoal        = "goal"
	KeyLanguage    = "language"
	KeyStyle       = "style"

	KeyTextPrompt     = "target_text_prompt"
	KeyImagePrompt    = "target_image_prompt"
	KeyNegativePrompt = "negative_prompt"
	KeyMeta           = "meta"

	KeyFinalText = "final_advertising_text"
	KeyTextModel = "text_model"

	KeyBannerURL   = "banner_url"
	KeyBannerError = "banner_error"

	KeyQAStatus = "qa_status"
	KeyQAReport = "qa_report"

	KeyWarnings = "warnings"
)

// QA verdicts.
const (
	QAApproved = "APPROVED"
	QARejected = "REJECTED"
)

// Payload is the record threaded through the pipeline stages. Keys keep
// their first insertion order so callers can see which stage produced what.
// Metadata is a separate bag for values that are not stage outputs.
type Payload struct {
	mu     sync.RWMutex
	order  []string
	values map[string]any
	meta   map[string]any
}

// NewPayload returns an empty payload.
func NewPayload() *Payload {
	return &Payload{
		values: make(map[string]any),
		meta:   make(map[string]any),
	}
}

// PayloadFromMap builds a payload from m. Keys are inserted in sorted order.
func PayloadFromMap(m map[string]any) *Payload {
	p := NewPayload()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		p.Set(k, m[k])
	}
	return p
}

// Set stores v under key. Overwriting keeps the original position.
func (p *Payload) Set(key string, v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.values[key]; !ok {
		p.order = append(p.order, key)
	}
	p.values[key] = v
}

// Get returns the value under key and whether it is present.
func (p *Payload) Get(key string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[key]
	return v, ok
}

// Has reports whether key is present, even with an empty value.
func (p *Payload) Has(key string) bool {
	_, ok := p.Get(key)
	return ok
}

// String returns the string under key, or "".
func (p *Payload) String(key string) string {
	v, _ := p.Get(key)
	s, _ := v.(string)
	return s
}

// Strings returns the string list under key.
func (p *Payload) Strings(key string) []string {
	v, _ := p.Get(key)
	return toStrings(v)
}

// Map returns the nested map under key, or nil.
func (p *Payload) Map(key string) map[string]any {
	v, _ := p.Get(key)
	m, _ := v.(map[string]any)
	return m
}

// Missing returns the keys from required that are absent.
func (p *Payload) Missing(required ...string) []string {
	var missing []string
	for _, k := range required {
		if !p.Has(k) {
			missing = append(missing, k)
		}
	}
	return missing
}

// Keys returns the keys in insertion order.
func (p *Payload) Keys() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.order...)
}

// AddWarning appends a non-fatal finding to the warnings list.
func (p *Payload) AddWarning(msg string) {
	p.Set(KeyWarnings, append(p.Strings(KeyWarnings), msg))
}

// SetMeta stores a metadata value outside the stage keys.
func (p *Payload) SetMeta(key string, v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.meta[key] = v
}

// Meta returns a metadata value.
func (p *Payload) Meta(key string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.meta[key]
	return v, ok
}

// Metadata returns a copy of the metadata bag.
func (p *Payload) Metadata() map[string]any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]any, len(p.meta))
	for k, v := range p.meta {
		out[k] = v
	}
	return out
}

// ToMap returns a shallow copy of the stage values.
func (p *Payload) ToMap() map[string]any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]any, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

// Clone returns an independent copy. String lists and nested maps are
// copied one level deep.
func (p *Payload) Clone() *Payload {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c := &Payload{
		order:  append([]string(nil), p.order...),
		values: make(map[string]any, len(p.values)),
		meta:   make(map[string]any, len(p.meta)),
	}
	for k, v := range p.values {
		c.values[k] = copyValue(v)
	}
	for k, v := range p.meta {
		c.meta[k] = copyValue(v)
	}
	return c
}

// Merge writes every value and metadata entry of src into p. Keys new to p
// are appended in src's order.
func (p *Payload) Merge(src *Payload) {
	if src == nil || src == p {
		return
	}
	src.mu.RLock()
	order := append([]string(nil), src.order...)
	values := make(map[string]any, len(src.values))
	for k, v := range src.values {
		values[k] = v
	}
	meta := make(map[string]any, len(src.meta))
	for k, v := range src.meta {
		meta[k] = v
	}
	src.mu.RUnlock()

	for _, k := range order {
		p.Set(k, values[k])
	}
	for k, v := range meta {
		p.SetMeta(k, v)
	}
}

func copyValue(v any) any {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, x := range t {
			m[k] = x
		}
		return m
	default:
		return v
	}
}

// Brief is the typed input of the first stage.
type Brief struct {
	Product     string `json:"product"`
	ProductType string `json:"product_type"`
	Audience    string `json:"audience"`
	Goal        string `json:"goal"`
	Language    string `json:"language"`
	Style       string `json:"style"`
}

// WithDefaults fills the optional fields the public API defaults.
func (b Brief) WithDefaults() Brief {
	if b.ProductType == "" {
		b.ProductType = "product"
	}
	if b.Audience == "" {
		b.Audience = "general audience"
	}
	if b.Goal == "" {
		b.Goal = "sales"
	}
	if b.Language == "" {
		b.Language = "ru"
	}
	if b.Style == "" {
		b.Style = "professional"
	}
	return b
}

// Payload seeds a payload with the non-empty brief fields. Empty fields are
// left absent so the first stage can report them.
func (b Brief) Payload() *Payload {
	p := NewPayload()
	for _, kv := range [][2]string{
		{KeyProduct, b.Product},
		{KeyProductType, b.ProductType},
		{KeyAudience, b.Audience},
		{KeyGoal, b.Goal},
		{KeyLanguage, b.Language},
		{KeyStyle, b.Style},
	} {
		if strings.TrimSpace(kv[1]) != "" {
			p.Set(kv[0], kv[1])
		}
	}
	return p
}

// BriefFromMap reads the brief fields of m.
func BriefFromMap(m map[string]any) Brief {
	get := func(k string) string {
		s, _ := m[k].(string)
		return s
	}
	return Brief{
		Product:     get(KeyProduct),
		ProductType: get(KeyProductType),
		Audience:    get(KeyAudience),
		Goal:        get(KeyGoal),
		Language:    get(KeyLanguage),
		Style:       get(KeyStyle),
	}
}
