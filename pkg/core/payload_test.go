// SPDX-License-Identifier: Apache-2.0
package core

import (
	"reflect"
	"testing"
)

func TestPayloadKeepsInsertionOrder(t *testing.T) {
	p := NewPayload()
	p.Set(KeyTextPrompt, "a")
	p.Set(KeyFinalText, "b")
	p.Set(KeyTextPrompt, "c")

	want := []string{KeyTextPrompt, KeyFinalText}
	if got := p.Keys(); !reflect.DeepEqual(got, want) {
		t.Errorf("Keys() = %v, want %v", got, want)
	}
	if p.String(KeyTextPrompt) != "c" {
		t.Errorf("overwrite lost: %q", p.String(KeyTextPrompt))
	}
}

func TestPayloadDistinguishesAbsentFromEmpty(t *testing.T) {
	p := NewPayload()
	p.Set(KeyFinalText, "")

	if !p.Has(KeyFinalText) {
		t.Errorf("empty value must count as present")
	}
	if p.Has(KeyBannerURL) {
		t.Errorf("unset key must be absent")
	}
	if got := p.Missing(KeyFinalText, KeyBannerURL); !reflect.DeepEqual(got, []string{KeyBannerURL}) {
		t.Errorf("Missing() = %v", got)
	}
}

func TestPayloadWarningsAndStrings(t *testing.T) {
	p := NewPayload()
	p.AddWarning("text_length: 200 > 160")
	p.AddWarning("banner: empty url")

	if got := p.Strings(KeyWarnings); len(got) != 2 {
		t.Errorf("expected 2 warnings, got %v", got)
	}

	p.Set(KeyQAReport, []any{"text_length", 3})
	if got := p.Strings(KeyQAReport); !reflect.DeepEqual(got, []string{"text_length"}) {
		t.Errorf("Strings() from []any = %v", got)
	}
}

func TestPayloadCloneAndMerge(t *testing.T) {
	p := NewPayload()
	p.Set(KeyProduct, "Сок")
	p.AddWarning("first")
	p.SetMeta("request_id", "r-1")

	c := p.Clone()
	c.Set(KeyFinalText, "Свежий сок")
	c.AddWarning("second")
	c.SetMeta("duration", 1.5)

	if p.Has(KeyFinalText) || len(p.Strings(KeyWarnings)) != 1 {
		t.Fatalf("clone writes leaked into the original: %v", p.ToMap())
	}
	if _, ok := p.Meta("duration"); ok {
		t.Fatal("clone metadata leaked into the original")
	}

	p.Merge(c)
	want := []string{KeyProduct, KeyWarnings, KeyFinalText}
	if got := p.Keys(); !reflect.DeepEqual(got, want) {
		t.Errorf("Keys() after Merge = %v, want %v", got, want)
	}
	if got := p.Strings(KeyWarnings); !reflect.DeepEqual(got, []string{"first", "second"}) {
		t.Errorf("warnings after Merge = %v", got)
	}
	if v, _ := p.Meta("duration"); v != 1.5 {
		t.Errorf("Meta(duration) = %v", v)
	}
	p.Merge(nil)
	p.Merge(p)
}

func TestPayloadMetadataIsSeparate(t *testing.T) {
	p := NewPayload()
	p.SetMeta("request_id", "r-1")

	if p.Has("request_id") {
		t.Errorf("metadata leaked into stage keys")
	}
	if v, ok := p.Meta("request_id"); !ok || v != "r-1" {
		t.Errorf("Meta() = %v, %v", v, ok)
	}
	m := p.Metadata()
	m["request_id"] = "mutated"
	if v, _ := p.Meta("request_id"); v != "r-1" {
		t.Errorf("Metadata() must return a copy")
	}
}

func TestBriefPayloadLeavesEmptyFieldsAbsent(t *testing.T) {
	b := Brief{Product: "Orange juice 'Sunny'", ProductType: "Beverages", Goal: "sales"}
	p := b.Payload()

	if p.Has(KeyAudience) {
		t.Errorf("empty audience must stay absent")
	}
	if got := p.Missing(KeyProduct, KeyProductType, KeyAudience, KeyGoal); !reflect.DeepEqual(got, []string{KeyAudience}) {
		t.Errorf("Missing() = %v", got)
	}
}

func TestBriefWithDefaults(t *testing.T) {
	b := Brief{Product: "Sunny"}.WithDefaults()
	want := Brief{
		Product:     "Sunny",
		ProductType: "product",
		Audience:    "general audience",
		Goal:        "sales",
		Language:    "ru",
		Style:       "professional",
	}
	if b != want {
		t.Errorf("WithDefaults() = %+v", b)
	}
}

func TestBriefFromMap(t *testing.T) {
	b := BriefFromMap(map[string]any{"product": "Sunny", "audience": "Mothers", "goal": 5})
	if b.Product != "Sunny" || b.Audience != "Mothers" || b.Goal != "" {
		t.Errorf("BriefFromMap() = %+v", b)
	}
}

func TestPayloadFromMapSortsKeys(t *testing.T) {
	p := PayloadFromMap(map[string]any{"goal": "g", "audience": "a", "product": "p"})
	want := []string{"audience", "goal", "product"}
	if got := p.Keys(); !reflect.DeepEqual(got, want) {
		t.Errorf("Keys() = %v, want %v", got, want)
	}
}
