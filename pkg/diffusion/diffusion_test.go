// SPDX-License-Identifier: Apache-2.0

package diffusion

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/resilience"
)

func TestClientGenerate(t *testing.T) {
	pngBytes := []byte("\x89PNG fake")
	var got txt2imgRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sdapi/v1/txt2img" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"images": []string{base64.StdEncoding.EncodeToString(pngBytes)},
			"info":   `{"seed": 4242}`,
		})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL + "/", NegativePrompt: "blurry"})
	img, err := client.Generate(context.Background(), Request{Prompt: "orange juice bottle"})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if !bytes.Equal(img.Data, pngBytes) {
		t.Errorf("unexpected image bytes %q", img.Data)
	}
	if img.Seed != 4242 {
		t.Errorf("seed = %d, want 4242", img.Seed)
	}

	if got.Prompt != "orange juice bottle" || got.NegativePrompt != "blurry" {
		t.Errorf("unexpected prompts: %+v", got)
	}
	if got.Steps != 25 || got.Width != 1920 || got.Height != 1080 {
		t.Errorf("unexpected defaults: %+v", got)
	}
	if got.CFGScale != 7.5 || got.SamplerName != "Euler a" || got.BatchSize != 1 {
		t.Errorf("unexpected sampler settings: %+v", got)
	}
}

func TestClientGenerateWithUpscale(t *testing.T) {
	var txt2img txt2imgRequest
	var upscaled atomic.Bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sdapi/v1/txt2img":
			_ = json.NewDecoder(r.Body).Decode(&txt2img)
			_ = json.NewEncoder(w).Encode(map[string]any{"images": []string{base64.StdEncoding.EncodeToString([]byte("small"))}})
		case "/sdapi/v1/extra-single-image":
			upscaled.Store(true)
			_ = json.NewEncoder(w).Encode(map[string]any{"image": base64.StdEncoding.EncodeToString([]byte("large"))})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, UpscaleFactor: 2})
	img, err := client.Generate(context.Background(), Request{Prompt: "banner"})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if !upscaled.Load() || string(img.Data) != "large" {
		t.Fatalf("expected upscaled image, got %q", img.Data)
	}
	if txt2img.Width != 960 || txt2img.Height != 540 {
		t.Errorf("expected half-size render, got %dx%d", txt2img.Width, txt2img.Height)
	}
	if img.Seed != -1 {
		t.Errorf("seed without info = %d, want -1", img.Seed)
	}
}

func TestClientEmptyPrompt(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1"})
	if _, err := client.Generate(context.Background(), Request{Prompt: "  "}); err == nil {
		t.Fatal("expected error for empty prompt")
	}
}

func TestClientBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "cuda out of memory", http.StatusInternalServerError)
	}))
	defer srv.Close()

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "sd", FailureThreshold: 2})
	client := NewClient(Config{BaseURL: srv.URL}, WithBreaker(breaker))

	for i := 0; i < 4; i++ {
		if _, err := client.Generate(context.Background(), Request{Prompt: "banner"}); err == nil {
			t.Fatalf("call %d: expected error", i)
		}
	}
	if calls.Load() != 2 {
		t.Errorf("server calls = %d, want 2", calls.Load())
	}
	if breaker.State() != resilience.StateOpen {
		t.Errorf("breaker state = %s, want open", breaker.State())
	}
}

func TestPlaceholder(t *testing.T) {
	p := Placeholder{Width: 8, Height: 4}
	img, err := p.Generate(context.Background(), Request{Prompt: "coffee"})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	decoded, err := png.Decode(bytes.NewReader(img.Data))
	if err != nil {
		t.Fatalf("output is not a PNG: %v", err)
	}
	if b := decoded.Bounds(); b.Dx() != 8 || b.Dy() != 4 {
		t.Errorf("bounds = %v", b)
	}

	again, _ := p.Generate(context.Background(), Request{Prompt: "coffee"})
	if again.Seed != img.Seed {
		t.Error("same prompt should give the same seed")
	}
	if _, err := p.Generate(context.Background(), Request{}); err == nil {
		t.Error("expected error for empty prompt")
	}
}
