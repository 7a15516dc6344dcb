// SPDX-License-Identifier: Apache-2.0

// Package diffusion generates banner images through an AUTOMATIC1111
// Stable Diffusion server.
package diffusion

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/errors"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/resilience"
)

// Config mirrors the stable_diffusion configuration section.
type Config struct {
	BaseURL        string        `koanf:"base_url"`
	Steps          int           `koanf:"steps"`
	Width          int           `koanf:"width"`
	Height         int           `koanf:"height"`
	CFGScale       float64       `koanf:"cfg_scale"`
	Sampler        string        `koanf:"sampler"`
	NegativePrompt string        `koanf:"negative_prompt"`
	Upscaler       string        `koanf:"upscaler"`
	UpscaleFactor  float64       `koanf:"upscale_factor"`
	Timeout        time.Duration `koanf:"timeout"`
}

// DefaultConfig returns the settings used when the file leaves them out.
func DefaultConfig() Config {
	return Config{
		BaseURL:  "http://localhost:7860",
		Steps:    25,
		Width:    1920,
		Height:   1080,
		CFGScale: 7.5,
		Sampler:  "Euler a",
		Upscaler: "ESRGAN_4x",
		Timeout:  300 * time.Second,
	}
}

// Request describes one banner to render. Zero fields take the configured
// defaults.
type Request struct {
	Prompt         string
	NegativePrompt string
	Steps          int
	Width          int
	Height         int
}

// Image is a rendered PNG.
type Image struct {
	Data   []byte
	Seed   int64
	Prompt string
}

// Generator renders images.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Image, error)
}

// Client talks to the AUTOMATIC1111 web API. Calls go through a circuit
// breaker so a dead server fails fast.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithBreaker replaces the circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(cl *Client) { cl.breaker = cb }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

// NewClient creates a client. Zero config fields take DefaultConfig values.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg = cfg.withDefaults()
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "stable_diffusion",
			FailureThreshold: 3,
			Timeout:          30 * time.Second,
			OnStateChange: func(name string, from, to resilience.CircuitBreakerState) {
				c.logger.Warn("circuit breaker state changed", "breaker", name, "from", string(from), "to", string(to))
			},
		})
	}
	return c
}

func (cfg Config) withDefaults() Config {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Steps <= 0 {
		cfg.Steps = def.Steps
	}
	if cfg.Width <= 0 {
		cfg.Width = def.Width
	}
	if cfg.Height <= 0 {
		cfg.Height = def.Height
	}
	if cfg.CFGScale <= 0 {
		cfg.CFGScale = def.CFGScale
	}
	if cfg.Sampler == "" {
		cfg.Sampler = def.Sampler
	}
	if cfg.Upscaler == "" {
		cfg.Upscaler = def.Upscaler
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return cfg
}

type txt2imgRequest struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt"`
	Steps          int     `json:"steps"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	CFGScale       float64 `json:"cfg_scale"`
	SamplerName    string  `json:"sampler_name"`
	BatchSize      int     `json:"batch_size"`
}

type txt2imgResponse struct {
	Images []string `json:"images"`
	Info   string   `json:"info"`
}

type upscaleRequest struct {
	Image           string  `json:"image"`
	UpscalingResize float64 `json:"upscaling_resize"`
	Upscaler1       string  `json:"upscaler_1"`
}

type upscaleResponse struct {
	Image string `json:"image"`
}

// Generate implements Generator. With UpscaleFactor set the image is
// rendered at Width/UpscaleFactor and upscaled afterwards.
func (c *Client) Generate(ctx context.Context, req Request) (*Image, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.New(errors.CodeInvalidInput, "image prompt is required", nil)
	}
	body := txt2imgRequest{
		Prompt:         req.Prompt,
		NegativePrompt: firstNonEmpty(req.NegativePrompt, c.cfg.NegativePrompt),
		Steps:          firstPositive(req.Steps, c.cfg.Steps),
		Width:          firstPositive(req.Width, c.cfg.Width),
		Height:         firstPositive(req.Height, c.cfg.Height),
		CFGScale:       c.cfg.CFGScale,
		SamplerName:    c.cfg.Sampler,
		BatchSize:      1,
	}
	upscale := c.cfg.UpscaleFactor > 1
	if upscale {
		body.Width = int(float64(body.Width) / c.cfg.UpscaleFactor)
		body.Height = int(float64(body.Height) / c.cfg.UpscaleFactor)
	}

	var out txt2imgResponse
	if err := c.post(ctx, "/sdapi/v1/txt2img", body, &out); err != nil {
		return nil, err
	}
	if len(out.Images) == 0 {
		return nil, errors.New(errors.CodeInternal, "stable diffusion returned no images", nil)
	}
	encoded := out.Images[0]

	if upscale {
		var up upscaleResponse
		err := c.post(ctx, "/sdapi/v1/extra-single-image", upscaleRequest{
			Image:           encoded,
			UpscalingResize: c.cfg.UpscaleFactor,
			Upscaler1:       c.cfg.Upscaler,
		}, &up)
		if err != nil {
			return nil, err
		}
		encoded = up.Image
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return &Image{Data: data, Seed: seedFromInfo(out.Info), Prompt: req.Prompt}, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}
	return c.breaker.Call(ctx, func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return fmt.Errorf("stable diffusion call failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("stable diffusion returned status %d: %s", resp.StatusCode, string(respBody))
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
		return nil
	})
}

// Ping checks that the server answers its options endpoint.
func (c *Client) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/sdapi/v1/options", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stable diffusion returned status %d", resp.StatusCode)
	}
	return nil
}

// Breaker exposes the client's circuit breaker for health reporting.
func (c *Client) Breaker() *resilience.CircuitBreaker { return c.breaker }

func seedFromInfo(info string) int64 {
	var parsed struct {
		Seed int64 `json:"seed"`
	}
	if info == "" || json.Unmarshal([]byte(info), &parsed) != nil {
		return -1
	}
	return parsed.Seed
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
