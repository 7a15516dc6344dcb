// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"log/slog"
	"strings"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/core"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/diffusion"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/errors"
)

// ImageSaver stores rendered banners and returns their public URL.
type ImageSaver interface {
	SaveImage(ctx context.Context, data []byte) (string, error)
}

// ImageTool implements image.generate.
type ImageTool struct {
	generator diffusion.Generator
	store     ImageSaver
	logger    *slog.Logger
}

// NewImageTool creates image.generate. logger may be nil.
func NewImageTool(generator diffusion.Generator, store ImageSaver, logger *slog.Logger) *ImageTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageTool{generator: generator, store: store, logger: logger}
}

// Name implements core.Tool.
func (t *ImageTool) Name() string { return ImageGenerate }

// Execute takes prompt, negative_prompt and steps and returns
// {image_url, prompt, success, seed}.
func (t *ImageTool) Execute(ctx context.Context, args core.Args) (core.Result, error) {
	prompt := strings.TrimSpace(args.String("prompt"))
	if prompt == "" {
		return nil, errors.New(errors.CodeInvalidInput, "prompt is required for image generation", nil).
			WithContext("tool", ImageGenerate)
	}

	img, err := t.generator.Generate(ctx, diffusion.Request{
		Prompt:         prompt,
		NegativePrompt: args.String("negative_prompt"),
		Steps:          args.Int("steps", 0),
	})
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "image generation failed", err).
			WithContext("tool", ImageGenerate).
			WithRecoverable(true)
	}

	url, err := t.store.SaveImage(ctx, img.Data)
	if err != nil {
		return nil, errors.New(errors.CodeStorage, "failed to store banner", err).
			WithContext("tool", ImageGenerate)
	}
	t.logger.InfoContext(ctx, "banner generated", "url", url, "seed", img.Seed, "bytes", len(img.Data))
	return core.Result{"image_url": url, "prompt": prompt, "success": true, "seed": img.Seed}, nil
}
