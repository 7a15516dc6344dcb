// SPDX-License-Identifier: Apache-2.0

package diffusion

import (
	"bytes"
	"context"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"strings"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/errors"
)

// Placeholder renders a flat PNG whose colour derives from the prompt. It
// stands in for a Stable Diffusion server in tests and offline runs.
type Placeholder struct {
	Width  int
	Height int
}

// Generate implements Generator.
func (p Placeholder) Generate(ctx context.Context, req Request) (*Image, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.New(errors.CodeInvalidInput, "image prompt is required", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w, h := firstPositive(req.Width, p.Width, 64), firstPositive(req.Height, p.Height, 36)

	hash := fnv.New32a()
	_, _ = hash.Write([]byte(req.Prompt))
	sum := hash.Sum32()
	fill := color.RGBA{R: uint8(sum), G: uint8(sum >> 8), B: uint8(sum >> 16), A: 255}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, fill)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return &Image{Data: buf.Bytes(), Seed: int64(sum), Prompt: req.Prompt}, nil
}
