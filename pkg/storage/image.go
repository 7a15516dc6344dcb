// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ImageConfig mirrors the storage.images configuration section.
type ImageConfig struct {
	Dir     string `koanf:"dir"`
	BaseURL string `koanf:"base_url"`
}

// ImageStore writes banner PNGs to a directory and hands out public URLs.
type ImageStore struct {
	dir     string
	baseURL string
	now     func() time.Time
}

// NewImageStore creates the directory if needed. BaseURL defaults to
// "/api/banners".
func NewImageStore(cfg ImageConfig) (*ImageStore, error) {
	if cfg.Dir == "" {
		cfg.Dir = "banners"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "/api/banners"
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}
	return &ImageStore{dir: cfg.Dir, baseURL: strings.TrimRight(cfg.BaseURL, "/"), now: time.Now}, nil
}

// SaveImage writes data and returns the public URL of the file.
func (s *ImageStore) SaveImage(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", fmt.Errorf("image is empty")
	}
	name := fmt.Sprintf("banner_%s_%s.png", s.now().UTC().Format("20060102_150405"), uuid.NewString()[:8])
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	return s.baseURL + "/" + name, nil
}

// Path resolves a file name from a banner URL to its location on disk.
// Names containing path separators are rejected.
func (s *ImageStore) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid image name %q", name)
	}
	return filepath.Join(s.dir, name), nil
}

// Dir returns the storage directory.
func (s *ImageStore) Dir() string { return s.dir }
