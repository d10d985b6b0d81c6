// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package thumbnail fetches remote cover images and stores them as square
// JPEG thumbnails.
package thumbnail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // register decoder
	"image/jpeg"
	_ "image/png" // register decoder
	"io"
	"net/http"
	"net/url"
	"time"

	xglog "github.com/ManuGH/samplr/internal/log"
	"github.com/ManuGH/samplr/internal/metrics"
	"github.com/ManuGH/samplr/internal/storage"
	_ "golang.org/x/image/bmp" // register decoder
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register decoder
)

// Defaults.
const (
	DefaultSize     = 300
	DefaultMaxBytes = 5 << 20
	DefaultTimeout  = 15 * time.Second
	jpegQuality     = 85
)

var (
	// ErrTooLarge is returned when the remote image exceeds the byte limit.
	ErrTooLarge = errors.New("thumbnail: image too large")
	// ErrUnsupportedURL is returned for non-http(s) URLs.
	ErrUnsupportedURL = errors.New("thumbnail: unsupported url")
)

// ArtifactPath is the deterministic logical location of a sample's thumbnail.
func ArtifactPath(sampleID string) string {
	return storage.Join("images", sampleID+"_thumbnail.jpg")
}

// Config tunes the fetcher.
type Config struct {
	Size     int
	MaxBytes int64
	Timeout  time.Duration
}

// Fetcher downloads and resizes thumbnails.
type Fetcher struct {
	client   http.Client
	store    *storage.Local
	size     int
	maxBytes int64
}

// New creates a Fetcher. Zero config fields take the defaults.
func New(store *storage.Local, cfg Config) *Fetcher {
	if cfg.Size <= 0 {
		cfg.Size = DefaultSize
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Fetcher{
		client:   http.Client{Timeout: cfg.Timeout},
		store:    store,
		size:     cfg.Size,
		maxBytes: cfg.MaxBytes,
	}
}

// Fetch downloads rawURL, fits it into a size×size square and commits the
// JPEG to ArtifactPath(sampleID). It returns the logical path.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, sampleID string) (string, error) {
	path, err := f.fetch(ctx, rawURL, sampleID)
	if err != nil {
		metrics.IncThumbnail("error")
		return "", err
	}
	metrics.IncThumbnail("stored")
	return path, nil
}

func (f *Fetcher) fetch(ctx context.Context, rawURL, sampleID string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedURL, rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("thumbnail: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("thumbnail: fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("thumbnail: fetch: status %d", resp.StatusCode)
	}
	if resp.ContentLength > f.maxBytes {
		return "", ErrTooLarge
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("thumbnail: read: %w", err)
	}
	if int64(len(raw)) > f.maxBytes {
		return "", ErrTooLarge
	}

	src, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("thumbnail: decode: %w", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Fit(src, f.size, f.size), &jpeg.Options{Quality: jpegQuality}); err != nil {
		return "", fmt.Errorf("thumbnail: encode: %w", err)
	}

	logical := ArtifactPath(sampleID)
	if _, err := f.store.Put(ctx, logical, &buf); err != nil {
		return "", err
	}
	xglog.FromContext(ctx).Debug().
		Str(xglog.FieldPath, logical).
		Str("format", format).
		Int("src_w", src.Bounds().Dx()).
		Int("src_h", src.Bounds().Dy()).
		Msg("thumbnail stored")
	return logical, nil
}

// Fit scales src to cover a w×h box and crops the overflow evenly from both
// sides, preserving the aspect ratio.
func Fit(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	b := src.Bounds()
	sw, sh := b.Dx(), b.Dy()
	if sw == 0 || sh == 0 {
		return dst
	}

	crop := b
	if sw*h > sh*w {
		cw := sh * w / h
		x0 := b.Min.X + (sw-cw)/2
		crop = image.Rect(x0, b.Min.Y, x0+cw, b.Max.Y)
	} else if sw*h < sh*w {
		ch := sw * h / w
		y0 := b.Min.Y + (sh-ch)/2
		crop = image.Rect(b.Min.X, y0, b.Max.X, y0+ch)
	}
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, crop, draw.Src, nil)
	return dst
}
