// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package transcode converts source audio into the canonical distribution
// format with ffmpeg.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/ManuGH/samplr/internal/exttool"
	xglog "github.com/ManuGH/samplr/internal/log"
	"github.com/ManuGH/samplr/internal/storage"
	"github.com/ManuGH/samplr/internal/telemetry"
)

// Binary is the logical tool name of the encoder.
const Binary = "ffmpeg"

// ErrEmptyOutput is returned when the encoder succeeded but wrote nothing.
var ErrEmptyOutput = errors.New("transcode: encoder produced no output")

// Profile is an output encoding.
type Profile struct {
	Codec      string
	Bitrate    string
	SampleRate int
	Format     string
	Ext        string
}

// Canonical is the profile every published sample shares. The channel
// count of the source is preserved.
var Canonical = Profile{
	Codec:      "libmp3lame",
	Bitrate:    "192k",
	SampleRate: 44100,
	Format:     "mp3",
	Ext:        "mp3",
}

// ArtifactPath is the deterministic logical location of a sample's audio.
func ArtifactPath(sampleID string) string {
	return storage.Join("audio", sampleID+"."+Canonical.Ext)
}

// Args builds the ffmpeg argv. The encoded stream is written to stdout.
func Args(input string, p Profile) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", "error",
		"-i", input,
		"-map", "0:a:0",
		"-vn",
		"-map_metadata", "-1",
		"-c:a", p.Codec,
		"-b:a", p.Bitrate,
		"-ar", strconv.Itoa(p.SampleRate),
		"-f", p.Format,
		"pipe:1",
	}
}

// Transcoder writes canonical audio artifacts into a storage root.
type Transcoder struct {
	runner  exttool.Runner
	store   *storage.Local
	timeout time.Duration
}

// New creates a Transcoder. A zero timeout uses the runner default.
func New(runner exttool.Runner, store *storage.Local, timeout time.Duration) *Transcoder {
	return &Transcoder{runner: runner, store: store, timeout: timeout}
}

// Transcode encodes the file at the absolute path input and commits it to
// ArtifactPath(sampleID). It returns the logical artifact path. The previous
// artifact, if any, stays in place until the new one is complete.
func (t *Transcoder) Transcode(ctx context.Context, input, sampleID string) (string, error) {
	ctx, span := telemetry.Tracer("samplr/transcode").Start(ctx, "transcode")
	defer span.End()

	logical := ArtifactPath(sampleID)
	out, err := t.store.Create(logical)
	if err != nil {
		return "", err
	}
	defer out.Discard(ctx)

	w := &countingWriter{w: out}
	res, err := t.runner.Run(ctx, exttool.Spec{
		Binary:  Binary,
		Args:    Args(input, Canonical),
		Stdout:  w,
		Timeout: t.timeout,
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return "", fmt.Errorf("transcode: %w", err)
	}
	span.SetAttributes(telemetry.ToolAttributes(Binary, res.ExitCode)...)
	if terr := res.Err(Binary); terr != nil {
		telemetry.RecordError(span, terr)
		return "", terr
	}
	if w.n == 0 {
		telemetry.RecordError(span, ErrEmptyOutput)
		return "", ErrEmptyOutput
	}
	if err := out.Commit(); err != nil {
		return "", err
	}

	xglog.FromContext(ctx).Debug().
		Str(xglog.FieldPath, logical).
		Int64("bytes", w.n).
		Dur(xglog.FieldDuration, res.Duration).
		Msg("audio transcoded")
	return logical, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
