// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package waveform reduces decoded audio to a fixed number of peak
// amplitudes for client-side rendering.
package waveform

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/ManuGH/samplr/internal/exttool"
	xglog "github.com/ManuGH/samplr/internal/log"
	"github.com/ManuGH/samplr/internal/storage"
	"github.com/ManuGH/samplr/internal/telemetry"
)

const (
	// Binary is the logical tool name of the decoder.
	Binary = "ffmpeg"
	// Points is the number of peaks in every waveform.
	Points = 250
	// DecodeRate is the PCM sample rate used for analysis.
	DecodeRate = 8000
	// blockSamples is the granularity of the streaming pre-reduction (10 ms).
	blockSamples = DecodeRate / 100

	formatVersion = 1
)

// ErrNoAudio is returned when decoding yields no samples.
var ErrNoAudio = errors.New("waveform: decoded audio is empty")

// Waveform is the persisted artifact.
type Waveform struct {
	Version    int       `json:"version"`
	SampleRate int       `json:"sample_rate"`
	DurationMS int64     `json:"duration_ms"`
	Peaks      []float64 `json:"peaks"`
}

// ArtifactPath is the deterministic logical location of a sample's waveform.
func ArtifactPath(sampleID string) string {
	return storage.Join("waveforms", sampleID+".json")
}

// DecodeArgs builds the ffmpeg argv that decodes input to mono s16le PCM on
// stdout.
func DecodeArgs(input string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", "error",
		"-i", input,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(DecodeRate),
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"pipe:1",
	}
}

// Generator produces waveform artifacts.
type Generator struct {
	runner  exttool.Runner
	store   *storage.Local
	timeout time.Duration
}

// New creates a Generator.
func New(runner exttool.Runner, store *storage.Local, timeout time.Duration) *Generator {
	return &Generator{runner: runner, store: store, timeout: timeout}
}

// Generate decodes the audio artifact at the logical path audio and commits
// the waveform to ArtifactPath(sampleID), returning that logical path.
func (g *Generator) Generate(ctx context.Context, audio, sampleID string) (string, error) {
	ctx, span := telemetry.Tracer("samplr/waveform").Start(ctx, "waveform.generate")
	defer span.End()

	input, err := g.store.Path(audio)
	if err != nil {
		return "", err
	}

	acc := NewAccumulator()
	res, err := g.runner.Run(ctx, exttool.Spec{
		Binary:  Binary,
		Args:    DecodeArgs(input),
		Stdout:  acc,
		Timeout: g.timeout,
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return "", fmt.Errorf("waveform: %w", err)
	}
	span.SetAttributes(telemetry.ToolAttributes(Binary, res.ExitCode)...)
	if terr := res.Err(Binary); terr != nil {
		telemetry.RecordError(span, terr)
		return "", terr
	}

	wf, err := acc.Waveform(Points)
	if err != nil {
		telemetry.RecordError(span, err)
		return "", err
	}
	data, err := json.Marshal(wf)
	if err != nil {
		return "", fmt.Errorf("waveform: encode: %w", err)
	}

	logical := ArtifactPath(sampleID)
	if _, err := g.store.Put(ctx, logical, bytes.NewReader(data)); err != nil {
		return "", err
	}
	xglog.FromContext(ctx).Debug().
		Str(xglog.FieldPath, logical).
		Int64("audio_ms", wf.DurationMS).
		Msg("waveform generated")
	return logical, nil
}

// Accumulator consumes little-endian s16 mono PCM and keeps one peak per
// 10 ms block, so memory stays proportional to duration / 10 ms.
type Accumulator struct {
	blocks  []uint16
	cur     uint16
	inBlock int
	samples int64
	carry   []byte
}

// NewAccumulator returns an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{carry: make([]byte, 0, 1)}
}

// Write implements io.Writer. Samples may be split across writes.
func (a *Accumulator) Write(p []byte) (int, error) {
	n := len(p)
	if len(a.carry) == 1 && len(p) > 0 {
		a.add(int16(binary.LittleEndian.Uint16([]byte{a.carry[0], p[0]})))
		a.carry = a.carry[:0]
		p = p[1:]
	}
	for len(p) >= 2 {
		a.add(int16(binary.LittleEndian.Uint16(p)))
		p = p[2:]
	}
	if len(p) == 1 {
		a.carry = append(a.carry, p[0])
	}
	return n, nil
}

func (a *Accumulator) add(s int16) {
	v := abs16(s)
	if v > a.cur {
		a.cur = v
	}
	a.samples++
	a.inBlock++
	if a.inBlock == blockSamples {
		a.flush()
	}
}

func (a *Accumulator) flush() {
	if a.inBlock == 0 {
		return
	}
	a.blocks = append(a.blocks, a.cur)
	a.cur = 0
	a.inBlock = 0
}

// Waveform reduces the consumed audio to n evenly spaced peaks in [0,1].
func (a *Accumulator) Waveform(n int) (Waveform, error) {
	a.flush()
	if a.samples == 0 {
		return Waveform{}, ErrNoAudio
	}
	return Waveform{
		Version:    formatVersion,
		SampleRate: DecodeRate,
		DurationMS: a.samples * 1000 / DecodeRate,
		Peaks:      Reduce(a.blocks, n),
	}, nil
}

// Reduce maps blocks onto n buckets, taking the maximum of each bucket and
// scaling by the full s16 range. Short inputs repeat blocks so the output
// always has n points.
func Reduce(blocks []uint16, n int) []float64 {
	out := make([]float64, n)
	if len(blocks) == 0 || n <= 0 {
		return out
	}
	for i := 0; i < n; i++ {
		lo := i * len(blocks) / n
		hi := (i + 1) * len(blocks) / n
		if hi <= lo {
			hi = lo + 1
		}
		var peak uint16
		for _, b := range blocks[lo:hi] {
			if b > peak {
				peak = b
			}
		}
		out[i] = round4(float64(peak) / 32768)
	}
	return out
}

func abs16(s int16) uint16 {
	if s < 0 {
		return uint16(-int32(s))
	}
	return uint16(s)
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
