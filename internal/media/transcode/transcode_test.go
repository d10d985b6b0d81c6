// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcode

import (
	"context"
	"os"
	"testing"

	"github.com/ManuGH/samplr/internal/exttool"
	"github.com/ManuGH/samplr/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *storage.Local {
	t.Helper()
	s, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	return s
}

func writingRunner(payload string) *exttool.FakeRunner {
	return &exttool.FakeRunner{Fn: func(ctx context.Context, spec exttool.Spec) (exttool.Result, error) {
		if spec.Stdout != nil {
			_, _ = spec.Stdout.Write([]byte(payload))
		}
		return exttool.Result{}, nil
	}}
}

func TestArgs(t *testing.T) {
	args := Args("/in/a.wav", Canonical)
	assert.Equal(t, []string{
		"-hide_banner", "-nostdin", "-loglevel", "error",
		"-i", "/in/a.wav",
		"-map", "0:a:0", "-vn", "-map_metadata", "-1",
		"-c:a", "libmp3lame", "-b:a", "192k", "-ar", "44100",
		"-f", "mp3", "pipe:1",
	}, args)
	assert.NotContains(t, args, "-ac", "channel count must be preserved")
}

func TestArtifactPathIsDeterministic(t *testing.T) {
	assert.Equal(t, "audio/s1.mp3", ArtifactPath("s1"))
	assert.Equal(t, ArtifactPath("s1"), ArtifactPath("s1"))
}

func TestTranscode_CommitsArtifact(t *testing.T) {
	store := newStore(t)
	runner := writingRunner("ID3mp3data")
	tr := New(runner, store, 0)

	logical, err := tr.Transcode(context.Background(), "/in/a.wav", "s1")
	require.NoError(t, err)
	assert.Equal(t, "audio/s1.mp3", logical)

	abs, err := store.Path(logical)
	require.NoError(t, err)
	data, err := os.ReadFile(abs)
	require.NoError(t, err)
	assert.Equal(t, "ID3mp3data", string(data))

	call := runner.Calls()[0]
	assert.Equal(t, Binary, call.Binary)
	assert.Contains(t, call.Args, "/in/a.wav")
}

func TestTranscode_RerunOverwritesSamePath(t *testing.T) {
	store := newStore(t)
	first, err := New(writingRunner("first"), store, 0).Transcode(context.Background(), "/in/a.wav", "s1")
	require.NoError(t, err)
	second, err := New(writingRunner("second"), store, 0).Transcode(context.Background(), "/in/a.wav", "s1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	abs, _ := store.Path(second)
	data, err := os.ReadFile(abs)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestTranscode_FailureLeavesNoArtifact(t *testing.T) {
	store := newStore(t)
	runner := &exttool.FakeRunner{Fn: func(ctx context.Context, spec exttool.Spec) (exttool.Result, error) {
		_, _ = spec.Stdout.Write([]byte("partial"))
		return exttool.Result{ExitCode: 1, Stderr: "Invalid data found when processing input\n"}, nil
	}}

	_, err := New(runner, store, 0).Transcode(context.Background(), "/in/broken.wav", "s1")
	require.Error(t, err)
	te, ok := exttool.AsToolError(err)
	require.True(t, ok)
	assert.Contains(t, te.Stderr, "Invalid data")

	exists, err := store.Exists(ArtifactPath("s1"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestTranscode_EmptyOutputFails(t *testing.T) {
	store := newStore(t)
	_, err := New(writingRunner(""), store, 0).Transcode(context.Background(), "/in/a.wav", "s1")
	assert.ErrorIs(t, err, ErrEmptyOutput)
	exists, _ := store.Exists(ArtifactPath("s1"))
	assert.False(t, exists)
}
