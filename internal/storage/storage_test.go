// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocal(t *testing.T) *Local {
	t.Helper()
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	return l
}

func TestPutAndExists(t *testing.T) {
	l := newLocal(t)
	ctx := context.Background()

	n, err := l.Put(ctx, "audio/abc.mp3", strings.NewReader("ID3data"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	ok, err := l.Exists("audio/abc.mp3")
	require.NoError(t, err)
	assert.True(t, ok)

	p, err := l.Path("audio/abc.mp3")
	require.NoError(t, err)
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "ID3data", string(data))

	ok, err = l.Exists("audio/missing.mp3")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutReplacesAtomically(t *testing.T) {
	l := newLocal(t)
	ctx := context.Background()

	_, err := l.Put(ctx, "waveforms/x.json", strings.NewReader("old"))
	require.NoError(t, err)
	_, err = l.Put(ctx, "waveforms/x.json", strings.NewReader("new"))
	require.NoError(t, err)

	p, _ := l.Path("waveforms/x.json")
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	entries, err := os.ReadDir(filepath.Dir(p))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestCreateDiscardLeavesNothing(t *testing.T) {
	l := newLocal(t)
	w, err := l.Create("audio/y.mp3")
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)
	w.Discard(context.Background())

	ok, err := l.Exists("audio/y.mp3")
	require.NoError(t, err)
	assert.False(t, ok)

	entries, err := os.ReadDir(filepath.Join(l.Root(), "audio"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPathConfinement(t *testing.T) {
	l := newLocal(t)
	for _, bad := range []string{"", ".", "..", "../etc/passwd", "/etc/passwd", "a/../../b", `a\b`} {
		_, err := l.Path(bad)
		assert.ErrorIs(t, err, ErrOutsideRoot, "path %q", bad)
	}

	p, err := l.Path("a/../b/c.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(l.Root(), "b", "c.txt"), p)
}

func TestPathRejectsSymlinkEscape(t *testing.T) {
	l := newLocal(t)
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(l.Root(), "link")))

	_, err := l.Path("link/file")
	assert.ErrorIs(t, err, ErrOutsideRoot)
}

func TestEnsureDirectoryAndRemove(t *testing.T) {
	l := newLocal(t)
	require.NoError(t, l.EnsureDirectory("temp"))
	info, err := os.Stat(filepath.Join(l.Root(), "temp"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	_, err = l.Put(context.Background(), "temp/u.wav", strings.NewReader("x"))
	require.NoError(t, err)
	require.NoError(t, l.Remove("temp/u.wav"))
	require.NoError(t, l.Remove("temp/u.wav"), "removing a missing file is not an error")
}

func TestPutHonorsCanceledContext(t *testing.T) {
	l := newLocal(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Put(ctx, "audio/z.mp3", strings.NewReader("x"))
	assert.ErrorIs(t, err, context.Canceled)

	ok, _ := l.Exists("audio/z.mp3")
	assert.False(t, ok)
}
