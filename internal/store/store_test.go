// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ManuGH/samplr/internal/persistence/sqlite"
	"github.com/ManuGH/samplr/internal/sample"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemory() },
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "samples.sqlite"), sqlite.DefaultConfig())
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, open(t))
		})
	}
}

func create(t *testing.T, s Store) *sample.Sample {
	t.Helper()
	smp, err := s.Create(context.Background(), NewSample{OwnerID: "owner-1", Name: "break.wav", Description: "d"})
	require.NoError(t, err)
	return smp
}

func TestCreateAndGet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		smp := create(t, s)
		assert.NotEmpty(t, smp.ID)
		assert.Equal(t, sample.StatePending, smp.State)
		assert.Equal(t, sample.VisibilityPrivate, smp.Visibility)

		got, err := s.Get(ctx, smp.ID)
		require.NoError(t, err)
		assert.Equal(t, smp.ID, got.ID)
		assert.Equal(t, "owner-1", got.OwnerID)
		assert.Equal(t, "break.wav", got.Name)
		assert.Equal(t, "d", got.Description)
		assert.Empty(t, got.AudioPath)
		assert.Empty(t, got.Tags)
		assert.True(t, smp.CreatedAt.Equal(got.CreatedAt))

		_, err = s.Get(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestTransitionIsCompareAndSet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		smp := create(t, s)

		ok, err := s.Transition(ctx, smp.ID, sample.StatePending, sample.StateTranscoding)
		require.NoError(t, err)
		assert.True(t, ok)

		// stale writer
		ok, err = s.Transition(ctx, smp.ID, sample.StatePending, sample.StateTranscoding)
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = s.Transition(ctx, smp.ID, sample.StateTranscoding, sample.StatePending)
		assert.ErrorIs(t, err, ErrInvalidTransition)

		_, err = s.Transition(ctx, smp.ID, sample.StatePending, sample.StatePublished)
		assert.ErrorIs(t, err, ErrInvalidTransition, "publishing must not skip states")

		_, err = s.Transition(ctx, "missing", sample.StatePending, sample.StateTranscoding)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestPublishRequiresArtifacts(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		smp := create(t, s)
		mustTransition(t, s, smp.ID, sample.StatePending, sample.StateTranscoding)
		require.NoError(t, s.UpdateArtifact(ctx, smp.ID, sample.ArtifactAudio, "audio/"+smp.ID+".mp3"))
		mustTransition(t, s, smp.ID, sample.StateTranscoding, sample.StateWaveformGenerating)

		ok, err := s.Transition(ctx, smp.ID, sample.StateWaveformGenerating, sample.StatePublished)
		require.NoError(t, err)
		assert.False(t, ok, "waveform missing")

		got, err := s.Get(ctx, smp.ID)
		require.NoError(t, err)
		assert.Equal(t, sample.VisibilityPrivate, got.Visibility)

		require.NoError(t, s.UpdateArtifact(ctx, smp.ID, sample.ArtifactWaveform, "waveforms/"+smp.ID+".json"))
		mustTransition(t, s, smp.ID, sample.StateWaveformGenerating, sample.StatePublished)

		got, err = s.Get(ctx, smp.ID)
		require.NoError(t, err)
		assert.Equal(t, sample.VisibilityPublic, got.Visibility)
		assert.Equal(t, sample.StatePublished, got.State)
		require.NoError(t, got.CheckInvariants())

		art, err := s.GetArtifacts(ctx, smp.ID)
		require.NoError(t, err)
		assert.True(t, art.Complete())
	})
}

func TestFailedIsTerminalAndPrivate(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		smp := create(t, s)
		mustTransition(t, s, smp.ID, sample.StatePending, sample.StateTranscoding)
		mustTransition(t, s, smp.ID, sample.StateTranscoding, sample.StateFailed)

		err := s.UpdateArtifact(ctx, smp.ID, sample.ArtifactAudio, "audio/x.mp3")
		assert.ErrorIs(t, err, ErrTerminal)

		got, err := s.Get(ctx, smp.ID)
		require.NoError(t, err)
		assert.Equal(t, sample.StateFailed, got.State)
		assert.Equal(t, sample.VisibilityPrivate, got.Visibility)
	})
}

func TestUpdateArtifactValidation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		smp := create(t, s)
		assert.ErrorIs(t, s.UpdateArtifact(ctx, smp.ID, "cover", "x"), ErrInvalidArtifact)
		assert.ErrorIs(t, s.UpdateArtifact(ctx, smp.ID, sample.ArtifactAudio, ""), ErrInvalidArtifact)
		assert.ErrorIs(t, s.UpdateArtifact(ctx, "missing", sample.ArtifactAudio, "a"), ErrNotFound)

		// rewrites of the same deterministic path are idempotent
		require.NoError(t, s.UpdateArtifact(ctx, smp.ID, sample.ArtifactAudio, "audio/a.mp3"))
		require.NoError(t, s.UpdateArtifact(ctx, smp.ID, sample.ArtifactAudio, "audio/a.mp3"))
	})
}

func TestThumbnailAndTags(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		a := create(t, s)
		b := create(t, s)

		require.NoError(t, s.SetThumbnail(ctx, a.ID, "images/"+a.ID+"_thumbnail.jpg"))
		require.NoError(t, s.AttachTags(ctx, a.ID, []string{"drums", "breakbeat"}))
		require.NoError(t, s.AttachTags(ctx, a.ID, []string{"drums"}))
		require.NoError(t, s.AttachTags(ctx, b.ID, []string{"drums"}))

		got, err := s.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, "images/"+a.ID+"_thumbnail.jpg", got.ThumbnailPath)
		assert.Equal(t, []string{"breakbeat", "drums"}, got.Tags)

		got, err = s.Get(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"drums"}, got.Tags)

		assert.ErrorIs(t, s.AttachTags(ctx, "missing", []string{"x"}), ErrNotFound)
		assert.ErrorIs(t, s.SetThumbnail(ctx, "missing", "x"), ErrNotFound)
	})
}

func TestConcurrentTransitionsHaveOneWinner(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		smp := create(t, s)

		const n = 16
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				to := sample.StateTranscoding
				if i%2 == 1 {
					to = sample.StateFailed
				}
				ok, err := s.Transition(ctx, smp.ID, sample.StatePending, to)
				assert.NoError(t, err, fmt.Sprintf("goroutine %d", i))
				if ok {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})
}

func mustTransition(t *testing.T, s Store, id string, from, to sample.State) {
	t.Helper()
	ok, err := s.Transition(context.Background(), id, from, to)
	require.NoError(t, err)
	require.True(t, ok, "%s -> %s", from, to)
}
