// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ManuGH/samplr/internal/metrics"
	"github.com/ManuGH/samplr/internal/sample"
	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used by tests and ephemeral runs.
type MemoryStore struct {
	mu      sync.Mutex
	samples map[string]*sample.Sample
	now     func() time.Time
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{samples: make(map[string]*sample.Sample), now: time.Now}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) Create(_ context.Context, in NewSample) (*sample.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	smp := sample.New(uuid.NewString(), in.OwnerID, in.Name, m.now().UTC())
	smp.Description = in.Description
	smp.SourceURL = in.SourceURL
	m.samples[smp.ID] = smp
	return smp.Clone(), nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*sample.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	smp, ok := m.samples[id]
	if !ok {
		return nil, ErrNotFound
	}
	return smp.Clone(), nil
}

func (m *MemoryStore) UpdateArtifact(_ context.Context, id string, artifact sample.Artifact, path string) error {
	if err := checkArtifact(artifact, path); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	smp, ok := m.samples[id]
	if !ok {
		return ErrNotFound
	}
	if smp.State.Terminal() {
		return ErrTerminal
	}
	switch artifact {
	case sample.ArtifactAudio:
		smp.AudioPath = path
	case sample.ArtifactWaveform:
		smp.WaveformPath = path
	}
	smp.UpdatedAt = m.now().UTC()
	return nil
}

func (m *MemoryStore) Transition(_ context.Context, id string, from, to sample.State) (bool, error) {
	if err := checkTransition(from, to); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	smp, ok := m.samples[id]
	if !ok {
		return false, ErrNotFound
	}
	if smp.State != from {
		return false, nil
	}
	if to == sample.StatePublished {
		if !smp.Artifacts().Complete() {
			return false, nil
		}
		smp.Visibility = sample.VisibilityPublic
	} else {
		smp.Visibility = sample.VisibilityPrivate
	}
	smp.State = to
	smp.UpdatedAt = m.now().UTC()
	metrics.IncStateTransition(string(from), string(to))
	return true, nil
}

func (m *MemoryStore) GetArtifacts(_ context.Context, id string) (sample.Artifacts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	smp, ok := m.samples[id]
	if !ok {
		return sample.Artifacts{}, ErrNotFound
	}
	return smp.Artifacts(), nil
}

func (m *MemoryStore) SetThumbnail(_ context.Context, id, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	smp, ok := m.samples[id]
	if !ok {
		return ErrNotFound
	}
	smp.ThumbnailPath = path
	smp.UpdatedAt = m.now().UTC()
	return nil
}

func (m *MemoryStore) AttachTags(_ context.Context, id string, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	smp, ok := m.samples[id]
	if !ok {
		return ErrNotFound
	}
	set := make(map[string]struct{}, len(smp.Tags)+len(tags))
	for _, t := range smp.Tags {
		set[t] = struct{}{}
	}
	for _, t := range tags {
		if t != "" {
			set[t] = struct{}{}
		}
	}
	merged := make([]string, 0, len(set))
	for t := range set {
		merged = append(merged, t)
	}
	sort.Strings(merged)
	smp.Tags = merged
	return nil
}
