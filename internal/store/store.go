// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store persists samples. Processing state only moves through
// Transition, a compare-and-set keyed by sample id, so concurrent or stale
// chain links can never regress a sample.
package store

import (
	"context"
	"errors"

	"github.com/ManuGH/samplr/internal/sample"
)

var (
	// ErrNotFound is returned for unknown sample ids.
	ErrNotFound = errors.New("store: sample not found")
	// ErrInvalidTransition is returned for edges outside the state machine.
	ErrInvalidTransition = errors.New("store: invalid state transition")
	// ErrTerminal is returned when mutating artifacts of a published or failed sample.
	ErrTerminal = errors.New("store: sample is in a terminal state")
	// ErrInvalidArtifact is returned for unknown artifact names or empty paths.
	ErrInvalidArtifact = errors.New("store: invalid artifact")
)

// NewSample holds the fields supplied at creation.
type NewSample struct {
	OwnerID     string
	Name        string
	Description string
	SourceURL   string
}

// Store is the Resource Store.
type Store interface {
	// Create inserts a pending, private sample with a fresh id.
	Create(ctx context.Context, in NewSample) (*sample.Sample, error)
	// Get returns a copy of the sample.
	Get(ctx context.Context, id string) (*sample.Sample, error)
	// UpdateArtifact records a derived artifact path.
	UpdateArtifact(ctx context.Context, id string, artifact sample.Artifact, path string) error
	// Transition moves the sample from -> to if it is currently in from and
	// reports whether it did. Moving to Published additionally requires both
	// artifacts and flips visibility to public in the same write.
	Transition(ctx context.Context, id string, from, to sample.State) (bool, error)
	// GetArtifacts returns the audio and waveform paths.
	GetArtifacts(ctx context.Context, id string) (sample.Artifacts, error)
	// SetThumbnail records the thumbnail path.
	SetThumbnail(ctx context.Context, id, path string) error
	// AttachTags links tags to the sample, creating unknown tags.
	AttachTags(ctx context.Context, id string, tags []string) error
	Close() error
}

func checkTransition(from, to sample.State) error {
	if !sample.CanTransition(from, to) {
		return ErrInvalidTransition
	}
	return nil
}

func checkArtifact(artifact sample.Artifact, path string) error {
	if !artifact.Valid() || path == "" {
		return ErrInvalidArtifact
	}
	return nil
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
