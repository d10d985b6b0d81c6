// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package sample defines the Sample entity and its processing state machine.
package sample

import (
	"errors"
	"fmt"
	"time"
)

// State is the processing state of a sample.
type State string

const (
	StatePending            State = "pending"
	StateTranscoding        State = "transcoding"
	StateWaveformGenerating State = "waveform_generating"
	StatePublished          State = "published"
	StateFailed             State = "failed"
)

// Visibility controls whether a sample is served publicly.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

// Artifact names a derived file recorded on a sample.
type Artifact string

const (
	ArtifactAudio    Artifact = "audio"
	ArtifactWaveform Artifact = "waveform"
)

// Valid reports whether a is a known artifact.
func (a Artifact) Valid() bool {
	return a == ArtifactAudio || a == ArtifactWaveform
}

// Sample is the central entity. Empty path fields mean "not set".
type Sample struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Description   string     `json:"description,omitempty"`
	OwnerID       string     `json:"owner_id"`
	SourceURL     string     `json:"source_url,omitempty"`
	AudioPath     string     `json:"audio_path,omitempty"`
	WaveformPath  string     `json:"waveform_path,omitempty"`
	ThumbnailPath string     `json:"thumbnail_path,omitempty"`
	Tags          []string   `json:"tags"`
	Visibility    Visibility `json:"visibility"`
	State         State      `json:"processing_state"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Artifacts is the pair of paths the publish link checks.
type Artifacts struct {
	AudioPath    string
	WaveformPath string
}

// Complete reports whether both artifacts are set.
func (a Artifacts) Complete() bool {
	return a.AudioPath != "" && a.WaveformPath != ""
}

// New builds a pending, private sample.
func New(id, ownerID, name string, now time.Time) *Sample {
	return &Sample{
		ID:         id,
		OwnerID:    ownerID,
		Name:       name,
		Tags:       []string{},
		Visibility: VisibilityPrivate,
		State:      StatePending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Artifacts returns the sample's artifact paths.
func (s *Sample) Artifacts() Artifacts {
	return Artifacts{AudioPath: s.AudioPath, WaveformPath: s.WaveformPath}
}

// Clone returns a deep copy.
func (s *Sample) Clone() *Sample {
	c := *s
	c.Tags = append([]string{}, s.Tags...)
	return &c
}

var transitions = map[State][]State{
	StatePending:            {StateTranscoding, StateFailed},
	StateTranscoding:        {StateWaveformGenerating, StateFailed},
	StateWaveformGenerating: {StatePublished, StateFailed},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StatePublished || s == StateFailed
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateTranscoding, StateWaveformGenerating, StatePublished, StateFailed:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ErrInvariant reports a sample that violates the data model.
var ErrInvariant = errors.New("sample invariant violated")

// CheckInvariants validates the cross-field rules of a sample.
func (s *Sample) CheckInvariants() error {
	if !s.State.Valid() {
		return fmt.Errorf("%w: unknown state %q", ErrInvariant, s.State)
	}
	switch {
	case s.Visibility == VisibilityPublic && !s.Artifacts().Complete():
		return fmt.Errorf("%w: public sample %s is missing artifacts", ErrInvariant, s.ID)
	case s.Visibility == VisibilityPublic && s.State != StatePublished:
		return fmt.Errorf("%w: public sample %s is in state %s", ErrInvariant, s.ID, s.State)
	case s.State == StatePublished && s.Visibility != VisibilityPublic:
		return fmt.Errorf("%w: published sample %s is private", ErrInvariant, s.ID)
	}
	return nil
}
