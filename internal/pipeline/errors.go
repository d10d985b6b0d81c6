// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"errors"

	"github.com/ManuGH/samplr/internal/queue"
)

var (
	// ErrTranscodeFailed is the failure of a Transcode or Download+Transcode link.
	ErrTranscodeFailed = errors.New("transcode failed")
	// ErrDownloadFailed is a downloader failure inside Download+Transcode.
	ErrDownloadFailed = errors.New("download failed")
	// ErrWaveformFailed is the failure of a GenerateWaveform link.
	ErrWaveformFailed = errors.New("waveform generation failed")
	// ErrArtifactInconsistency means the publish link found missing artifacts.
	ErrArtifactInconsistency = errors.New("artifact inconsistency")
	// ErrStaleState means the sample is not in the state the link expects.
	ErrStaleState = errors.New("sample state changed underneath the chain")
)

// Failure kinds reported to the scheduler.
const (
	KindTranscodeFailed       = "transcode_failed"
	KindDownloadFailed        = "download_failed"
	KindWaveformFailed        = "waveform_failed"
	KindArtifactInconsistency = "artifact_inconsistency"
	KindStaleState            = "stale_state"
	KindStoreError            = "store_error"
)

// LinkError is the error carried by a failed chain link.
type LinkError struct {
	Kind string
	Err  error
}

func (e *LinkError) Error() string { return e.Kind + ": " + e.Err.Error() }

func (e *LinkError) Unwrap() error { return e.Err }

// fail builds a queue.Failure whose error chain matches both the link kind
// sentinel and the cause.
func fail(kind string, sentinel, cause error) queue.Failure {
	err := sentinel
	if cause != nil {
		err = errors.Join(sentinel, cause)
	}
	return queue.Fail(kind, &LinkError{Kind: kind, Err: err})
}
