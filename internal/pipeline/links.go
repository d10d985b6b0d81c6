// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuGH/samplr/internal/exttool"
	xglog "github.com/ManuGH/samplr/internal/log"
	"github.com/ManuGH/samplr/internal/metrics"
	"github.com/ManuGH/samplr/internal/queue"
	"github.com/ManuGH/samplr/internal/sample"
)

// Links re-run after a restart must converge on the same artifacts, so every
// link first tries to enter its working state and accepts finding the sample
// already there.

// enter moves the sample from -> to. A nil result means the link should
// proceed; Success means the sample has already moved past this link.
func (o *Orchestrator) enter(ctx context.Context, id string, from, to sample.State, past ...sample.State) queue.Result {
	ok, err := o.store.Transition(ctx, id, from, to)
	if err != nil {
		return fail(KindStoreError, err, nil)
	}
	if ok {
		return nil
	}
	smp, err := o.store.Get(ctx, id)
	if err != nil {
		return fail(KindStoreError, err, nil)
	}
	if smp.State == to {
		return nil
	}
	for _, p := range past {
		if smp.State == p {
			xglog.FromContext(ctx).Info().Str("state", string(smp.State)).Msg("link already done, skipping")
			return queue.Success{}
		}
	}
	return fail(KindStaleState, ErrStaleState,
		fmt.Errorf("sample %s is %s, expected %s", id, smp.State, from))
}

// Transcode converts the uploaded file named by the "input" payload into the
// canonical audio artifact and removes the upload.
func (o *Orchestrator) Transcode(ctx context.Context, job queue.Job) queue.Result {
	input := job.Payload[PayloadInput]
	if input == "" {
		return fail(KindTranscodeFailed, ErrTranscodeFailed, errors.New("missing input payload"))
	}
	if res := o.enter(ctx, job.SampleID, sample.StatePending, sample.StateTranscoding,
		sample.StateWaveformGenerating, sample.StatePublished); res != nil {
		return res
	}
	if res := o.recordedAudio(ctx, job.SampleID); res != nil {
		o.removeUpload(ctx, input)
		return res
	}

	abs, err := o.storage.Path(input)
	if err != nil {
		return fail(KindTranscodeFailed, ErrTranscodeFailed, err)
	}
	res := o.transcode(ctx, job.SampleID, abs)
	if _, ok := res.(queue.Success); ok {
		o.removeUpload(ctx, input)
	}
	return res
}

// recordedAudio returns Success when an earlier run of this link already
// recorded the audio artifact and it is still on storage. The upload may be
// gone by then, so a replay must not transcode again.
func (o *Orchestrator) recordedAudio(ctx context.Context, sampleID string) queue.Result {
	arts, err := o.store.GetArtifacts(ctx, sampleID)
	if err != nil {
		return fail(KindStoreError, err, nil)
	}
	if arts.AudioPath == "" {
		return nil
	}
	if ok, err := o.storage.Exists(arts.AudioPath); err != nil || !ok {
		return nil
	}
	xglog.FromContext(ctx).Info().
		Str(xglog.FieldPath, arts.AudioPath).
		Msg("audio already recorded, skipping transcode")
	return queue.Success{Artifacts: map[string]string{string(sample.ArtifactAudio): arts.AudioPath}}
}

func (o *Orchestrator) removeUpload(ctx context.Context, input string) {
	if err := o.storage.Remove(input); err != nil {
		xglog.FromContext(ctx).Warn().Err(err).Str(xglog.FieldPath, input).Msg("remove consumed upload")
	}
}

// DownloadTranscode downloads the "url" payload and transcodes it.
func (o *Orchestrator) DownloadTranscode(ctx context.Context, job queue.Job) queue.Result {
	url := job.Payload[PayloadURL]
	if url == "" {
		return fail(KindDownloadFailed, ErrDownloadFailed, errors.New("missing url payload"))
	}
	if o.prober == nil {
		return fail(KindDownloadFailed, ErrDownloadFailed, errors.New("remote ingestion is not configured"))
	}
	if res := o.enter(ctx, job.SampleID, sample.StatePending, sample.StateTranscoding,
		sample.StateWaveformGenerating, sample.StatePublished); res != nil {
		return res
	}
	if res := o.recordedAudio(ctx, job.SampleID); res != nil {
		return res
	}

	temp := TempDownloadPath(job.SampleID)
	abs, err := o.storage.Path(temp)
	if err != nil {
		return fail(KindDownloadFailed, ErrDownloadFailed, err)
	}
	if err := o.storage.EnsureDirectory("temp"); err != nil {
		return fail(KindDownloadFailed, ErrDownloadFailed, err)
	}
	defer func() {
		if err := o.storage.Remove(temp); err != nil {
			xglog.FromContext(ctx).Warn().Err(err).Str(xglog.FieldPath, temp).Msg("remove download")
		}
	}()

	if err := o.prober.Download(ctx, url, abs); err != nil {
		o.logToolFailure(ctx, "download failed", err)
		return fail(KindDownloadFailed, ErrDownloadFailed, err)
	}
	return o.transcode(ctx, job.SampleID, abs)
}

func (o *Orchestrator) transcode(ctx context.Context, sampleID, abs string) queue.Result {
	logical, err := o.transcoder.Transcode(ctx, abs, sampleID)
	if err != nil {
		o.logToolFailure(ctx, "transcode failed", err)
		return fail(KindTranscodeFailed, ErrTranscodeFailed, err)
	}
	if err := o.store.UpdateArtifact(ctx, sampleID, sample.ArtifactAudio, logical); err != nil {
		return fail(KindStoreError, err, nil)
	}
	return queue.Success{Artifacts: map[string]string{string(sample.ArtifactAudio): logical}}
}

// GenerateWaveform computes the waveform of the recorded audio artifact.
func (o *Orchestrator) GenerateWaveform(ctx context.Context, job queue.Job) queue.Result {
	if res := o.enter(ctx, job.SampleID, sample.StateTranscoding, sample.StateWaveformGenerating,
		sample.StatePublished); res != nil {
		return res
	}

	arts, err := o.store.GetArtifacts(ctx, job.SampleID)
	if err != nil {
		return fail(KindStoreError, err, nil)
	}
	if arts.AudioPath == "" {
		return fail(KindWaveformFailed, ErrWaveformFailed, ErrArtifactInconsistency)
	}

	logical, err := o.waveforms.Generate(ctx, arts.AudioPath, job.SampleID)
	if err != nil {
		o.logToolFailure(ctx, "waveform failed", err)
		return fail(KindWaveformFailed, ErrWaveformFailed, err)
	}
	if err := o.store.UpdateArtifact(ctx, job.SampleID, sample.ArtifactWaveform, logical); err != nil {
		return fail(KindStoreError, err, nil)
	}
	return queue.Success{Artifacts: map[string]string{string(sample.ArtifactWaveform): logical}}
}

// Publish flips the sample public once both artifacts are recorded and
// present on storage.
func (o *Orchestrator) Publish(ctx context.Context, job queue.Job) queue.Result {
	smp, err := o.store.Get(ctx, job.SampleID)
	if err != nil {
		return fail(KindStoreError, err, nil)
	}
	if smp.State == sample.StatePublished {
		return queue.Success{}
	}

	arts := smp.Artifacts()
	if missing := o.missingArtifacts(arts); len(missing) > 0 {
		metrics.IncInvariantViolation()
		xglog.FromContext(ctx).Error().
			Str(xglog.FieldEvent, "publish.invariant_violation").
			Strs("missing", missing).
			Str("state", string(smp.State)).
			Msg("refusing to publish sample with missing artifacts")
		return fail(KindArtifactInconsistency, ErrArtifactInconsistency,
			fmt.Errorf("missing %v", missing))
	}

	ok, err := o.store.Transition(ctx, job.SampleID, sample.StateWaveformGenerating, sample.StatePublished)
	if err != nil {
		return fail(KindStoreError, err, nil)
	}
	if !ok {
		return fail(KindStaleState, ErrStaleState,
			fmt.Errorf("sample %s is %s, expected %s", job.SampleID, smp.State, sample.StateWaveformGenerating))
	}
	xglog.FromContext(ctx).Info().
		Str(xglog.FieldEvent, "sample.published").
		Str(xglog.FieldOldState, string(sample.StateWaveformGenerating)).
		Str(xglog.FieldNewState, string(sample.StatePublished)).
		Msg("sample published")
	return queue.Success{Artifacts: map[string]string{
		string(sample.ArtifactAudio):    arts.AudioPath,
		string(sample.ArtifactWaveform): arts.WaveformPath,
	}}
}

// missingArtifacts lists artifacts that are unset or absent from storage.
func (o *Orchestrator) missingArtifacts(arts sample.Artifacts) []string {
	var missing []string
	check := func(name sample.Artifact, logical string) {
		if logical == "" {
			missing = append(missing, string(name))
			return
		}
		ok, err := o.storage.Exists(logical)
		if err != nil || !ok {
			missing = append(missing, string(name))
		}
	}
	check(sample.ArtifactAudio, arts.AudioPath)
	check(sample.ArtifactWaveform, arts.WaveformPath)
	return missing
}

func (o *Orchestrator) logToolFailure(ctx context.Context, msg string, err error) {
	ev := xglog.FromContext(ctx).Warn().Err(err)
	if terr, ok := exttool.AsToolError(err); ok {
		ev = ev.Str(xglog.FieldBinary, terr.Binary).
			Int(xglog.FieldExitCode, terr.ExitCode).
			Bool("timed_out", terr.TimedOut).
			Str(xglog.FieldStderr, terr.Stderr)
	}
	ev.Msg(msg)
}
