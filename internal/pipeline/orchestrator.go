// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package pipeline turns ingestion events into samples and job chains, and
// implements the chain links that move a sample towards publication.
//
// Every chain ends with the publish link. A sample becomes public only when
// both artifacts are recorded and present on storage; any failed link leaves
// it private and, through the failure hook, in state failed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	xglog "github.com/ManuGH/samplr/internal/log"
	"github.com/ManuGH/samplr/internal/metadata"
	"github.com/ManuGH/samplr/internal/queue"
	"github.com/ManuGH/samplr/internal/sample"
	"github.com/ManuGH/samplr/internal/storage"
	"github.com/ManuGH/samplr/internal/store"
	"github.com/rs/zerolog"
)

// Job kinds.
const (
	KindTranscode         queue.Kind = "transcode"
	KindDownloadTranscode queue.Kind = "download_transcode"
	KindGenerateWaveform  queue.Kind = "generate_waveform"
	KindPublish           queue.Kind = "publish"
)

// Payload keys.
const (
	PayloadInput = "input"
	PayloadURL   = "url"
)

// Submitter accepts chains.
type Submitter interface {
	SubmitChain(ctx context.Context, chain queue.Chain) (*queue.Handle, error)
}

// Prober probes and downloads remote media.
type Prober interface {
	Probe(ctx context.Context, url string) (metadata.ProbeResult, error)
	Download(ctx context.Context, url, dest string) error
}

// Transcoder produces the canonical audio artifact.
type Transcoder interface {
	Transcode(ctx context.Context, input, sampleID string) (string, error)
}

// WaveformGenerator produces the waveform artifact.
type WaveformGenerator interface {
	Generate(ctx context.Context, audio, sampleID string) (string, error)
}

// ThumbnailFetcher stores a remote thumbnail.
type ThumbnailFetcher interface {
	Fetch(ctx context.Context, url, sampleID string) (string, error)
}

// UploadPolicy bounds local uploads.
type UploadPolicy struct {
	MaxBytes     int64
	AllowedTypes []string
}

// DefaultUploadPolicy returns the stock upload limits.
func DefaultUploadPolicy() UploadPolicy {
	return UploadPolicy{
		MaxBytes:     10 << 20,
		AllowedTypes: []string{"audio/mpeg", "audio/mp3", "audio/wav", "audio/ogg"},
	}
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Store      store.Store
	Storage    *storage.Local
	Queue      Submitter
	Prober     Prober
	Validator  *metadata.Validator
	Transcoder Transcoder
	Waveforms  WaveformGenerator
	// Thumbnails is optional.
	Thumbnails ThumbnailFetcher
	Upload     UploadPolicy
	Now        func() time.Time
}

// Orchestrator is the policy layer between callers, the store and the
// scheduler.
type Orchestrator struct {
	store      store.Store
	storage    *storage.Local
	queue      Submitter
	prober     Prober
	validator  *metadata.Validator
	transcoder Transcoder
	waveforms  WaveformGenerator
	thumbnails ThumbnailFetcher
	upload     UploadPolicy
	now        func() time.Time
	logger     zerolog.Logger
}

// New creates an Orchestrator.
func New(d Deps) (*Orchestrator, error) {
	switch {
	case d.Store == nil:
		return nil, errors.New("pipeline: store is required")
	case d.Storage == nil:
		return nil, errors.New("pipeline: storage is required")
	case d.Queue == nil:
		return nil, errors.New("pipeline: queue is required")
	case d.Transcoder == nil || d.Waveforms == nil:
		return nil, errors.New("pipeline: transcoder and waveform generator are required")
	}
	if d.Validator == nil {
		d.Validator = metadata.NewValidator(metadata.DefaultPolicy())
	}
	def := DefaultUploadPolicy()
	if d.Upload.MaxBytes <= 0 {
		d.Upload.MaxBytes = def.MaxBytes
	}
	if len(d.Upload.AllowedTypes) == 0 {
		d.Upload.AllowedTypes = def.AllowedTypes
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Orchestrator{
		store:      d.Store,
		storage:    d.Storage,
		queue:      d.Queue,
		prober:     d.Prober,
		validator:  d.Validator,
		transcoder: d.Transcoder,
		waveforms:  d.Waveforms,
		thumbnails: d.Thumbnails,
		upload:     d.Upload,
		now:        d.Now,
		logger:     xglog.WithComponent("pipeline"),
	}, nil
}

// Register installs the link handlers and the failure hook on s.
func (o *Orchestrator) Register(s *queue.Scheduler) {
	s.Register(KindTranscode, o.Transcode)
	s.Register(KindDownloadTranscode, o.DownloadTranscode)
	s.Register(KindGenerateWaveform, o.GenerateWaveform)
	s.Register(KindPublish, o.Publish)
	s.SetFailureHook(o.OnChainFailed)
}

// Get returns the current state of a sample.
func (o *Orchestrator) Get(ctx context.Context, id string) (*sample.Sample, error) {
	return o.store.Get(ctx, id)
}

// OnChainFailed marks the chain's sample failed. The sample stays private.
func (o *Orchestrator) OnChainFailed(ctx context.Context, chain queue.Chain, link int, f queue.Failure) {
	logger := xglog.WithContext(ctx, o.logger).With().
		Int(xglog.FieldLink, link).
		Str("failure_kind", f.Kind).
		Logger()
	if link >= 0 && link < len(chain.Links) {
		logger = logger.With().Str(xglog.FieldJobKind, string(chain.Links[link].Kind)).Logger()
	}

	// the state may move concurrently only through this chain, so a few
	// attempts settle it
	for attempt := 0; attempt < 3; attempt++ {
		smp, err := o.store.Get(ctx, chain.SampleID)
		if err != nil {
			logger.Error().Err(err).Msg("load sample of failed chain")
			return
		}
		if smp.State.Terminal() {
			logger.Warn().Str("state", string(smp.State)).Msg("failed chain targets a terminal sample")
			return
		}
		ok, err := o.store.Transition(ctx, smp.ID, smp.State, sample.StateFailed)
		if err != nil {
			logger.Error().Err(err).Msg("mark sample failed")
			return
		}
		if ok {
			logger.Warn().
				Str(xglog.FieldEvent, "sample.failed").
				Str(xglog.FieldOldState, string(smp.State)).
				Str(xglog.FieldNewState, string(sample.StateFailed)).
				Str("detail", f.Detail).
				Msg("sample processing failed")
			return
		}
	}
	logger.Error().Msg("could not mark sample failed")
}

// submit queues the chain for a freshly created sample. When the queue
// refuses, the sample is marked failed and the returned error matches
// queue.ErrQueueUnavailable.
func (o *Orchestrator) submit(ctx context.Context, smp *sample.Sample, chain queue.Chain, cleanup string) error {
	logger := xglog.WithContext(ctx, o.logger).With().Str(xglog.FieldSampleID, smp.ID).Logger()
	h, err := o.queue.SubmitChain(ctx, chain)
	if err == nil {
		logger.Info().
			Str(xglog.FieldChainID, h.ChainID).
			Int("links", len(chain.Links)).
			Msg("chain submitted")
		return nil
	}

	logger.Warn().Err(err).Msg("chain rejected")
	// the request may be gone; the bookkeeping must still happen
	bg := context.WithoutCancel(ctx)
	if _, terr := o.store.Transition(bg, smp.ID, sample.StatePending, sample.StateFailed); terr != nil {
		logger.Error().Err(terr).Msg("mark rejected sample failed")
	}
	if cleanup != "" {
		if rerr := o.storage.Remove(cleanup); rerr != nil {
			logger.Warn().Err(rerr).Str(xglog.FieldPath, cleanup).Msg("remove rejected upload")
		}
	}
	return fmt.Errorf("pipeline: submit chain: %w", err)
}
