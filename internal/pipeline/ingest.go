// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	xglog "github.com/ManuGH/samplr/internal/log"
	"github.com/ManuGH/samplr/internal/media/probe"
	"github.com/ManuGH/samplr/internal/metadata"
	"github.com/ManuGH/samplr/internal/metrics"
	"github.com/ManuGH/samplr/internal/queue"
	"github.com/ManuGH/samplr/internal/sample"
	"github.com/ManuGH/samplr/internal/storage"
	"github.com/ManuGH/samplr/internal/store"
	"github.com/ManuGH/samplr/internal/telemetry"
	"github.com/ManuGH/samplr/internal/validate"
	"github.com/gabriel-vasile/mimetype"
	"go.opentelemetry.io/otel/attribute"
)

// FieldAudio is the caller-facing field of upload validation errors.
const FieldAudio = "audio"

const untitled = "untitled"

// UploadRequest is a local file upload.
type UploadRequest struct {
	OwnerID  string
	Filename string
	Body     io.Reader
}

// URLRequest asks for a remote media URL to be ingested.
type URLRequest struct {
	OwnerID string
	URL     string
}

// TempUploadPath is the logical location of a raw upload.
func TempUploadPath(sampleID string, unix int64, ext string) string {
	return storage.Join("temp", fmt.Sprintf("%s_audio_%d.%s", sampleID, unix, ext))
}

// TempDownloadPath is the logical location of a remote download.
func TempDownloadPath(sampleID string) string {
	return storage.Join("temp", sampleID+"_download")
}

// IngestUpload validates and stores an upload, creates the sample and
// submits [Transcode, GenerateWaveform, Publish]. Validation failures are
// returned as validate.ValidationError before anything is created.
func (o *Orchestrator) IngestUpload(ctx context.Context, req UploadRequest) (*sample.Sample, error) {
	ctx, span := telemetry.Tracer("samplr/pipeline").Start(ctx, "pipeline.ingest_upload")
	defer span.End()
	span.SetAttributes(attribute.String(telemetry.IngestSource, "upload"))

	smp, err := o.ingestUpload(ctx, req)
	o.countIngest("upload", err)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String(telemetry.SampleIDKey, smp.ID))
	return smp, nil
}

func (o *Orchestrator) ingestUpload(ctx context.Context, req UploadRequest) (*sample.Sample, error) {
	if req.Body == nil {
		return nil, validate.Fail(FieldAudio, "the audio field is required", nil)
	}
	data, err := io.ReadAll(io.LimitReader(req.Body, o.upload.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("pipeline: read upload: %w", err)
	}
	v := validate.New()
	switch {
	case len(data) == 0:
		v.AddError(FieldAudio, "the audio field is required", req.Filename)
	case int64(len(data)) > o.upload.MaxBytes:
		v.AddError(FieldAudio, fmt.Sprintf("the audio may not be greater than %d kilobytes", o.upload.MaxBytes>>10), req.Filename)
	}
	if err := v.Err(); err != nil {
		return nil, err
	}
	mt := mimetype.Detect(data)
	if !o.allowedType(mt) {
		return nil, validate.Fail(FieldAudio,
			"the audio must be a file of type: "+strings.Join(o.upload.AllowedTypes, ", "), mt.String())
	}

	smp, err := o.store.Create(ctx, store.NewSample{OwnerID: req.OwnerID, Name: displayName(req.Filename)})
	if err != nil {
		return nil, fmt.Errorf("pipeline: create sample: %w", err)
	}
	ctx = xglog.ContextWithSampleID(ctx, smp.ID)

	ext := strings.TrimPrefix(mt.Extension(), ".")
	if ext == "" {
		ext = "bin"
	}
	temp := TempUploadPath(smp.ID, o.now().Unix(), ext)
	if _, err := o.storage.Put(ctx, temp, bytes.NewReader(data)); err != nil {
		o.abort(ctx, smp.ID)
		return nil, fmt.Errorf("pipeline: store upload: %w", err)
	}

	chain := queue.NewChain(smp.ID,
		queue.Job{Kind: KindTranscode, Payload: map[string]string{PayloadInput: temp}},
		queue.Job{Kind: KindGenerateWaveform},
		queue.Job{Kind: KindPublish},
	)
	if err := o.submit(ctx, smp, chain, temp); err != nil {
		return nil, err
	}
	return smp, nil
}

func (o *Orchestrator) allowedType(mt *mimetype.MIME) bool {
	for _, t := range o.upload.AllowedTypes {
		if mt.Is(t) {
			return true
		}
	}
	return false
}

// IngestURL probes url, validates the metadata, creates the sample with the
// extracted fields and submits [DownloadTranscode, GenerateWaveform,
// Publish]. Rejections are returned as validate.ValidationError on field
// "url" and create nothing.
func (o *Orchestrator) IngestURL(ctx context.Context, req URLRequest) (*sample.Sample, error) {
	ctx, span := telemetry.Tracer("samplr/pipeline").Start(ctx, "pipeline.ingest_url")
	defer span.End()
	span.SetAttributes(attribute.String(telemetry.IngestSource, "url"))

	smp, err := o.ingestURL(ctx, req)
	o.countIngest("url", err)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String(telemetry.SampleIDKey, smp.ID))
	return smp, nil
}

func (o *Orchestrator) ingestURL(ctx context.Context, req URLRequest) (*sample.Sample, error) {
	rawURL := strings.TrimSpace(req.URL)
	v := validate.New()
	v.URL(metadata.FieldURL, rawURL, []string{"http", "https"})
	if err := v.Err(); err != nil {
		return nil, err
	}
	if o.prober == nil {
		return nil, errors.New("pipeline: remote ingestion is not configured")
	}

	logger := xglog.WithContext(ctx, o.logger).With().Str(xglog.FieldSourceURL, rawURL).Logger()
	pr, err := o.prober.Probe(ctx, rawURL)
	if err != nil {
		if probe.IsNotFound(err) {
			logger.Info().Err(err).Msg("no information for url")
			return nil, validate.Fail(metadata.FieldURL, metadata.MsgNotFound, rawURL)
		}
		return nil, fmt.Errorf("pipeline: probe: %w", err)
	}

	acc, err := o.validator.Validate(pr)
	if err != nil {
		logger.Info().Err(err).Msg("probe result rejected")
		return nil, err
	}
	name := acc.Name
	if name == "" {
		name = untitled
	}

	smp, err := o.store.Create(ctx, store.NewSample{
		OwnerID:     req.OwnerID,
		Name:        name,
		Description: acc.Description,
		SourceURL:   rawURL,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: create sample: %w", err)
	}
	ctx = xglog.ContextWithSampleID(ctx, smp.ID)
	logger = logger.With().Str(xglog.FieldSampleID, smp.ID).Str(xglog.FieldExtractor, acc.Extractor).Logger()

	if len(acc.Tags) > 0 {
		if err := o.store.AttachTags(ctx, smp.ID, acc.Tags); err != nil {
			logger.Warn().Err(err).Msg("attach tags")
		}
	}
	if acc.ThumbnailURL != "" && o.thumbnails != nil {
		o.attachThumbnail(ctx, smp.ID, acc.ThumbnailURL)
	}

	chain := queue.NewChain(smp.ID,
		queue.Job{Kind: KindDownloadTranscode, Payload: map[string]string{PayloadURL: rawURL}},
		queue.Job{Kind: KindGenerateWaveform},
		queue.Job{Kind: KindPublish},
	)
	if err := o.submit(ctx, smp, chain, ""); err != nil {
		return nil, err
	}

	// return what the store now holds, including tags and thumbnail
	fresh, err := o.store.Get(ctx, smp.ID)
	if err != nil {
		return smp, nil
	}
	return fresh, nil
}

// attachThumbnail is best-effort: failures leave the thumbnail unset.
func (o *Orchestrator) attachThumbnail(ctx context.Context, sampleID, url string) {
	logger := xglog.WithContext(ctx, o.logger)
	logical, err := o.thumbnails.Fetch(ctx, url, sampleID)
	if err != nil {
		logger.Warn().Err(err).Str("thumbnail_url", url).Msg("thumbnail skipped")
		return
	}
	if err := o.store.SetThumbnail(ctx, sampleID, logical); err != nil {
		logger.Warn().Err(err).Str(xglog.FieldPath, logical).Msg("record thumbnail")
	}
}

// abort marks a sample failed after a synchronous ingestion error.
func (o *Orchestrator) abort(ctx context.Context, sampleID string) {
	if _, err := o.store.Transition(context.WithoutCancel(ctx), sampleID, sample.StatePending, sample.StateFailed); err != nil {
		logger := xglog.WithContext(ctx, o.logger)
		logger.Error().Err(err).Msg("mark aborted sample failed")
	}
}

func (o *Orchestrator) countIngest(source string, err error) {
	outcome := "accepted"
	switch {
	case err == nil:
	case isValidation(err):
		outcome = "rejected"
	case errors.Is(err, queue.ErrQueueUnavailable):
		outcome = "unavailable"
	default:
		outcome = "error"
	}
	metrics.IncIngest(source, outcome)
}

func isValidation(err error) bool {
	_, ok := validate.AsValidationError(err)
	return ok
}

// displayName derives a sample name from a client-supplied filename.
func displayName(filename string) string {
	name := strings.TrimSpace(path.Base(strings.ReplaceAll(filename, "\\", "/")))
	if name == "" || name == "." || name == "/" {
		return untitled
	}
	return name
}
