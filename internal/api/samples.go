// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	xglog "github.com/ManuGH/samplr/internal/log"
	"github.com/ManuGH/samplr/internal/pipeline"
	"github.com/ManuGH/samplr/internal/sample"
	"github.com/ManuGH/samplr/internal/store"
	"github.com/ManuGH/samplr/internal/validate"
	"github.com/go-chi/chi/v5"
)

// multipart framing allowance on top of the audio limit
const multipartOverhead = 1 << 20

type ownerKey struct{}

func ownerFrom(ctx context.Context) string {
	v, _ := ctx.Value(ownerKey{}).(string)
	return v
}

// requireOwner rejects ingestion without an X-Owner-ID header.
func requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := strings.TrimSpace(r.Header.Get(HeaderOwnerID))
		if owner == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing " + HeaderOwnerID + " header"})
			return
		}
		ctx := context.WithValue(r.Context(), ownerKey{}, owner)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// handleUpload streams the "audio" part of a multipart body to the pipeline.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mt != "multipart/form-data" {
		writeJSON(w, http.StatusUnsupportedMediaType, errorBody{Error: "expected multipart/form-data"})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+multipartOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.writeBodyError(w, err)
			return
		}
		if part.FormName() != pipeline.FieldAudio {
			_ = part.Close()
			continue
		}
		smp, err := s.samples.IngestUpload(r.Context(), pipeline.UploadRequest{
			OwnerID:  ownerFrom(r.Context()),
			Filename: part.FileName(),
			Body:     part,
		})
		_ = part.Close()
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, smp)
		return
	}
	s.writeServiceError(w, r, validate.Fail(pipeline.FieldAudio, "the audio field is required", nil))
}

type urlRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleURL(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	var req urlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBodyError(w, err)
		return
	}
	smp, err := s.samples.IngestURL(r.Context(), pipeline.URLRequest{
		OwnerID: ownerFrom(r.Context()),
		URL:     req.URL,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, smp)
}

// handleGet returns a sample. Private samples are visible to their owner only.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	smp, err := s.samples.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "sample not found"})
			return
		}
		s.writeServiceError(w, r, err)
		return
	}
	if smp.Visibility != sample.VisibilityPublic && r.Header.Get(HeaderOwnerID) != smp.OwnerID {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "sample not found"})
		return
	}
	writeJSON(w, http.StatusOK, smp)
}

func (s *Server) writeBodyError(w http.ResponseWriter, err error) {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "request body too large"})
		return
	}
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	switch status {
	case http.StatusUnprocessableEntity:
		ve, _ := validate.AsValidationError(err)
		writeJSON(w, status, validationBody{Errors: ve.Fields()})
		return
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", retryAfterSeconds)
	case http.StatusRequestEntityTooLarge:
		writeJSON(w, status, errorBody{Error: "request body too large"})
		return
	}
	logger := xglog.WithContext(r.Context(), s.logger)
	logger.Error().Err(err).Int("status", status).Msg("ingestion failed")
	writeJSON(w, status, errorBody{Error: http.StatusText(status)})
}
