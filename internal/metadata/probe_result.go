// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metadata

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ProbeResult is the untrusted metadata printed by the downloader for a
// remote URL. Every field is optional; presence is never assumed.
type ProbeResult struct {
	Extractor    *string  `json:"extractor,omitempty"`
	ExtractorKey *string  `json:"extractor_key,omitempty"`
	Duration     *float64 `json:"duration,omitempty"`
	Title        *string  `json:"title,omitempty"`
	AltTitle     *string  `json:"alt_title,omitempty"`
	WebpageURL   *string  `json:"webpage_url,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Thumbnail    *string  `json:"thumbnail,omitempty"`
}

// ErrMalformedProbe is returned when the payload is not a JSON object of the
// expected shape.
var ErrMalformedProbe = errors.New("malformed probe result")

// DecodeProbeResult decodes one JSON object. Unknown fields are ignored
// because the downloader prints dozens of them; known fields with the wrong
// JSON type are an error. A null tags list or nulls inside it are dropped.
func DecodeProbeResult(data []byte) (ProbeResult, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return ProbeResult{}, fmt.Errorf("%w: not a JSON object", ErrMalformedProbe)
	}

	var raw struct {
		Extractor    *string   `json:"extractor"`
		ExtractorKey *string   `json:"extractor_key"`
		Duration     *float64  `json:"duration"`
		Title        *string   `json:"title"`
		AltTitle     *string   `json:"alt_title"`
		WebpageURL   *string   `json:"webpage_url"`
		Tags         []*string `json:"tags"`
		Thumbnail    *string   `json:"thumbnail"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		return ProbeResult{}, fmt.Errorf("%w: %v", ErrMalformedProbe, err)
	}
	if dec.More() {
		return ProbeResult{}, fmt.Errorf("%w: trailing data", ErrMalformedProbe)
	}

	res := ProbeResult{
		Extractor:    nonEmpty(raw.Extractor),
		ExtractorKey: nonEmpty(raw.ExtractorKey),
		Duration:     raw.Duration,
		Title:        nonEmpty(raw.Title),
		AltTitle:     nonEmpty(raw.AltTitle),
		WebpageURL:   nonEmpty(raw.WebpageURL),
		Thumbnail:    nonEmpty(raw.Thumbnail),
	}
	for _, tag := range raw.Tags {
		if tag != nil {
			res.Tags = append(res.Tags, *tag)
		}
	}
	return res, nil
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
