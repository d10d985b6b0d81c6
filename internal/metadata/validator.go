// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metadata decides whether a remote media probe result may become a
// sample, and derives the sample fields from it.
package metadata

import (
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ManuGH/samplr/internal/validate"
)

// FieldURL is the caller-facing field validation errors are keyed on.
const FieldURL = "url"

const (
	MsgNotFound   = "no information could be found for this URL"
	MsgNotAllowed = "information was found but the site is not explicitly allowed"
	MsgTooLong    = "the sample must be shorter than 5 minutes"

	descriptionTemplate = "Source: %s (%s)"
)

// Accepted is the sanitized outcome of a successful validation.
type Accepted struct {
	Name         string
	Description  string
	Extractor    string
	WebpageURL   string
	Duration     time.Duration
	Tags         []string
	ThumbnailURL string
}

// Validator applies the current Policy. The policy can be swapped at any
// time; each call observes one consistent snapshot.
type Validator struct {
	policy atomic.Pointer[Policy]
}

// NewValidator creates a Validator with p.
func NewValidator(p Policy) *Validator {
	v := &Validator{}
	v.SetPolicy(p)
	return v
}

// SetPolicy replaces the active policy.
func (v *Validator) SetPolicy(p Policy) {
	cp := p
	cp.TrustedExtractors = append([]string(nil), p.TrustedExtractors...)
	v.policy.Store(&cp)
}

// Policy returns the active policy.
func (v *Validator) Policy() Policy {
	return *v.policy.Load()
}

// Validate runs the ordered rules. The first failing rule determines the
// returned validate.ValidationError.
func (v *Validator) Validate(pr ProbeResult) (Accepted, error) {
	p := v.policy.Load()

	extractor := strings.ToLower(deref(pr.Extractor))
	if extractor == "" {
		extractor = strings.ToLower(deref(pr.ExtractorKey))
	}

	// untrusted sources must declare a duration
	if !p.trusted(extractor) && pr.Duration == nil {
		return Accepted{}, validate.Fail(FieldURL, MsgNotAllowed, extractor)
	}

	// the duration bounds apply to every source; no duration means unbounded media
	if pr.Duration == nil {
		return Accepted{}, validate.Fail(FieldURL, MsgTooLong, nil)
	}
	d := *pr.Duration
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return Accepted{}, validate.Fail(FieldURL, MsgTooLong, d)
	}
	dur := time.Duration(d * float64(time.Second))
	if dur < p.MinDuration || dur >= p.MaxDuration {
		return Accepted{}, validate.Fail(FieldURL, MsgTooLong, d)
	}

	name := deref(pr.AltTitle)
	if name == "" {
		name = deref(pr.Title)
	}
	name = strings.TrimSpace(name)
	webpage := deref(pr.WebpageURL)

	return Accepted{
		Name:         name,
		Description:  fmt.Sprintf(descriptionTemplate, webpage, extractor),
		Extractor:    extractor,
		WebpageURL:   webpage,
		Duration:     dur,
		Tags:         NormalizeTags(pr.Tags, p.MaxTags, p.MaxTagRunes),
		ThumbnailURL: deref(pr.Thumbnail),
	}, nil
}
