// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metadata

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Policy holds the tunable acceptance rules for remote media.
type Policy struct {
	// TrustedExtractors may omit a duration.
	TrustedExtractors []string
	// MinDuration is inclusive, MaxDuration exclusive.
	MinDuration time.Duration
	MaxDuration time.Duration
	// MaxTags and MaxTagRunes bound the normalized tag list.
	MaxTags     int
	MaxTagRunes int
}

// DefaultPolicy returns the stock acceptance rules.
func DefaultPolicy() Policy {
	return Policy{
		TrustedExtractors: []string{"youtube", "soundcloud"},
		MinDuration:       time.Second,
		MaxDuration:       5 * time.Minute,
		MaxTags:           32,
		MaxTagRunes:       64,
	}
}

// Validate checks the policy for internal consistency.
func (p Policy) Validate() error {
	if p.MinDuration < 0 {
		return errors.New("policy: min duration must not be negative")
	}
	if p.MaxDuration <= p.MinDuration {
		return fmt.Errorf("policy: max duration %s must exceed min duration %s", p.MaxDuration, p.MinDuration)
	}
	if p.MaxTags < 0 || p.MaxTagRunes < 0 {
		return errors.New("policy: tag limits must not be negative")
	}
	return nil
}

func (p Policy) trusted(extractor string) bool {
	for _, t := range p.TrustedExtractors {
		if strings.EqualFold(t, extractor) {
			return true
		}
	}
	return false
}
