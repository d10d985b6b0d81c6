// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metadata

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// NormalizeTags trims, NFC-normalizes and lower-cases tags, collapses inner
// whitespace, drops empties and duplicates, truncates each tag to maxRunes
// and keeps at most maxTags. Zero limits mean unbounded.
func NormalizeTags(tags []string, maxTags, maxRunes int) []string {
	lower := cases.Lower(language.Und)
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))

	for _, raw := range tags {
		t := norm.NFC.String(raw)
		t = strings.Join(strings.FieldsFunc(t, unicode.IsSpace), " ")
		t = lower.String(t)
		if maxRunes > 0 {
			if r := []rune(t); len(r) > maxRunes {
				t = strings.TrimSpace(string(r[:maxRunes]))
			}
		}
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if maxTags > 0 && len(out) == maxTags {
			break
		}
	}
	return out
}
