// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metadata

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeProbeResult(t *testing.T) {
	data := []byte(`{
		"id": "abc", "formats": [{"format_id": "140"}],
		"extractor": "youtube", "extractor_key": "Youtube",
		"duration": 42.5, "title": "Loop", "alt_title": "",
		"webpage_url": "https://youtube.com/watch?v=abc",
		"tags": ["a", null, "b"], "thumbnail": null
	}`)

	got, err := DecodeProbeResult(data)
	require.NoError(t, err)

	want := ProbeResult{
		Extractor:    ptr("youtube"),
		ExtractorKey: ptr("Youtube"),
		Duration:     ptr(42.5),
		Title:        ptr("Loop"),
		WebpageURL:   ptr("https://youtube.com/watch?v=abc"),
		Tags:         []string{"a", "b"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("DecodeProbeResult mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeProbeResult_Rejects(t *testing.T) {
	for name, in := range map[string]string{
		"empty":         "",
		"array":         `[{"title":"x"}]`,
		"garbage":       "ERROR: Unsupported URL",
		"wrong type":    `{"duration": "long"}`,
		"trailing data": `{"title":"a"} {"title":"b"}`,
		"truncated":     `{"title":"a"`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeProbeResult([]byte(in))
			assert.ErrorIs(t, err, ErrMalformedProbe)
		})
	}
}

func TestDecodeProbeResult_RoundTripsThroughJSON(t *testing.T) {
	in := ProbeResult{Extractor: ptr("soundcloud"), Duration: ptr(3.0), Tags: []string{"x"}}
	data, err := json.Marshal(in)
	require.NoError(t, err)

	out, err := DecodeProbeResult(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
