// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldSampleID  = "sample_id"
	FieldChainID   = "chain_id"
	FieldOwnerID   = "owner_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldJobKind   = "job_kind"
	FieldLink      = "link"
	FieldBinary    = "binary"
	FieldExitCode  = "exit_code"
	FieldStderr    = "stderr"
	FieldDuration  = "duration_ms"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path / URL fields
	FieldPath      = "path"
	FieldSourceURL = "source_url"
	FieldExtractor = "extractor"
)
