// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Span attribute keys.
const (
	SampleIDKey  = "sample.id"
	ChainIDKey   = "chain.id"
	JobKindKey   = "job.kind"
	JobLinkKey   = "job.link"
	JobResultKey = "job.result"
	ToolKey      = "tool.binary"
	ToolExitKey  = "tool.exit_code"
	IngestSource = "ingest.source"
)

// JobAttributes describes one chain link.
func JobAttributes(sampleID, chainID, kind string, link int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(SampleIDKey, sampleID),
		attribute.String(ChainIDKey, chainID),
		attribute.String(JobKindKey, kind),
		attribute.Int(JobLinkKey, link),
	}
}

// ToolAttributes describes an external tool invocation.
func ToolAttributes(binary string, exitCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(ToolKey, binary),
		attribute.Int(ToolExitKey, exitCode),
	}
}
