// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package log provides structured logging utilities.
package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	sampleIDKey  ctxKey = "sample_id"
	chainIDKey   ctxKey = "chain_id"
)

func withValue(ctx context.Context, key ctxKey, v string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key, v)
}

func valueFrom(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// ContextWithRequestID stores the provided request ID in the context.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return withValue(ctx, requestIDKey, id)
}

// ContextWithSampleID stores the sample a unit of work belongs to.
func ContextWithSampleID(ctx context.Context, id string) context.Context {
	return withValue(ctx, sampleIDKey, id)
}

// ContextWithChainID stores the chain a unit of work belongs to.
func ContextWithChainID(ctx context.Context, id string) context.Context {
	return withValue(ctx, chainIDKey, id)
}

// RequestIDFromContext extracts the request ID from context if present.
func RequestIDFromContext(ctx context.Context) string {
	return valueFrom(ctx, requestIDKey)
}

// SampleIDFromContext extracts the sample ID from context if present.
func SampleIDFromContext(ctx context.Context) string {
	return valueFrom(ctx, sampleIDKey)
}

// ChainIDFromContext extracts the chain ID from context if present.
func ChainIDFromContext(ctx context.Context) string {
	return valueFrom(ctx, chainIDKey)
}

// WithContext enriches the supplied logger with correlation fields from context.
func WithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return logger
	}
	builder := logger.With()
	added := false
	if rid := RequestIDFromContext(ctx); rid != "" {
		builder = builder.Str(FieldRequestID, rid)
		added = true
	}
	if sid := SampleIDFromContext(ctx); sid != "" {
		builder = builder.Str(FieldSampleID, sid)
		added = true
	}
	if cid := ChainIDFromContext(ctx); cid != "" {
		builder = builder.Str(FieldChainID, cid)
		added = true
	}
	if !added {
		return logger
	}
	return builder.Logger()
}

// WithComponentFromContext returns a logger that is annotated with the component
// name and enriched with correlation fields from ctx.
func WithComponentFromContext(ctx context.Context, component string) zerolog.Logger {
	return WithContext(ctx, WithComponent(component))
}

// FromContext returns a logger from the context, or the base logger if not present.
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		l := Base()
		return &l
	}
	l := zerolog.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		// If no logger is in the context, return the base logger.
		b := Base()
		return &b
	}
	return l
}
