// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package exttool

import (
	"context"
	"sync"
)

// FakeRunner is a scripted Runner for tests in dependent packages.
type FakeRunner struct {
	mu    sync.Mutex
	calls []Spec
	// Fn produces the result for each call. Writes to spec.Stdout are
	// allowed. A nil Fn yields a zero Result.
	Fn func(ctx context.Context, spec Spec) (Result, error)
}

// Run records the call and delegates to Fn.
func (f *FakeRunner) Run(ctx context.Context, spec Spec) (Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, spec)
	fn := f.Fn
	f.mu.Unlock()
	if fn == nil {
		return Result{}, nil
	}
	return fn(ctx, spec)
}

// Calls returns a copy of the recorded invocations.
func (f *FakeRunner) Calls() []Spec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Spec(nil), f.calls...)
}
