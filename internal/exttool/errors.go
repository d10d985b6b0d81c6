// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package exttool

import (
	"errors"
	"fmt"
)

var (
	// ErrBinaryNotAllowed is returned when Spec.Binary is not in the allow-list.
	ErrBinaryNotAllowed = errors.New("exttool: binary not allowed")
	// ErrTimeout matches a *ToolError produced by a timed-out invocation.
	ErrTimeout = errors.New("exttool: timed out")
)

// ToolError describes an invocation that ran but did not succeed.
type ToolError struct {
	Binary   string
	ExitCode int
	Stderr   string
	TimedOut bool
}

func (e *ToolError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("%s timed out", e.Binary)
	}
	if e.Stderr == "" {
		return fmt.Sprintf("%s exited with status %d", e.Binary, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Binary, e.ExitCode, lastLine(e.Stderr))
}

// Is reports ErrTimeout for timed-out invocations.
func (e *ToolError) Is(target error) bool {
	return target == ErrTimeout && e.TimedOut
}

// AsToolError unwraps err to a *ToolError.
func AsToolError(err error) (*ToolError, bool) {
	var te *ToolError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

func lastLine(s string) string {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '\n' {
			return s[i+1:]
		}
	}
	return s
}
