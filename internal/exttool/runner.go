// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package exttool is the only place samplr spawns subprocesses.
//
// Every invocation goes through a Runner, which enforces the binary
// allow-list, applies a mandatory timeout and kills the whole process group
// when that timeout fires. A non-zero exit is reported in the Result, not as
// an error; callers translate it into their own domain failure.
package exttool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	xglog "github.com/ManuGH/samplr/internal/log"
	"github.com/ManuGH/samplr/internal/metrics"
	"github.com/ManuGH/samplr/internal/procgroup"
)

const (
	// DefaultTimeout applies when neither Spec nor ExecRunner set one.
	DefaultTimeout = 5 * time.Minute
	// DefaultMaxStdout bounds captured stdout.
	DefaultMaxStdout = 8 << 20
	// DefaultStderrLines bounds the captured stderr tail.
	DefaultStderrLines = 40

	waitDelay = 2 * time.Second
)

// Spec describes one invocation.
type Spec struct {
	// Binary is the logical tool name, e.g. "ffmpeg". It is resolved through
	// the runner's allow-list.
	Binary string
	Args   []string
	Stdin  io.Reader
	// Stdout receives the tool's standard output. When nil, output is
	// captured into Result.Stdout up to the runner's limit.
	Stdout  io.Writer
	Timeout time.Duration
	Dir     string
}

// Result is the outcome of an invocation that started.
type Result struct {
	ExitCode        int
	Stdout          []byte
	StdoutTruncated bool
	Stderr          string
	Duration        time.Duration
	TimedOut        bool
}

// OK reports a zero exit status without timeout.
func (r Result) OK() bool { return r.ExitCode == 0 && !r.TimedOut }

// Err returns a *ToolError for a failed invocation, or nil.
func (r Result) Err(binary string) error {
	if r.OK() {
		return nil
	}
	return &ToolError{Binary: binary, ExitCode: r.ExitCode, Stderr: r.Stderr, TimedOut: r.TimedOut}
}

// Runner runs external tools.
type Runner interface {
	Run(ctx context.Context, spec Spec) (Result, error)
}

// ExecRunner runs tools with os/exec.
type ExecRunner struct {
	// Binaries maps logical tool names to executable paths. Names missing
	// from the map are refused.
	Binaries    map[string]string
	Timeout     time.Duration
	MaxStdout   int
	StderrLines int
}

// NewExecRunner builds an ExecRunner for the given allow-list.
func NewExecRunner(binaries map[string]string, timeout time.Duration) *ExecRunner {
	return &ExecRunner{Binaries: binaries, Timeout: timeout}
}

// Run starts the tool and waits for it. The returned error is non-nil only
// when the tool could not be started or the parent context ended.
func (r *ExecRunner) Run(ctx context.Context, spec Spec) (Result, error) {
	path, ok := r.Binaries[spec.Binary]
	if !ok || path == "" {
		return Result{}, fmt.Errorf("%w: %q", ErrBinaryNotAllowed, spec.Binary)
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = r.Timeout
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxStdout := r.MaxStdout
	if maxStdout <= 0 {
		maxStdout = DefaultMaxStdout
	}
	stderrLines := r.StderrLines
	if stderrLines <= 0 {
		stderrLines = DefaultStderrLines
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// #nosec G204 -- binary comes from the configured allow-list
	cmd := exec.CommandContext(runCtx, path, spec.Args...)
	procgroup.Set(cmd)
	cmd.Cancel = procgroup.Cancel(cmd)
	cmd.WaitDelay = waitDelay
	cmd.Dir = spec.Dir
	cmd.Stdin = spec.Stdin

	var captured *cappedBuffer
	if spec.Stdout != nil {
		cmd.Stdout = spec.Stdout
	} else {
		captured = &cappedBuffer{limit: maxStdout}
		cmd.Stdout = captured
	}
	stderr := NewLineRing(stderrLines)
	cmd.Stderr = stderr

	logger := xglog.WithComponentFromContext(ctx, "exttool").With().
		Str(xglog.FieldBinary, spec.Binary).Logger()

	start := time.Now()
	if err := cmd.Start(); err != nil {
		metrics.ObserveTool(spec.Binary, "start_failed", 0)
		return Result{}, fmt.Errorf("start %s: %w", spec.Binary, err)
	}
	waitErr := cmd.Wait()

	res := Result{
		ExitCode: exitCode(cmd, waitErr),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if captured != nil {
		res.Stdout, res.StdoutTruncated = captured.Bytes()
	}

	switch {
	case ctx.Err() != nil:
		metrics.ObserveTool(spec.Binary, "canceled", res.Duration)
		return res, ctx.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.TimedOut = true
		metrics.ObserveTool(spec.Binary, "timeout", res.Duration)
		logger.Warn().
			Dur(xglog.FieldDuration, res.Duration).
			Dur("timeout", timeout).
			Msg("external tool timed out")
	case res.ExitCode != 0:
		metrics.ObserveTool(spec.Binary, "exit_nonzero", res.Duration)
		logger.Debug().
			Int(xglog.FieldExitCode, res.ExitCode).
			Str(xglog.FieldStderr, lastLine(res.Stderr)).
			Msg("external tool failed")
	default:
		metrics.ObserveTool(spec.Binary, "ok", res.Duration)
		logger.Debug().Dur(xglog.FieldDuration, res.Duration).Msg("external tool finished")
	}
	return res, nil
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		if code := cmd.ProcessState.ExitCode(); code >= 0 {
			return code
		}
	}
	if waitErr != nil {
		return -1
	}
	return 0
}

// cappedBuffer keeps the first limit bytes and silently discards the rest so
// the tool never blocks on a full pipe.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.limit - b.buf.Len()
	if room <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *cappedBuffer) Bytes() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.buf.Bytes()), b.truncated
}
