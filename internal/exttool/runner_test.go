// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

package exttool

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func shRunner(t *testing.T) *ExecRunner {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return NewExecRunner(map[string]string{"sh": sh}, 5*time.Second)
}

func TestRun_CapturesStdoutAndExitCode(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	r := shRunner(t)

	res, err := r.Run(context.Background(), Spec{Binary: "sh", Args: []string{"-c", "printf hello; echo oops >&2; exit 3"}})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "hello", string(res.Stdout))
	assert.Equal(t, "oops", res.Stderr)
	assert.False(t, res.OK())

	te, ok := AsToolError(res.Err("sh"))
	require.True(t, ok)
	assert.Equal(t, 3, te.ExitCode)
	assert.Contains(t, te.Error(), "oops")
}

func TestRun_SuccessHasNoError(t *testing.T) {
	r := shRunner(t)
	res, err := r.Run(context.Background(), Spec{Binary: "sh", Args: []string{"-c", "true"}})
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.NoError(t, res.Err("sh"))
}

func TestRun_StreamsToWriter(t *testing.T) {
	r := shRunner(t)
	var out bytes.Buffer
	res, err := r.Run(context.Background(), Spec{Binary: "sh", Args: []string{"-c", "printf streamed"}, Stdout: &out})
	require.NoError(t, err)
	assert.Empty(t, res.Stdout)
	assert.Equal(t, "streamed", out.String())
}

func TestRun_RejectsUnknownBinary(t *testing.T) {
	r := shRunner(t)
	_, err := r.Run(context.Background(), Spec{Binary: "rm", Args: []string{"-rf", "/"}})
	assert.ErrorIs(t, err, ErrBinaryNotAllowed)
}

func TestRun_TimeoutIsOrdinaryFailure(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	r := shRunner(t)

	// the backgrounded sleep must die with the group
	res, err := r.Run(context.Background(), Spec{
		Binary:  "sh",
		Args:    []string{"-c", "sleep 30 & sleep 30"},
		Timeout: 200 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Less(t, res.Duration, 10*time.Second)
	assert.True(t, errors.Is(res.Err("sh"), ErrTimeout))
}

func TestRun_ParentCancelReturnsContextError(t *testing.T) {
	r := shRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	_, err := r.Run(ctx, Spec{Binary: "sh", Args: []string{"-c", "sleep 30"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_StdoutIsBounded(t *testing.T) {
	r := shRunner(t)
	r.MaxStdout = 16
	res, err := r.Run(context.Background(), Spec{Binary: "sh", Args: []string{"-c", "printf '" + strings.Repeat("x", 64) + "'"}})
	require.NoError(t, err)
	assert.Len(t, res.Stdout, 16)
	assert.True(t, res.StdoutTruncated)
}
