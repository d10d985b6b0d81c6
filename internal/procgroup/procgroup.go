// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup spawns external tools as process-group leaders so that a
// timed-out tool is reaped together with every child it forked.
package procgroup

import (
	"os/exec"
	"syscall"
)

// Cancel returns an exec.Cmd.Cancel hook that SIGKILLs the whole group.
// Mandatory: the command MUST have been configured with Set.
func Cancel(cmd *exec.Cmd) func() error {
	return func() error {
		return Kill(cmd, syscall.SIGKILL)
	}
}
