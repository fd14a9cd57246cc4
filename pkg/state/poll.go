// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"context"
	"time"

	"github.com/miguelgila/reaper/pkg/types"
)

// PollInterval is the period between state-file re-reads used by
// PollContainerPid and PollStopped.
const PollInterval = 100 * time.Millisecond

// PollContainerPid polls the container's state file until Pid is
// populated or ctx is done, returning the observed pid (0 on timeout).
// Used by the shim's Start to discover the workload pid the daemon
// writes asynchronously; the caller bounds the wait through ctx.
func PollContainerPid(ctx context.Context, p Paths) (int, error) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		cs, err := LoadContainer(p)
		if err == nil && cs.Pid != 0 {
			return cs.Pid, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

// PollExecPid is PollContainerPid's exec-record counterpart.
func PollExecPid(ctx context.Context, p Paths, execID string) (int, error) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		es, err := LoadExec(p, execID)
		if err == nil && es.Pid != 0 {
			return es.Pid, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

// PollStopped polls the container's state file until status is
// "stopped", returning the stopped record (ExitCode is always set).
// Used by the shim's Wait, whose
// caller-supplied timeout is long (an hour) to accommodate
// long-running or interactive sessions.
func PollStopped(ctx context.Context, p Paths) (*ContainerState, error) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		cs, err := LoadContainer(p)
		if err == nil && cs.Status == types.StatusStopped && cs.ExitCode != nil {
			return cs, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// PollExecStopped is PollStopped's exec-record counterpart.
func PollExecStopped(ctx context.Context, p Paths, execID string) (*ExecState, error) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		es, err := LoadExec(p, execID)
		if err == nil && es.Status == types.StatusStopped && es.ExitCode != nil {
			return es, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
