// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

package shim

import (
	"os"
	"strings"
	"syscall"

	"github.com/containerd/containerd/errdefs"
)

// toGRPC maps an internal error into the grpc error containerd
// expects at the TTRPC boundary.
func toGRPC(err error) error {
	if err == nil {
		return nil
	}
	return errdefs.ToGRPC(classify(err))
}

// classify upgrades a plain error into one of errdefs' sentinel kinds
// so toGRPC picks the right status code, covering the error shapes
// pkg/state and pkg/runtimecli actually return (missing state file,
// ESRCH from a stale pid, "does not exist"/"empty"/"invalid" messages
// that runtimecli's verbs print and runCLI carries back in its error).
func classify(err error) error {
	if errdefs.IsNotFound(err) || errdefs.IsInvalidArgument(err) || errdefs.IsAlreadyExists(err) {
		return err
	}

	msg := err.Error()
	switch {
	case os.IsNotExist(err), err == syscall.ESRCH,
		strings.Contains(msg, "does not exist"), strings.Contains(msg, "not found"):
		return errdefs.ErrNotFound
	case strings.Contains(msg, "already exists"):
		return errdefs.ErrAlreadyExists
	case strings.Contains(msg, "empty"), strings.Contains(msg, "invalid"), strings.Contains(msg, "required"):
		return errdefs.ErrInvalidArgument
	}
	return err
}
