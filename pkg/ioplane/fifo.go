// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

// Package ioplane wires a workload's stdio to the FIFOs or PTY that
// containerd created for it: non-blocking FIFO opens for pipe mode, a
// real PTY for console mode, and io.CopyBuffer relay loops in
// between.
package ioplane

import (
	"context"
	"io"
	"syscall"

	"github.com/containerd/fifo"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

var ioplaneLog = logrus.WithField("source", "ioplane")

// StdioPaths names the three FIFOs (or PTY request) a Create RPC
// carries for one process, mirroring the Stdin/Stdout/Stderr/Terminal
// fields on task.CreateTaskRequest.
type StdioPaths struct {
	Stdin    string
	Stdout   string
	Stderr   string
	Terminal bool
}

// Empty reports whether none of the three paths were supplied, which
// containerd uses to mean "discard this stream".
func (s StdioPaths) Empty() bool {
	return s.Stdin == "" && s.Stdout == "" && s.Stderr == ""
}

// PipeIO holds the host-side FIFO endpoints for a non-terminal
// process: we read from stdin's write side is held by the caller
// (containerd), we write stdout/stderr for the workload to read from,
// so from the daemon's point of view stdin opens read-only and
// stdout/stderr open read-write to avoid blocking on the far end not
// having opened its side yet.
type PipeIO struct {
	stdin  io.ReadCloser
	stdout io.WriteCloser
	stderr io.WriteCloser
}

// OpenPipeIO opens the FIFOs for a process's stdio in non-blocking
// mode so a reader or writer that never attaches does not wedge the
// daemon forever. Each stream is best effort: a FIFO that fails to
// open (containerd has not opened its end yet, or the path is simply
// unset) falls back to null rather than aborting the whole process
// launch, which also lets the runtime be driven directly from tests
// without containerd.
func OpenPipeIO(ctx context.Context, paths StdioPaths) (*PipeIO, error) {
	var pio PipeIO

	if paths.Stdin != "" {
		in, err := fifo.OpenFifo(ctx, paths.Stdin, syscall.O_RDONLY|syscall.O_NONBLOCK, 0)
		if err != nil {
			ioplaneLog.WithError(err).WithField("path", paths.Stdin).Warn("failed to open stdin fifo, falling back to null")
		} else {
			pio.stdin = in
		}
	}
	if paths.Stdout != "" {
		out, err := fifo.OpenFifo(ctx, paths.Stdout, syscall.O_RDWR|syscall.O_NONBLOCK, 0)
		if err != nil {
			ioplaneLog.WithError(err).WithField("path", paths.Stdout).Warn("failed to open stdout fifo, falling back to null")
		} else {
			pio.stdout = out
		}
	}
	if !paths.Terminal && paths.Stderr != "" {
		errw, err := fifo.OpenFifo(ctx, paths.Stderr, syscall.O_RDWR|syscall.O_NONBLOCK, 0)
		if err != nil {
			ioplaneLog.WithError(err).WithField("path", paths.Stderr).Warn("failed to open stderr fifo, falling back to null")
		} else {
			pio.stderr = errw
		}
	}

	return &pio, nil
}

func (p *PipeIO) Stdin() io.ReadCloser { return p.stdin }
func (p *PipeIO) Stdout() io.Writer    { return p.stdout }
func (p *PipeIO) Stderr() io.Writer    { return p.stderr }

// Close closes every endpoint that was opened, logging rather than
// aborting on individual failures since stdio teardown must never
// block Delete from completing.
func (p *PipeIO) Close() error {
	return closeAll(p.stdin, p.stdout, p.stderr)
}

func closeAll(in io.ReadCloser, out, errw io.WriteCloser) error {
	var result *multierror.Error
	if in != nil {
		if err := in.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if out != nil {
		if err := out.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if errw != nil {
		if err := errw.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
