// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

package ioplane

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStdioPathsEmpty(t *testing.T) {
	assert.True(t, StdioPaths{}.Empty())
	assert.False(t, StdioPaths{Stdout: "/tmp/x"}.Empty())
}

// TestOpenPipeIOFallsBackOnMissingFifo exercises the graceful
// degradation rule: a FIFO path that cannot be opened (here, one that
// was never created on disk) must not abort the whole open, only that
// one stream.
func TestOpenPipeIOFallsBackOnMissingFifo(t *testing.T) {
	dir := t.TempDir()
	paths := StdioPaths{
		Stdin:  filepath.Join(dir, "no-such-stdin"),
		Stdout: filepath.Join(dir, "no-such-stdout"),
		Stderr: filepath.Join(dir, "no-such-stderr"),
	}

	pio, err := OpenPipeIO(context.Background(), paths)
	require.NoError(t, err)
	require.NotNil(t, pio)
	assert.Nil(t, pio.Stdin())
	assert.Nil(t, pio.Stdout())
	assert.Nil(t, pio.Stderr())
}

func TestOpenPipeIOOpensRealFifos(t *testing.T) {
	dir := t.TempDir()
	stdoutPath := filepath.Join(dir, "stdout")
	require.NoError(t, syscall.Mkfifo(stdoutPath, 0600))

	// Attach a reader the way containerd would. OpenPipeIO's O_RDWR open
	// does not wait for it; the reader's own blocking open completes
	// once that write side exists.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		f, err := os.OpenFile(stdoutPath, os.O_RDONLY, 0)
		if err == nil {
			f.Close()
		}
	}()

	pio, err := OpenPipeIO(context.Background(), StdioPaths{Stdout: stdoutPath})
	require.NoError(t, err)
	require.NotNil(t, pio.Stdout())
	require.NoError(t, pio.Close())
	<-readerDone
}

func TestPipeIOCloseToleratesNilEndpoints(t *testing.T) {
	pio := &PipeIO{}
	assert.NoError(t, pio.Close())
}
