// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miguelgila/reaper/pkg/types"
)

func TestSaveLoadContainerRoundTrip(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	root := t.TempDir()
	p := NewPaths(root, "c1")

	cs := &ContainerState{
		ID:        "c1",
		Bundle:    "/bundles/c1",
		Status:    types.StatusCreated,
		Stdin:     "/run/reaper/c1/stdin",
		Terminal:  true,
		CreatedAt: time.Now().Truncate(time.Second),
	}

	require.NoError(SaveContainer(p, cs))

	got, err := LoadContainer(p)
	require.NoError(err)
	assert.Equal(cs.ID, got.ID)
	assert.Equal(cs.Bundle, got.Bundle)
	assert.Equal(cs.Status, got.Status)
	assert.True(got.Terminal)
	assert.True(p.Exists())
}

func TestLoadContainerMissingFileErrors(t *testing.T) {
	p := NewPaths(t.TempDir(), "missing")
	_, err := LoadContainer(p)
	assert.Error(t, err)
	assert.False(t, p.Exists())
}

func TestAtomicWriteNeverLeavesTempFile(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	root := t.TempDir()
	p := NewPaths(root, "c2")

	require.NoError(SaveContainer(p, &ContainerState{ID: "c2", Status: types.StatusCreated}))

	entries, err := os.ReadDir(p.Dir())
	require.NoError(err)
	for _, e := range entries {
		assert.False(filepath.Ext(e.Name()) == ".tmp", "temp file left behind: %s", e.Name())
	}
}

func TestSaveLoadExecAndDelete(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	root := t.TempDir()
	p := NewPaths(root, "c3")

	es := &ExecState{
		ContainerID: "c3",
		ExecID:      "e1",
		Status:      types.StatusCreated,
		Args:        []string{"/bin/sh", "-c", "true"},
	}
	require.NoError(SaveExec(p, es))

	got, err := LoadExec(p, "e1")
	require.NoError(err)
	assert.Equal(es.Args, got.Args)

	require.NoError(DeleteExec(p, "e1"))
	_, err = LoadExec(p, "e1")
	assert.Error(err)

	// Deleting again is success.
	assert.NoError(DeleteExec(p, "e1"))
}

func TestRemoveContainerIdempotent(t *testing.T) {
	require := require.New(t)
	p := NewPaths(t.TempDir(), "c4")
	require.NoError(SaveContainer(p, &ContainerState{ID: "c4"}))
	require.NoError(RemoveContainer(p))
	assert.False(t, p.Exists())
	require.NoError(RemoveContainer(p))
}

func TestPollContainerPidObservesLateWrite(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	root := t.TempDir()
	p := NewPaths(root, "c5")
	require.NoError(SaveContainer(p, &ContainerState{ID: "c5", Status: types.StatusCreated}))

	go func() {
		time.Sleep(3 * PollInterval)
		cs, _ := LoadContainer(p)
		cs.Pid = 4242
		_ = SaveContainer(p, cs)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pid, err := PollContainerPid(ctx, p)
	require.NoError(err)
	assert.Equal(4242, pid)
}

func TestPollContainerPidTimesOut(t *testing.T) {
	root := t.TempDir()
	p := NewPaths(root, "c6")
	require.NoError(t, SaveContainer(p, &ContainerState{ID: "c6"}))

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()

	_, err := PollContainerPid(ctx, p)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPollStoppedObservesExitCode(t *testing.T) {
	require := require.New(t)
	root := t.TempDir()
	p := NewPaths(root, "c7")
	require.NoError(SaveContainer(p, &ContainerState{ID: "c7", Status: types.StatusRunning, Pid: 99}))

	go func() {
		time.Sleep(2 * PollInterval)
		code := 7
		require.NoError(SaveContainer(p, &ContainerState{
			ID: "c7", Status: types.StatusStopped, Pid: 99, ExitCode: &code, StoppedAt: time.Now(),
		}))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cs, err := PollStopped(ctx, p)
	require.NoError(err)
	require.NotNil(cs.ExitCode)
	assert.Equal(t, 7, *cs.ExitCode)
}
