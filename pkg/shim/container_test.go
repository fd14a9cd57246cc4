// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

package shim

import (
	"testing"
	"time"

	"github.com/containerd/containerd/api/types/task"
	"github.com/stretchr/testify/assert"

	"github.com/miguelgila/reaper/pkg/state"
	"github.com/miguelgila/reaper/pkg/types"
)

func TestStatusFromTypesMapsAllStates(t *testing.T) {
	assert.Equal(t, task.StatusCreated, statusFromTypes(types.StatusCreated))
	assert.Equal(t, task.StatusRunning, statusFromTypes(types.StatusRunning))
	assert.Equal(t, task.StatusStopped, statusFromTypes(types.StatusStopped))
	assert.Equal(t, task.StatusUnknown, statusFromTypes(types.Status("bogus")))
}

func TestProcessSetAndSnapshot(t *testing.T) {
	p := &process{status: task.StatusCreated, exitCh: make(chan uint32, 1)}

	p.setPid(42)
	p.setStatus(task.StatusRunning)
	assert.Equal(t, uint32(42), p.getPid())
	assert.Equal(t, task.StatusRunning, p.getStatus())

	now := time.Now()
	p.setExited(7, now)

	status, pid, exitCode, exitedAt := p.snapshot()
	assert.Equal(t, task.StatusStopped, status)
	assert.Equal(t, uint32(42), pid)
	assert.Equal(t, uint32(7), exitCode)
	assert.Equal(t, now, exitedAt)
}

func TestContainerExecLifecycle(t *testing.T) {
	c := newContainer("c1", "/bundles/c1", "default", false, state.Paths{}, "", "", "", false)

	_, ok := c.getExec("e1")
	assert.False(t, ok)

	c.addExec("e1", &process{id: "e1", exitCh: make(chan uint32, 1)})
	p, ok := c.getExec("e1")
	assert.True(t, ok)
	assert.Equal(t, "e1", p.id)

	c.removeExec("e1")
	_, ok = c.getExec("e1")
	assert.False(t, ok)
}

func TestNewContainerSeedsInitProcess(t *testing.T) {
	c := newContainer("c2", "/bundles/c2", "", true, state.Paths{}, "in", "out", "err", true)
	assert.True(t, c.isSandbox)
	assert.Equal(t, task.StatusCreated, c.init.status)
	assert.Equal(t, "in", c.init.stdin)
	assert.True(t, c.init.terminal)
}
