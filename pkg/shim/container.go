// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

package shim

import (
	"sync"
	"time"

	task "github.com/containerd/containerd/api/types/task"

	"github.com/miguelgila/reaper/pkg/state"
	"github.com/miguelgila/reaper/pkg/types"
)

// statusFromTypes maps a pkg/state/types.Status onto the containerd
// task.Status enum the TTRPC State response carries.
func statusFromTypes(s types.Status) task.Status {
	switch s {
	case types.StatusCreated:
		return task.StatusCreated
	case types.StatusRunning:
		return task.StatusRunning
	case types.StatusStopped:
		return task.StatusStopped
	default:
		return task.StatusUnknown
	}
}

// process is the shim's in-memory record of either a container's init
// process or one of its execs. The authoritative record lives in
// state.ContainerState/ExecState on disk (pkg/state), which State and
// Pids re-read on every call; this struct keeps the pid and exit
// details Start and Wait last observed, the whole state of an
// in-memory-only sandbox, and the exitCh a sandbox Wait blocks on.
type process struct {
	id     string
	bundle string

	stdin    string
	stdout   string
	stderr   string
	terminal bool

	mu       sync.Mutex
	status   task.Status
	pid      uint32
	exitCode uint32
	exitedAt time.Time

	exitCh chan uint32
}

// container tracks one shim-managed container and its execs: exactly
// one container per Create call, since the shim process itself is the
// per-container unit in containerd's Runtime v2 model. Pause
// containers are flagged via isSandbox and bookkept purely in memory;
// everything else is backed by runtime-cli state on disk.
type container struct {
	id     string
	bundle string

	k8sNamespace string
	isSandbox    bool

	init *process

	execsMu sync.Mutex
	execs   map[string]*process

	paths state.Paths
}

func newContainer(id, bundle, k8sNamespace string, isSandbox bool, paths state.Paths, stdin, stdout, stderr string, terminal bool) *container {
	return &container{
		id:           id,
		bundle:       bundle,
		k8sNamespace: k8sNamespace,
		isSandbox:    isSandbox,
		paths:        paths,
		execs:        make(map[string]*process),
		init: &process{
			id:       id,
			bundle:   bundle,
			stdin:    stdin,
			stdout:   stdout,
			stderr:   stderr,
			terminal: terminal,
			status:   task.StatusCreated,
			exitCh:   make(chan uint32, 1),
		},
	}
}

func (c *container) getExec(execID string) (*process, bool) {
	c.execsMu.Lock()
	defer c.execsMu.Unlock()
	p, ok := c.execs[execID]
	return p, ok
}

func (c *container) addExec(execID string, p *process) {
	c.execsMu.Lock()
	defer c.execsMu.Unlock()
	c.execs[execID] = p
}

func (c *container) removeExec(execID string) {
	c.execsMu.Lock()
	defer c.execsMu.Unlock()
	delete(c.execs, execID)
}

func (p *process) setStatus(s task.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = s
}

func (p *process) getStatus() task.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *process) setPid(pid uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pid = pid
}

func (p *process) getPid() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

func (p *process) setExited(code uint32, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = task.StatusStopped
	p.exitCode = code
	p.exitedAt = at
}

func (p *process) snapshot() (status task.Status, pid, exitCode uint32, exitedAt time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, p.pid, p.exitCode, p.exitedAt
}
