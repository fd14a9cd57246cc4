// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

package shim

import (
	"context"
	"fmt"
	"time"

	eventstypes "github.com/containerd/containerd/api/events"
	"github.com/containerd/containerd/api/types/task"
	"github.com/containerd/containerd/errdefs"
	taskAPI "github.com/containerd/containerd/runtime/v2/task"
	typeurl "github.com/containerd/typeurl/v2"
	ptypes "github.com/gogo/protobuf/types"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/miguelgila/reaper/pkg/ociutils"
	"github.com/miguelgila/reaper/pkg/state"
	"github.com/miguelgila/reaper/pkg/types"
)

// startPidTimeout bounds how long Start waits for the monitoring
// daemon to publish the workload's pid into the state file.
const startPidTimeout = 2 * time.Second

// waitTimeout is the shim's own Wait budget: long enough to cover an
// interactive `kubectl exec -it` session or a long-running container.
const waitTimeout = time.Hour

// Create translates a containerd CreateTaskRequest into a runtime-cli
// `create` invocation, or, for a detected sandbox/pause container, a
// purely in-memory bookkeeping entry. containerd lifecycle-manages
// pause containers differently from regular ones, so they never touch
// the runtime CLI at all.
func (s *Service) Create(ctx context.Context, r *taskAPI.CreateTaskRequest) (_ *taskAPI.CreateTaskResponse, err error) {
	start := time.Now()
	defer func() {
		err = toGRPC(err)
		observeRPC("create", start)
	}()

	if r.ID == "" {
		return nil, errdefs.ToGRPCf(errdefs.ErrInvalidArgument, "container id is empty")
	}

	spec, err := ociutils.ParseConfigJSON(r.Bundle)
	if err != nil {
		return nil, errdefs.ToGRPCf(errdefs.ErrInvalidArgument, "parse bundle config.json: %v", err)
	}

	k8sNamespace := ociutils.KubernetesNamespace(spec)
	isSandbox := ociutils.IsSandboxContainer(spec)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.containers[r.ID]; exists {
		return nil, errdefs.ToGRPCf(errdefs.ErrAlreadyExists, "container %s already exists", r.ID)
	}

	if !isSandbox {
		// urfave/cli v1 parses with the stdlib flag package, which stops
		// at the first non-flag token: every flag must precede the
		// trailing positional <id>.
		args := []string{"create", "--bundle", r.Bundle}
		if k8sNamespace != "" {
			args = append(args, "--namespace", k8sNamespace)
		}
		if r.Stdin != "" {
			args = append(args, "--stdin", r.Stdin)
		}
		if r.Stdout != "" {
			args = append(args, "--stdout", r.Stdout)
		}
		if r.Stderr != "" {
			args = append(args, "--stderr", r.Stderr)
		}
		if r.Terminal {
			args = append(args, "--terminal")
		}
		args = append(args, r.ID)
		if _, err := s.runCLI(ctx, args...); err != nil {
			return nil, err
		}
	}

	paths := state.NewPaths(s.runtimeRoot, r.ID)
	c := newContainer(r.ID, r.Bundle, k8sNamespace, isSandbox, paths, r.Stdin, r.Stdout, r.Stderr, r.Terminal)
	s.containers[r.ID] = c
	activeContainers.Set(float64(len(s.containers)))

	s.send(&eventstypes.TaskCreate{
		ContainerID: r.ID,
		Bundle:      r.Bundle,
		Rootfs:      r.Rootfs,
		IO: &eventstypes.TaskIO{
			Stdin:    r.Stdin,
			Stdout:   r.Stdout,
			Stderr:   r.Stderr,
			Terminal: r.Terminal,
		},
		Checkpoint: r.Checkpoint,
	})

	return &taskAPI.CreateTaskResponse{Pid: 0}, nil
}

// Start runs a created container's init process, or an
// already-created exec. Sandbox containers short-circuit to a
// synthetic pid without invoking runtime-cli.
func (s *Service) Start(ctx context.Context, r *taskAPI.StartRequest) (_ *taskAPI.StartResponse, err error) {
	start := time.Now()
	defer func() {
		err = toGRPC(err)
		observeRPC("start", start)
	}()

	c, err := s.getContainer(r.ID)
	if err != nil {
		return nil, err
	}

	if c.isSandbox {
		c.init.setPid(1)
		c.init.setStatus(task.StatusRunning)
		s.send(&eventstypes.TaskStart{ContainerID: r.ID, Pid: 1})
		return &taskAPI.StartResponse{Pid: 1}, nil
	}

	if r.ExecID == "" {
		if _, err := s.runCLI(ctx, "start", r.ID); err != nil {
			return nil, err
		}

		pctx, cancel := context.WithTimeout(ctx, startPidTimeout)
		pid, err := state.PollContainerPid(pctx, c.paths)
		cancel()
		if err != nil || pid == 0 {
			return nil, errdefs.ToGRPCf(errdefs.ErrUnknown, "timed out waiting for container %s to report a pid", r.ID)
		}

		c.init.setPid(uint32(pid))
		c.init.setStatus(task.StatusRunning)
		s.send(&eventstypes.TaskStart{ContainerID: r.ID, Pid: uint32(pid)})
		return &taskAPI.StartResponse{Pid: uint32(pid)}, nil
	}

	p, ok := c.getExec(r.ExecID)
	if !ok {
		return nil, errdefs.ToGRPCf(errdefs.ErrNotFound, "exec %s does not exist", r.ExecID)
	}

	if _, err := s.runCLI(ctx, "exec", "--exec-id", r.ExecID, r.ID); err != nil {
		return nil, err
	}

	pctx, cancel := context.WithTimeout(ctx, startPidTimeout)
	pid, err := state.PollExecPid(pctx, c.paths, r.ExecID)
	cancel()
	if err != nil || pid == 0 {
		return nil, errdefs.ToGRPCf(errdefs.ErrUnknown, "timed out waiting for exec %s to report a pid", r.ExecID)
	}

	p.setPid(uint32(pid))
	p.setStatus(task.StatusRunning)
	s.send(&eventstypes.TaskExecStarted{ContainerID: r.ID, ExecID: r.ExecID, Pid: uint32(pid)})
	return &taskAPI.StartResponse{Pid: uint32(pid)}, nil
}

// State is a thin, uncached view onto the runtime's on-disk state
// file.
func (s *Service) State(ctx context.Context, r *taskAPI.StateRequest) (_ *taskAPI.StateResponse, err error) {
	start := time.Now()
	defer func() {
		err = toGRPC(err)
		observeRPC("state", start)
	}()

	c, err := s.getContainer(r.ID)
	if err != nil {
		return nil, err
	}

	if c.isSandbox {
		status, pid, exitCode, exitedAt := c.init.snapshot()
		resp := &taskAPI.StateResponse{
			ID:       r.ID,
			Bundle:   c.bundle,
			Pid:      pid,
			Status:   status,
			Terminal: c.init.terminal,
		}
		if status == task.StatusStopped {
			resp.ExitStatus = exitCode
			resp.ExitedAt = exitedAt
		}
		return resp, nil
	}

	if r.ExecID == "" {
		cs, err := state.LoadContainer(c.paths)
		if err != nil {
			return nil, errdefs.ToGRPCf(errdefs.ErrNotFound, "load state for %s: %v", r.ID, err)
		}
		resp := &taskAPI.StateResponse{
			ID:       r.ID,
			Bundle:   c.bundle,
			Pid:      uint32(cs.Pid),
			Status:   statusFromTypes(cs.Status),
			Stdin:    cs.Stdin,
			Stdout:   cs.Stdout,
			Stderr:   cs.Stderr,
			Terminal: cs.Terminal,
		}
		if cs.ExitCode != nil {
			resp.ExitStatus = uint32(*cs.ExitCode)
			resp.ExitedAt = cs.StoppedAt
		}
		return resp, nil
	}

	es, err := state.LoadExec(c.paths, r.ExecID)
	if err != nil {
		return nil, errdefs.ToGRPCf(errdefs.ErrNotFound, "load exec state for %s: %v", r.ExecID, err)
	}
	resp := &taskAPI.StateResponse{
		ID:       r.ExecID,
		Bundle:   c.bundle,
		Pid:      uint32(es.Pid),
		Status:   statusFromTypes(es.Status),
		Stdin:    es.Stdin,
		Stdout:   es.Stdout,
		Stderr:   es.Stderr,
		Terminal: es.Terminal,
	}
	if es.ExitCode != nil {
		resp.ExitStatus = uint32(*es.ExitCode)
	}
	return resp, nil
}

// Kill signals a container's init process or one of its execs.
// Signalling a pid that no longer exists (ESRCH) is treated as
// success everywhere along this path: the goal was not-running, and
// it is already achieved.
func (s *Service) Kill(ctx context.Context, r *taskAPI.KillRequest) (_ *ptypes.Empty, err error) {
	start := time.Now()
	defer func() {
		err = toGRPC(err)
		observeRPC("kill", start)
	}()

	c, err := s.getContainer(r.ID)
	if err != nil {
		return nil, err
	}

	if c.isSandbox {
		// Sandbox/pause containers are bookkept in memory only: there
		// is no runtime-cli state to signal, only the synthetic
		// process's exitCh that Wait blocks on.
		target := c.init
		if r.ExecID != "" {
			p, ok := c.getExec(r.ExecID)
			if !ok {
				return empty, nil
			}
			target = p
		}
		target.setExited(0, time.Now())
		select {
		case target.exitCh <- 0:
		default:
		}
		return empty, nil
	}

	args := []string{"kill"}
	if r.ExecID != "" {
		args = append(args, "--exec-id", r.ExecID)
	}
	args = append(args, r.ID, fmt.Sprintf("%d", r.Signal))
	if _, err := s.runCLI(ctx, args...); err != nil {
		return nil, err
	}
	return empty, nil
}

// Delete removes a container's (or exec's) on-disk state. Deleting a
// record that is no longer tracked is success.
func (s *Service) Delete(ctx context.Context, r *taskAPI.DeleteRequest) (_ *taskAPI.DeleteResponse, err error) {
	start := time.Now()
	defer func() {
		err = toGRPC(err)
		observeRPC("delete", start)
	}()

	s.mu.Lock()
	c, ok := s.containers[r.ID]
	s.mu.Unlock()

	if !ok {
		// Deleting an untracked id is still success.
		return &taskAPI.DeleteResponse{ExitedAt: time.Now()}, nil
	}

	if r.ExecID != "" {
		p, ok := c.getExec(r.ExecID)
		var exitCode uint32
		var exitedAt time.Time
		if ok {
			_, _, exitCode, exitedAt = p.snapshot()
		}
		if !c.isSandbox {
			if _, err := s.runCLI(ctx, "delete", "--exec-id", r.ExecID, r.ID); err != nil {
				return nil, err
			}
		}
		c.removeExec(r.ExecID)
		return &taskAPI.DeleteResponse{ExitStatus: exitCode, ExitedAt: exitedAt}, nil
	}

	_, pid, exitCode, exitedAt := c.init.snapshot()

	if !c.isSandbox {
		if _, err := s.runCLI(ctx, "delete", r.ID); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	delete(s.containers, r.ID)
	activeContainers.Set(float64(len(s.containers)))
	s.mu.Unlock()

	s.send(&eventstypes.TaskDelete{
		ContainerID: r.ID,
		Pid:         pid,
		ExitStatus:  exitCode,
		ExitedAt:    exitedAt,
	})

	return &taskAPI.DeleteResponse{Pid: pid, ExitStatus: exitCode, ExitedAt: exitedAt}, nil
}

// Wait blocks until the container's init process or an exec reaches
// `stopped`, publishing TaskExit for container waits only.
func (s *Service) Wait(ctx context.Context, r *taskAPI.WaitRequest) (_ *taskAPI.WaitResponse, err error) {
	start := time.Now()
	defer func() {
		err = toGRPC(err)
		observeRPC("wait", start)
	}()

	c, err := s.getContainer(r.ID)
	if err != nil {
		return nil, err
	}

	wctx, cancel := context.WithTimeout(ctx, waitTimeout)
	defer cancel()

	if c.isSandbox {
		target := c.init
		if r.ExecID != "" {
			p, ok := c.getExec(r.ExecID)
			if !ok {
				return nil, errdefs.ToGRPCf(errdefs.ErrNotFound, "exec %s does not exist", r.ExecID)
			}
			target = p
		}
		select {
		case code := <-target.exitCh:
			target.exitCh <- code
			_, _, _, exitedAt := target.snapshot()
			if r.ExecID == "" {
				s.sendL(&eventstypes.TaskExit{ContainerID: r.ID, ID: r.ID, Pid: 1, ExitStatus: code, ExitedAt: exitedAt})
			}
			return &taskAPI.WaitResponse{ExitStatus: code, ExitedAt: exitedAt}, nil
		case <-wctx.Done():
			return &taskAPI.WaitResponse{ExitStatus: 1, ExitedAt: time.Now()}, nil
		}
	}

	if r.ExecID == "" {
		cs, err := state.PollStopped(wctx, c.paths)
		if err != nil {
			return &taskAPI.WaitResponse{ExitStatus: 1, ExitedAt: time.Now()}, nil
		}
		code := uint32(*cs.ExitCode)
		c.init.setExited(code, cs.StoppedAt)

		s.sendL(&eventstypes.TaskExit{
			ContainerID: r.ID,
			ID:          r.ID,
			Pid:         uint32(cs.Pid),
			ExitStatus:  code,
			ExitedAt:    cs.StoppedAt,
		})

		return &taskAPI.WaitResponse{ExitStatus: code, ExitedAt: cs.StoppedAt}, nil
	}

	es, err := state.PollExecStopped(wctx, c.paths, r.ExecID)
	if err != nil {
		return &taskAPI.WaitResponse{ExitStatus: 1, ExitedAt: time.Now()}, nil
	}
	code := uint32(*es.ExitCode)
	if p, ok := c.getExec(r.ExecID); ok {
		p.setExited(code, time.Now())
	}

	// Exec waits do not publish TaskExit: only the container's own
	// init-process wait drives containerd's task-exit bookkeeping.
	return &taskAPI.WaitResponse{ExitStatus: code}, nil
}

// Exec decodes an OCI process spec and writes an independent exec
// state record; the container's own state file is never touched by an
// exec.
func (s *Service) Exec(ctx context.Context, r *taskAPI.ExecProcessRequest) (_ *ptypes.Empty, err error) {
	start := time.Now()
	defer func() {
		err = toGRPC(err)
		observeRPC("exec", start)
	}()

	c, err := s.getContainer(r.ID)
	if err != nil {
		return nil, err
	}

	if _, exists := c.getExec(r.ExecID); exists {
		return nil, errdefs.ToGRPCf(errdefs.ErrAlreadyExists, "exec %s already exists", r.ExecID)
	}

	if r.Spec == nil {
		return nil, errdefs.ToGRPCf(errdefs.ErrInvalidArgument, "exec spec is empty")
	}
	v, err := typeurl.UnmarshalAny(r.Spec)
	if err != nil {
		return nil, errdefs.ToGRPCf(errdefs.ErrInvalidArgument, "unmarshal exec spec: %v", err)
	}
	procSpec, ok := v.(*specs.Process)
	if !ok {
		return nil, errdefs.ToGRPCf(errdefs.ErrInvalidArgument, "exec spec has unexpected type %T", v)
	}
	if len(procSpec.Args) == 0 {
		return nil, errdefs.ToGRPCf(errdefs.ErrInvalidArgument, "exec args must not be empty")
	}

	es := &state.ExecState{
		ContainerID: r.ID,
		ExecID:      r.ExecID,
		Status:      types.StatusCreated,
		Args:        procSpec.Args,
		Env:         procSpec.Env,
		Cwd:         procSpec.Cwd,
		Terminal:    r.Terminal,
		Stdin:       r.Stdin,
		Stdout:      r.Stdout,
		Stderr:      r.Stderr,
		CreatedAt:   time.Now(),
	}
	if err := state.SaveExec(c.paths, es); err != nil {
		return nil, err
	}

	c.addExec(r.ExecID, &process{
		id:       r.ExecID,
		bundle:   c.bundle,
		stdin:    r.Stdin,
		stdout:   r.Stdout,
		stderr:   r.Stderr,
		terminal: r.Terminal,
		status:   task.StatusCreated,
		exitCh:   make(chan uint32, 1),
	})

	s.send(&eventstypes.TaskExecAdded{ContainerID: r.ID, ExecID: r.ExecID})
	return empty, nil
}

// Pids reports the container's workload pid, if running.
func (s *Service) Pids(ctx context.Context, r *taskAPI.PidsRequest) (_ *taskAPI.PidsResponse, err error) {
	start := time.Now()
	defer func() {
		err = toGRPC(err)
		observeRPC("pids", start)
	}()

	c, err := s.getContainer(r.ID)
	if err != nil {
		return nil, err
	}

	status, pid, _, _ := c.init.snapshot()
	if !c.isSandbox {
		cs, err := state.LoadContainer(c.paths)
		if err != nil {
			return nil, errdefs.ToGRPCf(errdefs.ErrNotFound, "load state for %s: %v", r.ID, err)
		}
		status, pid = statusFromTypes(cs.Status), uint32(cs.Pid)
	}
	if status != task.StatusRunning || pid == 0 {
		return &taskAPI.PidsResponse{}, nil
	}
	return &taskAPI.PidsResponse{Processes: []*task.ProcessInfo{{Pid: pid}}}, nil
}

// CloseIO is accepted but no-op: Reaper's daemon opens stdio FIFOs
// itself and tears them down on workload exit, so no separate signal
// from containerd is needed to close the write side early.
func (s *Service) CloseIO(ctx context.Context, r *taskAPI.CloseIORequest) (*ptypes.Empty, error) {
	return empty, nil
}

// ResizePty is accepted but no-op. It must not error: containerd
// calls it on every interactive session, and a failure here breaks
// `kubectl exec -it` outright.
func (s *Service) ResizePty(ctx context.Context, r *taskAPI.ResizePtyRequest) (*ptypes.Empty, error) {
	return empty, nil
}
