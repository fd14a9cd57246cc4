// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

package runtimecli

import (
	"context"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/miguelgila/reaper/pkg/ioplane"
	"github.com/miguelgila/reaper/pkg/ociutils"
	"github.com/miguelgila/reaper/pkg/overlay"
	"github.com/miguelgila/reaper/pkg/state"
	"github.com/miguelgila/reaper/pkg/types"
)

// postSpawnSettleDelay is the window between recording status=running
// and calling wait(), so containerd observes the running state even
// for workloads that exit almost immediately (e.g. /bin/echo).
// Without it a fast command collapses straight to stopped before the
// orchestrator ever records the transition.
const postSpawnSettleDelay = 500 * time.Millisecond

var daemonLog = logrus.WithField("source", "reaper-daemon")

// detachDaemon makes the monitoring daemon its own session leader and
// points its own stdio at /dev/null, so no fifo or pipe it inherited
// from the CLI keeps that process tree alive once the CLI itself has
// exited.
func detachDaemon() error {
	if _, err := unix.Setsid(); err != nil {
		return errors.Wrap(err, "setsid")
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return errors.Wrap(err, "open /dev/null")
	}
	defer devNull.Close()

	fd := int(devNull.Fd())
	for _, std := range []int{0, 1, 2} {
		if err := unix.Dup2(fd, std); err != nil {
			return errors.Wrapf(err, "dup2 /dev/null onto fd %d", std)
		}
	}
	return nil
}

// spawnedWorkload bundles the running *exec.Cmd together with whatever
// stdio plumbing was attached to it, so the caller can relay, wait and
// tear down in one place.
type spawnedWorkload struct {
	cmd   *exec.Cmd
	pty   *ioplane.PTY
	pipes *ioplane.PipeIO
	relay *ioplane.Relay
}

// containerProcessSpec parses a bundle's config.json into the launch
// parameters for a container's init process.
func containerProcessSpec(bundle string) (ociutils.ProcessSpec, error) {
	spec, err := ociutils.ParseConfigJSON(bundle)
	if err != nil {
		return ociutils.ProcessSpec{}, errors.Wrap(err, "parse config.json")
	}
	ps, err := ociutils.ExtractProcess(spec)
	if err != nil {
		return ociutils.ProcessSpec{}, errors.Wrap(err, "extract process spec")
	}
	return ps, nil
}

// execProcessSpec builds launch parameters straight from an exec
// state record; args/env/cwd come from the exec request, never from
// the container's own config.json.
func execProcessSpec(es *state.ExecState) (ociutils.ProcessSpec, error) {
	if len(es.Args) == 0 {
		return ociutils.ProcessSpec{}, errors.New("exec state has no args")
	}
	cwd := es.Cwd
	if cwd == "" {
		cwd = "/"
	}
	return ociutils.ProcessSpec{
		Args:     append([]string{}, es.Args...),
		Env:      append([]string{}, es.Env...),
		Cwd:      cwd,
		Terminal: es.Terminal,
	}, nil
}

// spawnWorkload prepares stdio (a PTY in terminal mode, the recorded
// FIFOs otherwise) and starts the process described by ps.
func spawnWorkload(ps ociutils.ProcessSpec, stdio ioplane.StdioPaths) (*spawnedWorkload, error) {
	path := ps.Args[0]
	if resolved, err := exec.LookPath(path); err == nil {
		path = resolved
	}
	cmd := exec.Command(path, ps.Args[1:]...)
	cmd.Dir = ps.Cwd
	cmd.Env = ps.Env

	// Setpgid makes the workload its own process-group leader so
	// kill.go's unix.Kill(-pid, signo) has a group to target; without
	// it the workload stays in the daemon's own group and the group
	// kill silently hits nothing.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, NoNewPrivs: ps.NoNewPrivileges}
	if ps.UID != 0 || ps.GID != 0 || len(ps.Groups) > 0 {
		cmd.SysProcAttr.Credential = &syscall.Credential{Uid: ps.UID, Gid: ps.GID, Groups: ps.Groups}
	}

	sw := &spawnedWorkload{cmd: cmd, relay: &ioplane.Relay{}}

	switch {
	case stdio.Terminal:
		pty, err := ioplane.NewPTY()
		if err != nil {
			return nil, errors.Wrap(err, "allocate pty")
		}
		ioplane.SetControllingTTY(cmd, pty.SlavePath)

		// O_NOCTTY: this process is a session leader with no controlling
		// terminal, and the slave must stay unclaimed until the child's
		// own TIOCSCTTY.
		slave, err := os.OpenFile(pty.SlavePath, os.O_RDWR|syscall.O_NOCTTY, 0)
		if err != nil {
			pty.Close()
			return nil, errors.Wrap(err, "open pty slave")
		}
		cmd.Stdin, cmd.Stdout, cmd.Stderr = slave, slave, slave
		sw.pty = pty

		if err := cmd.Start(); err != nil {
			slave.Close()
			pty.Close()
			return nil, errors.Wrap(err, "spawn workload")
		}
		slave.Close()

		if pipes, err := ioplane.OpenPipeIO(context.Background(), stdio); err != nil {
			daemonLog.WithError(err).Warn("failed to open attach-side fifos for terminal relay")
		} else {
			sw.pipes = pipes
			if pipes.Stdin() != nil {
				sw.relay.CopyIn(pty.Master, pipes.Stdin())
			}
			if pipes.Stdout() != nil {
				sw.relay.CopyOut(pipes.Stdout(), pty.Master)
			}
		}
		return sw, nil

	case !stdio.Empty():
		pipes, err := ioplane.OpenPipeIO(context.Background(), stdio)
		if err != nil {
			return nil, errors.Wrap(err, "open stdio fifos")
		}
		sw.pipes = pipes
		if in := pipes.Stdin(); in != nil {
			cmd.Stdin = in
		}
		if out := pipes.Stdout(); out != nil {
			cmd.Stdout = out
		}
		if errw := pipes.Stderr(); errw != nil {
			cmd.Stderr = errw
		}
		// The stdin FIFO's write side belongs to containerd and may stay
		// open long past the workload's exit; without a wait delay the
		// stdlib's stdin-copy goroutine would block Wait forever.
		cmd.WaitDelay = time.Second

		if err := cmd.Start(); err != nil {
			pipes.Close()
			return nil, errors.Wrap(err, "spawn workload")
		}
		return sw, nil

	default:
		if err := cmd.Start(); err != nil {
			return nil, errors.Wrap(err, "spawn workload")
		}
		return sw, nil
	}
}

// waitWorkload blocks until the workload exits, tears down its stdio,
// and reports an OCI-style exit code straight from the raw wait
// status: signal-terminated processes report 128+signo, everything
// else reports whatever the process returned.
func waitWorkload(sw *spawnedWorkload) int {
	waitErr := sw.cmd.Wait()

	// The workload's own copies of the pty slave fds died with it, so
	// the output relay drains to its natural EOF/EIO. Wait for that
	// before closing the master, so a close doesn't cut off output
	// still sitting in the kernel buffer at process-exit time. The
	// stdin relay is deliberately not waited on: its read side belongs
	// to containerd and may never see EOF.
	sw.relay.Wait()

	if sw.pty != nil {
		sw.pty.Close()
	}
	if sw.pipes != nil {
		sw.pipes.Close()
	}

	// ProcessState is populated even when Wait returns ErrWaitDelay for
	// a lingering stdio pipe, so read the status from it directly.
	if st := sw.cmd.ProcessState; st != nil {
		if ws, ok := st.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				return 128 + int(ws.Signal())
			}
			return ws.ExitStatus()
		}
		return st.ExitCode()
	}
	if waitErr != nil {
		return -1
	}
	return 0
}

// runContainerDaemon is the monitoring daemon body for the `start`
// verb. It never returns: every path ends by exiting the process,
// since it was forked specifically to become the workload's parent
// for the rest of its life.
func runContainerDaemon(paths state.Paths, overlayCfg overlay.Config) {
	if err := detachDaemon(); err != nil {
		daemonLog.WithError(err).Error("failed to detach daemon")
		os.Exit(1)
	}

	cs, err := state.LoadContainer(paths)
	if err != nil {
		daemonLog.WithError(err).Error("failed to load container state")
		os.Exit(1)
	}

	scope := overlay.NewScope(overlayCfg, cs.Namespace)
	if err := overlay.EnterOverlay(context.Background(), scope); err != nil {
		daemonLog.WithError(err).Error("failed to enter overlay namespace")
		failContainer(paths, cs)
		os.Exit(0)
	}

	stdio := ioplane.StdioPaths{Stdin: cs.Stdin, Stdout: cs.Stdout, Stderr: cs.Stderr, Terminal: cs.Terminal}

	ps, err := containerProcessSpec(cs.Bundle)
	if err != nil {
		daemonLog.WithError(err).Error("failed to parse container process spec")
		failContainer(paths, cs)
		os.Exit(0)
	}

	sw, err := spawnWorkload(ps, stdio)
	if err != nil {
		daemonLog.WithError(err).Error("failed to spawn workload")
		failContainer(paths, cs)
		os.Exit(0)
	}

	cs.Status = types.StatusRunning
	cs.Pid = sw.cmd.Process.Pid
	cs.StartedAt = time.Now()
	if err := state.SaveContainer(paths, cs); err != nil {
		daemonLog.WithError(err).Error("failed to persist running state")
	}

	time.Sleep(postSpawnSettleDelay)

	code := waitWorkload(sw)

	cs.Status = types.StatusStopped
	ec := code
	cs.ExitCode = &ec
	cs.StoppedAt = time.Now()
	if err := state.SaveContainer(paths, cs); err != nil {
		daemonLog.WithError(err).Error("failed to persist stopped state")
	}

	os.Exit(0)
}

func failContainer(paths state.Paths, cs *state.ContainerState) {
	cs.Status = types.StatusStopped
	ec := 1
	cs.ExitCode = &ec
	cs.StoppedAt = time.Now()
	if err := state.SaveContainer(paths, cs); err != nil {
		daemonLog.WithError(err).Error("failed to persist failed state")
	}
}

// runExecDaemon is the monitoring daemon body for the `exec` verb:
// it mirrors runContainerDaemon but joins the existing overlay
// namespace instead of creating it, and updates an independent exec
// state record rather than the container's.
func runExecDaemon(paths state.Paths, execID string, overlayCfg overlay.Config) {
	if err := detachDaemon(); err != nil {
		daemonLog.WithError(err).Error("failed to detach daemon")
		os.Exit(1)
	}

	es, err := state.LoadExec(paths, execID)
	if err != nil {
		daemonLog.WithError(err).Error("failed to load exec state")
		os.Exit(1)
	}

	cs, err := state.LoadContainer(paths)
	if err != nil {
		daemonLog.WithError(err).Error("failed to load container state for exec")
		os.Exit(1)
	}

	scope := overlay.NewScope(overlayCfg, cs.Namespace)
	if err := overlay.JoinOverlay(context.Background(), scope); err != nil {
		daemonLog.WithError(err).Error("failed to join overlay namespace for exec")
		failExec(paths, es)
		os.Exit(0)
	}

	stdio := ioplane.StdioPaths{Stdin: es.Stdin, Stdout: es.Stdout, Stderr: es.Stderr, Terminal: es.Terminal}

	ps, err := execProcessSpec(es)
	if err != nil {
		daemonLog.WithError(err).Error("failed to build exec process spec")
		failExec(paths, es)
		os.Exit(0)
	}

	sw, err := spawnWorkload(ps, stdio)
	if err != nil {
		daemonLog.WithError(err).Error("failed to spawn exec process")
		failExec(paths, es)
		os.Exit(0)
	}

	es.Status = types.StatusRunning
	es.Pid = sw.cmd.Process.Pid
	if err := state.SaveExec(paths, es); err != nil {
		daemonLog.WithError(err).Error("failed to persist running exec state")
	}

	time.Sleep(postSpawnSettleDelay)

	code := waitWorkload(sw)

	es.Status = types.StatusStopped
	ec := code
	es.ExitCode = &ec
	if err := state.SaveExec(paths, es); err != nil {
		daemonLog.WithError(err).Error("failed to persist stopped exec state")
	}

	os.Exit(0)
}

func failExec(paths state.Paths, es *state.ExecState) {
	es.Status = types.StatusStopped
	ec := 1
	es.ExitCode = &ec
	if err := state.SaveExec(paths, es); err != nil {
		daemonLog.WithError(err).Error("failed to persist failed exec state")
	}
}
