// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

package overlay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// HelperSubcommand is the argv[1] cmd/reaper-runtime's main() checks
// for to dispatch into RunHelperMain instead of normal CLI parsing.
// The overlay helper is not a user-facing verb: it only ever exists as
// a re-exec of the runtime binary.
const HelperSubcommand = "__overlay_helper"

// helperConfigEnv carries the JSON-encoded scope the helper should
// build, passed via environment rather than argv so paths containing
// arbitrary characters round-trip safely.
const helperConfigEnv = "REAPER_OVERLAY_HELPER_SCOPE"

type helperScope struct {
	Config       Config `json:"config"`
	K8sNamespace string `json:"k8s_namespace"`
}

func pidFilePath(bindPath string) string {
	return bindPath + ".pid"
}

// helperAlive reports whether scope's namespace bind path exists and
// refers to a still-running helper process. A bind path whose helper
// died is stale and must be recreated under the overlay lock.
func helperAlive(scope Scope) (pid int, alive bool) {
	bindPath := scope.NSBindPath()
	if _, err := os.Stat(bindPath); err != nil {
		return 0, false
	}

	data, err := os.ReadFile(pidFilePath(bindPath))
	if err != nil {
		return 0, false
	}
	pid, err = strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}

	if err := unix.Kill(pid, 0); err != nil {
		return pid, false
	}
	return pid, true
}

// spawnHelper starts the overlay helper as a re-exec of the current
// binary and blocks until it signals readiness over a pipe, or exits
// early with an error.
func spawnHelper(scope Scope) (pid int, err error) {
	self, err := os.Executable()
	if err != nil {
		return 0, errors.Wrap(err, "resolve own executable path")
	}

	payload, err := json.Marshal(helperScope{Config: scope.cfg, K8sNamespace: scope.k8sNamespace})
	if err != nil {
		return 0, errors.Wrap(err, "marshal helper scope")
	}

	readyR, readyW, err := os.Pipe()
	if err != nil {
		return 0, errors.Wrap(err, "create readiness pipe")
	}
	defer readyW.Close()
	defer readyR.Close()

	cmd := exec.Command(self, HelperSubcommand)
	cmd.Env = append(os.Environ(), helperConfigEnv+"="+string(payload))
	cmd.ExtraFiles = []*os.File{readyW}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, errors.Wrap(err, "start overlay helper")
	}
	// The helper's own copy of the write end must be closed here too,
	// otherwise Read below blocks forever waiting on our fd as well.
	readyW.Close()

	line, readErr := bufio.NewReader(readyR).ReadString('\n')
	if readErr != nil || strings.TrimSpace(line) != "ready" {
		cmd.Process.Kill()
		cmd.Wait()
		if readErr != nil {
			return 0, errors.Wrap(readErr, "wait for overlay helper readiness")
		}
		return 0, errors.Errorf("overlay helper reported failure: %s", strings.TrimSpace(line))
	}

	pidFile := pidFilePath(scope.NSBindPath())
	if err := os.MkdirAll(filepath.Dir(pidFile), 0755); err != nil {
		return 0, errors.Wrapf(err, "create dir for %s", pidFile)
	}
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(cmd.Process.Pid)), 0644); err != nil {
		return 0, errors.Wrap(err, "persist helper pid")
	}

	// The caller never waits on the helper: it sleeps forever to keep
	// the namespace alive.
	cmd.Process.Release()

	return cmd.Process.Pid, nil
}

// createNamespace spawns the helper, waits for it to build and pivot
// into the overlay, anchors its namespace at the scope's bind path,
// then setns's this (the daemon's) process into it. The anchor bind
// has to happen here, in the host mount namespace: once the helper has
// unshared, its own mounts no longer propagate back out.
func createNamespace(ctx context.Context, scope Scope) error {
	pid, err := spawnHelper(scope)
	if err != nil {
		return errors.Wrap(err, "create overlay namespace")
	}

	if err := bindNamespaceAnchor(pid, scope.NSBindPath()); err != nil {
		return errors.Wrap(err, "anchor overlay namespace")
	}

	return joinNamespace(scope.NSBindPath())
}

// EnterOverlay is called by the monitoring daemon on the `start` path:
// join the scope's namespace if a live helper already owns it,
// otherwise create it. Creation and join are both serialized under the
// scope's exclusive lock, so concurrent first-starts race safely.
func EnterOverlay(ctx context.Context, scope Scope) error {
	lock, err := acquireLock(ctx, scope.LockPath())
	if err != nil {
		return errors.Wrap(err, "acquire overlay lock")
	}
	defer releaseLock(lock)

	if _, alive := helperAlive(scope); alive {
		return joinNamespace(scope.NSBindPath())
	}

	return createNamespace(ctx, scope)
}

// JoinOverlay is called by the monitoring daemon on the `exec` path:
// it must only join an existing namespace, never create one. Joining a
// dead or missing namespace is a hard failure and the exec is refused.
func JoinOverlay(ctx context.Context, scope Scope) error {
	lock, err := acquireLock(ctx, scope.LockPath())
	if err != nil {
		return errors.Wrap(err, "acquire overlay lock")
	}
	defer releaseLock(lock)

	if _, alive := helperAlive(scope); !alive {
		return errors.New("no live overlay namespace to join for exec")
	}
	return joinNamespace(scope.NSBindPath())
}

// RunHelperMain is the overlay helper's entire body, invoked by
// cmd/reaper-runtime when re-exec'd with HelperSubcommand. It never
// returns on success: once the namespace is built it signals readiness
// and sleeps forever, because /proc/<pid>/ns/mnt must remain backed by
// a live process for helperAlive's liveness check to hold.
func RunHelperMain() {
	readyW := os.NewFile(3, "ready")

	raw := os.Getenv(helperConfigEnv)
	var hs helperScope
	if err := json.Unmarshal([]byte(raw), &hs); err != nil {
		fmt.Fprintf(readyW, "failed: decode scope: %v\n", err)
		os.Exit(1)
	}

	scope := NewScope(hs.Config, hs.K8sNamespace)

	if err := buildNamespace(scope); err != nil {
		fmt.Fprintf(readyW, "failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintln(readyW, "ready")
	readyW.Close()

	// Sleep forever: this process's /proc/<pid>/ns/mnt is the
	// namespace's only anchor until another daemon bind-mounts over
	// the well-known path. Never exit.
	select {}
}
