// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

package runtimecli

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/miguelgila/reaper/pkg/overlay"
	"github.com/miguelgila/reaper/pkg/state"
)

// forkSettleDelay is the bounded wait the CLI uses before reading
// back the daemon-published pid. It is a synchronization shortcut,
// not a correctness requirement: the shim's Start polls the state
// file itself and does not trust what the CLI prints.
const forkSettleDelay = 100 * time.Millisecond

var startCommand = cli.Command{
	Name:      "start",
	Usage:     "fork the monitoring daemon and spawn the workload",
	ArgsUsage: "<id>",
	Action: func(c *cli.Context) error {
		id := c.Args().First()
		if id == "" {
			return errors.New("missing container id")
		}

		root := c.GlobalString("root")
		paths := state.NewPaths(root, id)
		if !paths.Exists() {
			return errors.Errorf("container %s does not exist", id)
		}

		if err := forkDaemon(root, "__daemon-start", id); err != nil {
			return errors.Errorf("fork daemon: %v", err)
		}

		time.Sleep(forkSettleDelay)

		cs, err := state.LoadContainer(paths)
		if err != nil {
			return errors.Errorf("load state after fork: %v", err)
		}
		fmt.Fprintf(c.App.Writer, "started pid=%d\n", cs.Pid)
		return nil
	},
}

// daemonStartCommand is the hidden subcommand the CLI re-execs itself
// with (after --root) to become the monitoring daemon. It is not a
// user-facing verb.
var daemonStartCommand = cli.Command{
	Name:   "__daemon-start",
	Hidden: true,
	Action: func(c *cli.Context) error {
		id := c.Args().First()
		paths := state.NewPaths(c.GlobalString("root"), id)
		runContainerDaemon(paths, overlay.LoadConfig(getValues()))
		return nil // unreached: runContainerDaemon always exits the process
	},
}

// forkDaemon re-execs the current binary with the given hidden
// subcommand and detaches from it immediately. The CLI's job is done
// once the daemon process exists; it never waits on it. The daemon,
// not the CLI, spawns the workload, so the process that calls wait(2)
// is the one that created the child.
func forkDaemon(root, subcommand string, args ...string) error {
	self, err := os.Executable()
	if err != nil {
		return err
	}

	cmd := exec.Command(self, append([]string{"--root", root, subcommand}, args...)...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return err
	}
	cmd.Process.Release()
	return nil
}
