// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

package runtimecli

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/miguelgila/reaper/pkg/overlay"
	"github.com/miguelgila/reaper/pkg/state"
)

var execCommand = cli.Command{
	Name:      "exec",
	Usage:     "fork the monitoring daemon and run an additional process inside a running container",
	ArgsUsage: "<id>",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "exec-id", Usage: "identifier of the exec state record to run"},
	},
	Action: func(c *cli.Context) error {
		id := c.Args().First()
		if id == "" {
			return errors.New("missing container id")
		}
		execID := c.String("exec-id")
		if execID == "" {
			return errors.New("--exec-id is required")
		}

		root := c.GlobalString("root")
		paths := state.NewPaths(root, id)
		if !paths.Exists() {
			return errors.Errorf("container %s does not exist", id)
		}
		if _, err := state.LoadExec(paths, execID); err != nil {
			return errors.Errorf("load exec state: %v", err)
		}

		if err := forkDaemon(root, "__daemon-exec", id, execID); err != nil {
			return errors.Errorf("fork exec daemon: %v", err)
		}

		time.Sleep(forkSettleDelay)

		es, err := state.LoadExec(paths, execID)
		if err != nil {
			return errors.Errorf("load exec state after fork: %v", err)
		}
		fmt.Fprintf(c.App.Writer, "started pid=%d\n", es.Pid)
		return nil
	},
}

// daemonExecCommand is the hidden subcommand the CLI re-execs itself
// with (after --root) to become the exec monitoring daemon.
var daemonExecCommand = cli.Command{
	Name:   "__daemon-exec",
	Hidden: true,
	Action: func(c *cli.Context) error {
		id := c.Args().First()
		execID := c.Args().Get(1)
		paths := state.NewPaths(c.GlobalString("root"), id)
		runExecDaemon(paths, execID, overlay.LoadConfig(getValues()))
		return nil // unreached: runExecDaemon always exits the process
	},
}
