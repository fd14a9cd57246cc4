// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

package runtimecli

import (
	"strconv"

	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"golang.org/x/sys/unix"

	"github.com/miguelgila/reaper/pkg/state"
)

var killCommand = cli.Command{
	Name:      "kill",
	Usage:     "send a signal to a container's init process",
	ArgsUsage: "<id> <signo>",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "exec-id", Usage: "signal this exec instead of the container's init process"},
	},
	Action: func(c *cli.Context) error {
		id := c.Args().First()
		if id == "" {
			return errors.New("missing container id")
		}
		sigArg := c.Args().Get(1)
		if sigArg == "" {
			return errors.New("missing signal number")
		}
		signo, err := strconv.Atoi(sigArg)
		if err != nil {
			return errors.Errorf("invalid signal %q: %v", sigArg, err)
		}

		paths := state.NewPaths(c.GlobalString("root"), id)

		var pid int
		if execID := c.String("exec-id"); execID != "" {
			es, err := state.LoadExec(paths, execID)
			if err != nil {
				return errors.Errorf("load exec state: %v", err)
			}
			pid = es.Pid
		} else {
			cs, err := state.LoadContainer(paths)
			if err != nil {
				return errors.Errorf("load state: %v", err)
			}
			pid = cs.Pid
		}

		if pid == 0 {
			// No pid recorded yet (container never started); nothing to
			// signal. Treat as success, matching ESRCH semantics below.
			return nil
		}

		if err := unix.Kill(-pid, unix.Signal(signo)); err != nil && err != unix.ESRCH {
			return errors.Errorf("kill: %v", err)
		}
		return nil
	},
}
