// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

package runtimecli

import (
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/miguelgila/reaper/pkg/state"
)

var deleteCommand = cli.Command{
	Name:      "delete",
	Usage:     "remove a container's on-disk state",
	ArgsUsage: "<id>",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "exec-id", Usage: "remove only the named exec's state"},
	},
	Action: func(c *cli.Context) error {
		id := c.Args().First()
		if id == "" {
			return errors.New("missing container id")
		}

		paths := state.NewPaths(c.GlobalString("root"), id)

		if execID := c.String("exec-id"); execID != "" {
			if err := state.DeleteExec(paths, execID); err != nil {
				return errors.Errorf("delete exec state: %v", err)
			}
			return nil
		}

		if err := state.RemoveContainer(paths); err != nil {
			return errors.Errorf("delete state: %v", err)
		}
		return nil
	},
}
