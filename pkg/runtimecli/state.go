// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

package runtimecli

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/miguelgila/reaper/pkg/state"
)

var stateCommand = cli.Command{
	Name:      "state",
	Usage:     "print the JSON state of a container",
	ArgsUsage: "<id>",
	Action: func(c *cli.Context) error {
		id := c.Args().First()
		if id == "" {
			return errors.New("missing container id")
		}

		paths := state.NewPaths(c.GlobalString("root"), id)
		cs, err := state.LoadContainer(paths)
		if err != nil {
			if os.IsNotExist(err) {
				return errors.Errorf("container %s does not exist", id)
			}
			return errors.Errorf("load state: %v", err)
		}

		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(cs)
	},
}
