// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

package runtimecli

import (
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/miguelgila/reaper/pkg/ociutils"
	"github.com/miguelgila/reaper/pkg/state"
	"github.com/miguelgila/reaper/pkg/types"
)

var createCommand = cli.Command{
	Name:      "create",
	Usage:     "create a container state record",
	ArgsUsage: "<id>",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "bundle", Usage: "path to the OCI bundle"},
		cli.StringFlag{Name: "namespace", Usage: "Kubernetes pod namespace annotation"},
		cli.StringFlag{Name: "stdin", Usage: "stdin FIFO path"},
		cli.StringFlag{Name: "stdout", Usage: "stdout FIFO path"},
		cli.StringFlag{Name: "stderr", Usage: "stderr FIFO path"},
		cli.BoolFlag{Name: "terminal", Usage: "allocate a pty for the workload"},
	},
	Action: func(c *cli.Context) error {
		id := c.Args().First()
		if id == "" {
			return errors.New("missing container id")
		}
		bundle := c.String("bundle")
		if bundle == "" {
			return errors.New("--bundle is required")
		}

		if err := ociutils.ValidateBundle(bundle); err != nil {
			return errors.Errorf("invalid bundle: %v", err)
		}

		root := c.GlobalString("root")
		paths := state.NewPaths(root, id)
		if paths.Exists() {
			return errors.Errorf("container %s already exists", id)
		}

		cs := state.ContainerState{
			ID:        id,
			Bundle:    bundle,
			Status:    types.StatusCreated,
			Stdin:     c.String("stdin"),
			Stdout:    c.String("stdout"),
			Stderr:    c.String("stderr"),
			Namespace: c.String("namespace"),
			Terminal:  c.Bool("terminal"),
			CreatedAt: time.Now(),
		}

		if err := state.SaveContainer(paths, &cs); err != nil {
			return errors.Errorf("save state: %v", err)
		}
		return nil
	},
}
