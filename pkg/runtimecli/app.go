// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

// Package runtimecli implements the reaper-runtime command line: the
// short-lived OCI verbs (create/state/kill/delete/start/exec) a
// containerd shim invokes once per lifecycle step. The start and exec
// verbs additionally fork the monitoring daemon that parents the
// workload for its whole life.
package runtimecli

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/miguelgila/reaper/pkg/config"
)

var runtimeLog = logrus.WithFields(logrus.Fields{
	"source": "reaper-runtime",
	"pid":    os.Getpid(),
})

const defaultRootDirectory = "/run/reaper"

var globalFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "root",
		Value: defaultRootDirectory,
		Usage: "root directory for Reaper's on-disk state",
	},
	cli.StringFlag{
		Name:  "log",
		Value: "",
		Usage: "file to append debug logging to (default: stderr)",
	},
	cli.StringFlag{
		Name:  "log-format",
		Value: "text",
		Usage: "'text' or 'json'",
	},
}

// NewApp builds the reaper-runtime urfave/cli.App.
func NewApp(version string) *cli.App {
	app := cli.NewApp()
	app.Name = "reaper-runtime"
	app.Usage = "OCI runtime for Reaper, a namespace-less container runtime"
	app.Version = version
	app.Flags = globalFlags
	app.Commands = []cli.Command{
		createCommand,
		stateCommand,
		killCommand,
		deleteCommand,
		startCommand,
		execCommand,
		daemonStartCommand,
		daemonExecCommand,
	}

	app.Before = func(c *cli.Context) error {
		if path := c.GlobalString("log"); path != "" {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_SYNC, 0640)
			if err != nil {
				return fmt.Errorf("open log file %s: %w", path, err)
			}
			runtimeLog.Logger.SetOutput(f)
		} else {
			runtimeLog.Logger.SetOutput(os.Stderr)
		}
		if c.GlobalString("log-format") == "json" {
			runtimeLog.Logger.SetFormatter(&logrus.JSONFormatter{})
		}

		values, err := config.Load("")
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		setValues(values)
		return nil
	}

	return app
}

var loadedValues config.Values

func setValues(v config.Values) { loadedValues = v }
func getValues() config.Values  { return loadedValues }
