// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

// Command reaper-runtime is the OCI runtime binary the shim shells
// out to for each lifecycle verb
// (create/start/kill/delete/state/exec).
package main

import (
	"fmt"
	"os"

	"github.com/miguelgila/reaper/pkg/overlay"
	"github.com/miguelgila/reaper/pkg/runtimecli"
	"github.com/miguelgila/reaper/pkg/signals"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	signals.CrashOnError = true
	signals.SetupSignalHandler(os.Getenv("REAPER_DEBUG") != "")
	defer signals.HandlePanic(func() { os.Exit(1) })

	// The overlay helper is a re-exec of this same binary (pkg/overlay
	// never forks in the traditional sense — see namespace_linux.go),
	// so it must be intercepted before urfave/cli gets a chance to
	// reject an unknown command.
	if len(os.Args) > 1 && os.Args[1] == overlay.HelperSubcommand {
		overlay.RunHelperMain()
		return
	}

	app := runtimecli.NewApp(version)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
