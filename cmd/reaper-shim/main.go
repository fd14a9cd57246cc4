// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

// Command reaper-shim is the containerd Runtime v2 shim binary
// (io.containerd.reaper.v2): a thin wrapper handing shim.New to
// shimapi.Run.
package main

import (
	"fmt"
	"os"

	shimapi "github.com/containerd/containerd/runtime/v2/shim"

	"github.com/miguelgila/reaper/pkg/shim"
	"github.com/miguelgila/reaper/pkg/types"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func shimConfig(config *shimapi.Config) {
	// Reaper's daemons reap their own workloads directly (pkg/runtimecli
	// waitWorkload); the shim process itself never forks a container,
	// so containerd's reaper/subreaper plumbing would only get in the
	// way of that wait(2) call.
	config.NoReaper = true
	config.NoSubreaper = true
}

func main() {
	if len(os.Args) == 2 && os.Args[1] == "--version" {
		fmt.Printf("reaper containerd shim (Golang): id: %q, version: %s\n", types.RuntimeName, version)
		os.Exit(0)
	}

	shimapi.Run(types.RuntimeName, shim.New, shimConfig)
}
