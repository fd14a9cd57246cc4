// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package ioplane

import "syscall"

func defaultSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{}
}

// setCtty marks the child as its own session leader and grants it the
// controlling terminal at fd 0, which by the time exec runs has been
// dup2'd onto the pty slave (see daemon stdio setup in pkg/runtimecli).
// Setpgid is cleared: setsid already makes the child leader of a new
// process group, and setpgid on a session leader fails with EPERM.
func setCtty(attr *syscall.SysProcAttr) {
	attr.Setpgid = false
	attr.Setsid = true
	attr.Setctty = true
	attr.Ctty = 0
}
