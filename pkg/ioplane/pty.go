// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

package ioplane

import (
	"os/exec"

	"github.com/containerd/console"
	"github.com/pkg/errors"
)

// PTY wraps a pseudo-terminal master for a workload running in
// terminal mode. The slave end is handed to the workload as fd 0/1/2
// before exec, the master end is relayed against the FIFO containerd
// attached (see relay.go).
type PTY struct {
	Master    console.Console
	SlavePath string
}

// NewPTY allocates a master/slave pseudo-terminal pair.
func NewPTY() (*PTY, error) {
	master, slavePath, err := console.NewPty()
	if err != nil {
		return nil, errors.Wrap(err, "allocate pty")
	}
	return &PTY{Master: master, SlavePath: slavePath}, nil
}

func (p *PTY) Close() error {
	return p.Master.Close()
}

// SetControllingTTY configures cmd so its child becomes the session
// leader with the pty slave as its controlling terminal. The slave is
// not reopened from slavePath: the caller installs it as the child's
// stdin, and TIOCSCTTY is issued on that fd after setsid (a process can
// only acquire a controlling tty for a session it leads and does not
// already have one).
func SetControllingTTY(cmd *exec.Cmd, slavePath string) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = defaultSysProcAttr()
	}
	setCtty(cmd.SysProcAttr)
}
