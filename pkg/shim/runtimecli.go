// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

package shim

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/pkg/errors"
)

// runCLI invokes the reaper-runtime binary the same way
// containerd-shim-runc-v2 shells out to runc: one OCI verb per call,
// with --root pointing at this shim's shared state directory.
func (s *Service) runCLI(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"--root", s.runtimeRoot}, args...)
	cmd := exec.CommandContext(ctx, s.runtimeCLI, full...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", errors.Errorf("%s %v: %v: %s", s.runtimeCLI, args, err, stderr.String())
	}
	return stdout.String(), nil
}
