// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

package overlay

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

var overlayLog = logrus.WithField("source", "overlay")

// resolveFilterPaths computes the final set of paths to hide:
// defaults plus custom under "append" mode, custom-only under
// "replace" mode, minus the allowlist.
func resolveFilterPaths(cfg Config) []string {
	var base []string
	switch cfg.FilterMode {
	case FilterModeReplace:
		base = append(base, cfg.FilterPaths...)
	default: // append
		base = append(base, defaultSensitivePaths...)
		base = append(base, cfg.FilterPaths...)
	}

	allow := make(map[string]bool, len(cfg.FilterAllowlist))
	for _, p := range cfg.FilterAllowlist {
		allow[filepath.Clean(p)] = true
	}

	seen := make(map[string]bool, len(base))
	var out []string
	for _, p := range base {
		p = filepath.Clean(p)
		if allow[p] || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// applyFilters bind-mounts an empty placeholder from cfg.FilterDir
// over every resolved sensitive path that exists, hiding it from
// anything that subsequently setns's into this namespace. Must run
// after pivot_root, inside the new namespace, where the filters
// cannot be unmounted by a workload. A single bad filter is logged
// and skipped; one unmountable or missing path must never abort the
// whole namespace build.
func applyFilters(cfg Config) {
	if !cfg.FilterEnabled {
		return
	}

	for _, hostPath := range resolveFilterPaths(cfg) {
		if err := applyOneFilter(cfg, hostPath); err != nil {
			overlayLog.WithError(err).WithField("path", hostPath).Warn("failed to apply sensitive-path filter, skipping")
		}
	}
}

func applyOneFilter(cfg Config, targetPath string) error {
	info, err := os.Lstat(targetPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	placeholder := filepath.Join(cfg.FilterDir, targetPath)

	if info.IsDir() {
		if err := os.MkdirAll(placeholder, 0000); err != nil {
			return err
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(placeholder), 0755); err != nil {
			return err
		}
		f, err := os.OpenFile(placeholder, os.O_CREATE|os.O_RDONLY, 0000)
		if err != nil {
			return err
		}
		f.Close()
	}

	return unix.Mount(placeholder, targetPath, "", unix.MS_BIND, "")
}
