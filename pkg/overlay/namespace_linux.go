// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package overlay

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// buildNamespace is the helper's namespace-creation sequence:
// unshare, mount the overlay, bind in the kernel-backed filesystems,
// pivot_root into the merged view, apply sensitive-file filters and
// DNS policy. It must run in its own process (see RunHelperMain)
// since Go's multithreaded runtime makes a raw fork(2) unsafe, so the
// helper is a re-exec of the runtime binary rather than a forked
// child.
func buildNamespace(scope Scope) error {
	if err := unix.Unshare(unix.CLONE_NEWNS); err != nil {
		return errors.Wrap(err, "unshare mount namespace")
	}

	// Make every mount below private and recursive so none of this
	// propagates back to the host.
	if err := unix.Mount("", "/", "", unix.MS_PRIVATE|unix.MS_REC, ""); err != nil {
		return errors.Wrap(err, "make / private")
	}

	merged := scope.MergedRoot()
	upper := scope.UpperDir()
	work := scope.WorkDir()

	for _, dir := range []string{merged, upper, work} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "mkdir %s", dir)
		}
	}

	overlayOpts := fmt.Sprintf("lowerdir=/,upperdir=%s,workdir=%s", upper, work)
	if err := unix.Mount("overlay", merged, "overlay", 0, overlayOpts); err != nil {
		return errors.Wrapf(err, "mount overlay at %s", merged)
	}

	// Bind kernel-backed and runtime-required paths into the merged
	// root. /tmp is deliberately NOT bound here: writes to /tmp land in
	// the overlay upper layer, protecting the host's /tmp.
	for _, name := range []string{"proc", "sys", "dev", "run"} {
		target := filepath.Join(merged, name)
		if err := os.MkdirAll(target, 0755); err != nil {
			return errors.Wrapf(err, "mkdir %s", target)
		}
		if err := unix.Mount("/"+name, target, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
			return errors.Wrapf(err, "bind /%s into merged root", name)
		}
	}

	// Bind /etc so host identity files (hostname, passwd, nsswitch,
	// resolv.conf in host DNS mode) remain visible.
	etcTarget := filepath.Join(merged, "etc")
	if err := os.MkdirAll(etcTarget, 0755); err != nil {
		return errors.Wrap(err, "mkdir merged /etc")
	}
	if err := unix.Mount("/etc", etcTarget, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return errors.Wrap(err, "bind /etc into merged root")
	}

	if err := pivotInto(merged); err != nil {
		return err
	}

	// From here on the merged root IS "/" — apply filters and DNS
	// policy against the new root.
	applyFilters(scope.cfg)
	if err := applyDNS(scope.cfg, ""); err != nil {
		overlayLog.WithError(err).Warn("failed to apply kubernetes DNS override, leaving host resolv.conf visible")
	}

	return nil
}

// pivotInto swaps the process root for merged, then unmounts and
// removes the old root. pivot_root (not a bind-mount over /) is
// required so /proc, /sys and /dev stay kernel-backed rather than
// hidden by the overlay: they were bound into merged before the
// switch, and survive it.
func pivotInto(merged string) error {
	oldRoot := filepath.Join(merged, "old_root")
	if err := os.MkdirAll(oldRoot, 0700); err != nil {
		return errors.Wrap(err, "mkdir old_root")
	}

	if err := unix.PivotRoot(merged, oldRoot); err != nil {
		return errors.Wrap(err, "pivot_root")
	}

	if err := os.Chdir("/"); err != nil {
		return errors.Wrap(err, "chdir / after pivot_root")
	}

	if err := unix.Unmount("/old_root", unix.MNT_DETACH); err != nil {
		return errors.Wrap(err, "detach old root")
	}

	if err := os.RemoveAll("/old_root"); err != nil {
		overlayLog.WithError(err).Warn("failed to remove /old_root mountpoint directory")
	}

	return nil
}

// joinNamespace setns(2)'s the calling process into the mount
// namespace anchored at bindPath.
func joinNamespace(bindPath string) error {
	fd, err := os.Open(bindPath)
	if err != nil {
		return errors.Wrapf(err, "open namespace bind path %s", bindPath)
	}
	defer fd.Close()

	if err := unix.Setns(int(fd.Fd()), unix.CLONE_NEWNS); err != nil {
		return errors.Wrapf(err, "setns into %s", bindPath)
	}

	// Re-resolve "/" against the namespace just joined — the calling
	// process's cached root otherwise keeps pointing at whatever it
	// resolved to before the switch.
	if err := os.Chdir("/"); err != nil {
		return errors.Wrap(err, "chdir / after setns")
	}
	return nil
}

// bindNamespaceAnchor bind-mounts /proc/<pid>/ns/mnt onto bindPath.
// Must run in the host mount namespace: once the helper has unshared,
// its own mounts no longer propagate to the host, so this step is
// always performed by the process that spawned the helper, never by
// the helper itself.
func bindNamespaceAnchor(helperPid int, bindPath string) error {
	if err := os.MkdirAll(filepath.Dir(bindPath), 0755); err != nil {
		return errors.Wrapf(err, "mkdir %s", filepath.Dir(bindPath))
	}
	f, err := os.OpenFile(bindPath, os.O_CREATE|os.O_RDONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "create bind anchor %s", bindPath)
	}
	f.Close()

	src := fmt.Sprintf("/proc/%d/ns/mnt", helperPid)
	if err := unix.Mount(src, bindPath, "", unix.MS_BIND, ""); err != nil {
		return errors.Wrapf(err, "bind %s to %s", src, bindPath)
	}
	return nil
}
