// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

package overlay

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// applyDNS resolves /etc/resolv.conf visibility inside the merged
// root: host mode relies solely on the /etc bind the namespace build
// already performed; kubernetes mode additionally bind-mounts a
// kubelet-provided resolv.conf over the merged root's copy,
// overriding it only inside the namespace.
func applyDNS(cfg Config, mergedRoot string) error {
	if cfg.DNSMode != DNSModeKubernetes {
		return nil
	}
	if cfg.KubernetesResolvConf == "" {
		overlayLog.Warn("dns_mode=kubernetes but no kubelet resolv.conf path configured, falling back to host /etc/resolv.conf")
		return nil
	}
	if _, err := os.Stat(cfg.KubernetesResolvConf); err != nil {
		return errors.Wrapf(err, "stat kubelet resolv.conf %s", cfg.KubernetesResolvConf)
	}

	target := mergedRoot + "/etc/resolv.conf"
	if _, err := os.Stat(target); err != nil {
		f, createErr := os.OpenFile(target, os.O_CREATE|os.O_RDONLY, 0644)
		if createErr != nil {
			return errors.Wrapf(createErr, "create resolv.conf placeholder %s", target)
		}
		f.Close()
	}

	return unix.Mount(cfg.KubernetesResolvConf, target, "", unix.MS_BIND, "")
}
