// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

// Package overlay implements Reaper's filesystem-isolation mechanism:
// a shared, writable overlay mounted inside a persistent mount
// namespace, with sensitive host paths hidden from workloads. Reads
// fall through to the host root, writes land in a shared upper layer,
// and the namespace outlives any single container via a helper
// process that sleeps forever holding it open.
package overlay

import (
	"path/filepath"

	"github.com/miguelgila/reaper/pkg/config"
)

// Isolation selects whether one mount-namespace scope is shared by the
// whole node, or one scope is created per Kubernetes namespace.
type Isolation string

const (
	IsolationNode      Isolation = "node"
	IsolationNamespace Isolation = "namespace"
)

// FilterMode controls how custom filter_paths combine with the
// built-in sensitive-path defaults.
type FilterMode string

const (
	FilterModeAppend  FilterMode = "append"
	FilterModeReplace FilterMode = "replace"
)

// DNSMode selects how /etc/resolv.conf is made visible inside the
// overlay.
type DNSMode string

const (
	DNSModeHost       DNSMode = "host"
	DNSModeKubernetes DNSMode = "kubernetes"
)

// Config is the process-wide overlay configuration, resolved once at
// daemon entry.
type Config struct {
	RuntimeRoot string

	OverlayBase string
	MergedRoot  string

	Isolation Isolation

	FilterEnabled   bool
	FilterMode      FilterMode
	FilterPaths     []string
	FilterAllowlist []string
	FilterDir       string

	DNSMode              DNSMode
	KubernetesResolvConf string
}

// defaultSensitivePaths is the built-in list of host paths hidden
// from workloads: credentials and secrets that have no business being
// readable through the overlay's lower layer.
var defaultSensitivePaths = []string{
	"/root/.ssh",
	"/etc/shadow",
	"/etc/gshadow",
	"/etc/ssh/ssh_host_rsa_key",
	"/etc/ssh/ssh_host_ecdsa_key",
	"/etc/ssh/ssh_host_ed25519_key",
	"/etc/ssl/private",
	"/etc/sudoers",
	"/etc/sudoers.d",
	"/var/lib/docker",
	"/run/secrets",
}

// LoadConfig derives a Config from resolved configuration values
// (file+env, see pkg/config), filling in defaults for anything unset.
func LoadConfig(v config.Values) Config {
	runtimeRoot := v.String(config.KeyRuntimeRoot, "/run/reaper")

	c := Config{
		RuntimeRoot: runtimeRoot,
		OverlayBase: v.String(config.KeyOverlayBase, filepath.Join(runtimeRoot, "overlay")),
		MergedRoot:  v.String(config.KeyMergedRoot, filepath.Join(runtimeRoot, "merged")),

		Isolation: Isolation(v.String(config.KeyIsolation, string(IsolationNamespace))),

		FilterEnabled:   v.Bool(config.KeyFilterEnabled, true),
		FilterMode:      FilterMode(v.String(config.KeyFilterMode, string(FilterModeAppend))),
		FilterPaths:     v.StringList(config.KeyFilterPaths),
		FilterAllowlist: v.StringList(config.KeyFilterAllowlist),
		FilterDir:       v.String(config.KeyFilterDir, filepath.Join(runtimeRoot, "overlay-filters")),

		DNSMode:              DNSMode(v.String(config.KeyDNSMode, string(DNSModeHost))),
		KubernetesResolvConf: v.String(config.KeyKubernetesResolvConf, ""),
	}

	return c
}

// Scope identifies one overlay sharing unit: either the whole node, or
// one Kubernetes namespace.
type Scope struct {
	cfg          Config
	k8sNamespace string // empty in node-isolation mode
}

// NewScope resolves the overlay scope for a container's Kubernetes
// namespace annotation (empty string if none, or if isolation is
// node-wide).
func NewScope(cfg Config, k8sNamespace string) Scope {
	if cfg.Isolation != IsolationNamespace {
		k8sNamespace = ""
	}
	return Scope{cfg: cfg, k8sNamespace: k8sNamespace}
}

// UpperDir is <overlay_base>/upper, or <overlay_base>/<ns>/upper in
// namespace-isolation mode.
func (s Scope) UpperDir() string {
	return filepath.Join(s.base(), "upper")
}

// WorkDir is <overlay_base>/work, or <overlay_base>/<ns>/work in
// namespace-isolation mode.
func (s Scope) WorkDir() string {
	return filepath.Join(s.base(), "work")
}

func (s Scope) base() string {
	if s.k8sNamespace == "" {
		return s.cfg.OverlayBase
	}
	return filepath.Join(s.cfg.OverlayBase, s.k8sNamespace)
}

// MergedRoot is the pivot_root target, shared across scopes on a given
// daemon process (each daemon only ever builds one namespace).
func (s Scope) MergedRoot() string {
	return s.cfg.MergedRoot
}

// NSBindPath is where /proc/<helper>/ns/mnt is bind-mounted so
// subsequent daemons can setns by opening this path.
func (s Scope) NSBindPath() string {
	if s.k8sNamespace == "" {
		return filepath.Join(s.cfg.RuntimeRoot, "shared-mnt-ns")
	}
	return filepath.Join(s.cfg.RuntimeRoot, "ns", s.k8sNamespace)
}

// LockPath is the exclusive lock file serializing namespace
// create/join for this scope.
func (s Scope) LockPath() string {
	if s.k8sNamespace == "" {
		return filepath.Join(s.cfg.RuntimeRoot, "overlay.lock")
	}
	return filepath.Join(s.cfg.RuntimeRoot, "overlay-"+s.k8sNamespace+".lock")
}
