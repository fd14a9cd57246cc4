// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

package overlay

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/miguelgila/reaper/pkg/config"
)

func TestLoadConfigAppliesDefaults(t *testing.T) {
	cfg := LoadConfig(config.Values{})
	assert.Equal(t, "/run/reaper", cfg.RuntimeRoot)
	assert.Equal(t, "/run/reaper/overlay", cfg.OverlayBase)
	assert.Equal(t, IsolationNamespace, cfg.Isolation)
	assert.True(t, cfg.FilterEnabled)
	assert.Equal(t, FilterModeAppend, cfg.FilterMode)
	assert.Equal(t, DNSModeHost, cfg.DNSMode)
}

func TestLoadConfigHonorsOverrides(t *testing.T) {
	v := config.Values{
		config.KeyRuntimeRoot: "/custom",
		config.KeyIsolation:   "node",
		config.KeyDNSMode:     "kubernetes",
	}
	cfg := LoadConfig(v)
	assert.Equal(t, "/custom", cfg.RuntimeRoot)
	assert.Equal(t, IsolationNode, cfg.Isolation)
	assert.Equal(t, DNSModeKubernetes, cfg.DNSMode)
}

func TestScopeNodeIsolationIgnoresNamespace(t *testing.T) {
	cfg := LoadConfig(config.Values{config.KeyIsolation: "node"})
	s := NewScope(cfg, "team-a")
	assert.Equal(t, cfg.OverlayBase+"/upper", s.UpperDir())
	assert.Equal(t, cfg.RuntimeRoot+"/overlay.lock", s.LockPath())
}

func TestScopeNamespaceIsolationScopesPaths(t *testing.T) {
	cfg := LoadConfig(config.Values{config.KeyIsolation: "namespace"})
	s := NewScope(cfg, "team-a")
	assert.Equal(t, cfg.OverlayBase+"/team-a/upper", s.UpperDir())
	assert.Equal(t, cfg.OverlayBase+"/team-a/work", s.WorkDir())
	assert.Equal(t, cfg.RuntimeRoot+"/ns/team-a", s.NSBindPath())
	assert.Equal(t, cfg.RuntimeRoot+"/overlay-team-a.lock", s.LockPath())
}

func TestResolveFilterPathsAppendMode(t *testing.T) {
	cfg := Config{
		FilterMode:      FilterModeAppend,
		FilterPaths:     []string{"/extra/secret"},
		FilterAllowlist: []string{"/etc/shadow"},
	}
	got := resolveFilterPaths(cfg)
	assert.Contains(t, got, "/extra/secret")
	assert.Contains(t, got, "/root/.ssh")
	assert.NotContains(t, got, "/etc/shadow")
}

func TestResolveFilterPathsReplaceMode(t *testing.T) {
	cfg := Config{
		FilterMode:  FilterModeReplace,
		FilterPaths: []string{"/only/this"},
	}
	got := resolveFilterPaths(cfg)
	assert.Equal(t, []string{"/only/this"}, got)
}

func TestResolveFilterPathsDeduplicates(t *testing.T) {
	cfg := Config{
		FilterMode:  FilterModeAppend,
		FilterPaths: []string{"/root/.ssh", "/root/.ssh/"},
	}
	got := resolveFilterPaths(cfg)
	count := 0
	for _, p := range got {
		if p == "/root/.ssh" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}
