// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

// Package config loads Reaper's process-wide configuration: a small
// set of KEY=VALUE pairs, first from an optional config file and then
// overridden by environment variables. The environment always wins so
// a shim or daemon can be steered without editing the node's file.
package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Values holds the raw KEY=VALUE settings resolved from file + env,
// keyed exactly as the environment variable names below.
type Values map[string]string

const (
	KeyRuntimeRoot          = "REAPER_RUNTIME_ROOT"
	KeyOverlayBase          = "REAPER_OVERLAY_BASE"
	KeyMergedRoot           = "REAPER_MERGED_ROOT"
	KeyIsolation            = "REAPER_ISOLATION"
	KeyFilterEnabled        = "REAPER_FILTER_ENABLED"
	KeyFilterMode           = "REAPER_FILTER_MODE"
	KeyFilterPaths          = "REAPER_FILTER_PATHS"
	KeyFilterAllowlist      = "REAPER_FILTER_ALLOWLIST"
	KeyFilterDir            = "REAPER_FILTER_DIR"
	KeyDNSMode              = "REAPER_DNS_MODE"
	KeyKubernetesResolvConf = "REAPER_KUBERNETES_RESOLV_CONF"
	KeyShimLogPath          = "REAPER_SHIM_LOG"
	KeyRuntimeCLIPath       = "REAPER_RUNTIME_CLI_PATH"
	KeyConfigFile           = "REAPER_CONFIG_FILE"
	DefaultConfigFilePath   = "/etc/reaper/config"

	// DefaultRuntimeCLIPath is the reaper-runtime binary name the shim
	// looks up on PATH when REAPER_RUNTIME_CLI_PATH is unset, the same
	// convention containerd-shim-runc-v2 uses for "runc".
	DefaultRuntimeCLIPath = "reaper-runtime"
)

// allKeys lists every key Load checks in the environment, so overrides are
// applied deterministically regardless of what the file contained.
var allKeys = []string{
	KeyRuntimeRoot, KeyOverlayBase, KeyMergedRoot, KeyIsolation,
	KeyFilterEnabled, KeyFilterMode, KeyFilterPaths, KeyFilterAllowlist,
	KeyFilterDir, KeyDNSMode, KeyKubernetesResolvConf, KeyShimLogPath,
	KeyRuntimeCLIPath,
}

// Load resolves configuration: defaults < file < environment. path, if
// empty, falls back to the REAPER_CONFIG_FILE environment variable and
// then DefaultConfigFilePath; a missing file is not an error, the
// config file is optional.
func Load(path string) (Values, error) {
	v := Values{}

	if path == "" {
		if p := os.Getenv(KeyConfigFile); p != "" {
			path = p
		} else {
			path = DefaultConfigFilePath
		}
	}

	fileValues, err := parseFile(path)
	if err != nil {
		return nil, err
	}
	for k, val := range fileValues {
		v[k] = val
	}

	for _, k := range allKeys {
		if val, ok := os.LookupEnv(k); ok {
			v[k] = val
		}
	}

	return v, nil
}

// parseFile reads a simple KEY=VALUE file. Blank lines and lines whose
// first non-whitespace character is '#' are ignored. A missing file
// yields an empty, non-error result.
func parseFile(path string) (Values, error) {
	v := Values{}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return v, nil
		}
		return nil, errors.Wrapf(err, "open config file %s", path)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		idx := strings.Index(line, "=")
		if idx < 0 {
			return nil, errors.Errorf("%s:%d: expected KEY=VALUE, got %q", path, lineNo, line)
		}

		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		// Allow quoted values so paths with '#' or leading/trailing
		// whitespace can be expressed unambiguously.
		if len(val) >= 2 && val[0] == '"' && val[len(val)-1] == '"' {
			val = val[1 : len(val)-1]
		}
		if key == "" {
			return nil, errors.Errorf("%s:%d: empty key", path, lineNo)
		}
		v[key] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read config file %s", path)
	}
	return v, nil
}

// Bool parses a config value as a bool, returning def if unset or
// unparsable.
func (v Values) Bool(key string, def bool) bool {
	raw, ok := v[key]
	if !ok || raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}

// String returns the config value, or def if unset.
func (v Values) String(key, def string) string {
	raw, ok := v[key]
	if !ok || raw == "" {
		return def
	}
	return raw
}

// StringList splits a comma-separated config value, trimming
// whitespace around each element and dropping empty elements.
func (v Values) StringList(key string) []string {
	raw, ok := v[key]
	if !ok || raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
