// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoadParsesKeyValueFile(t *testing.T) {
	path := writeConfigFile(t, "# comment\n"+KeyRuntimeRoot+"=/custom/root\n\n"+KeyIsolation+"=node\n")

	v, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/custom/root", v.String(KeyRuntimeRoot, "default"))
	assert.Equal(t, "node", v.String(KeyIsolation, "namespace"))
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	v, err := Load(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Equal(t, "fallback", v.String(KeyRuntimeRoot, "fallback"))
}

func TestLoadRejectsMalformedLine(t *testing.T) {
	path := writeConfigFile(t, "not-a-key-value-pair\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadQuotedValuePreservesWhitespace(t *testing.T) {
	path := writeConfigFile(t, KeyOverlayBase+"=\" /weird path \"\n")
	v, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, " /weird path ", v.String(KeyOverlayBase, ""))
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	path := writeConfigFile(t, KeyRuntimeRoot+"=/from/file\n")
	t.Setenv(KeyRuntimeRoot, "/from/env")

	v, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/from/env", v.String(KeyRuntimeRoot, ""))
}

func TestValuesBoolParsesOrFallsBack(t *testing.T) {
	v := Values{KeyFilterEnabled: "false"}
	assert.False(t, v.Bool(KeyFilterEnabled, true))

	v = Values{KeyFilterEnabled: "not-a-bool"}
	assert.True(t, v.Bool(KeyFilterEnabled, true))

	v = Values{}
	assert.True(t, v.Bool(KeyFilterEnabled, true))
}

func TestValuesStringListSplitsAndTrims(t *testing.T) {
	v := Values{KeyFilterPaths: " /a , /b ,, /c"}
	assert.Equal(t, []string{"/a", "/b", "/c"}, v.StringList(KeyFilterPaths))

	v = Values{}
	assert.Nil(t, v.StringList(KeyFilterPaths))
}
