// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

package ociutils

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBundle(t *testing.T, spec specs.Spec) string {
	t.Helper()
	bundle := t.TempDir()
	data, err := json.Marshal(spec)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(bundle, "config.json"), data, 0644))
	return bundle
}

func TestParseConfigJSONRoundTrip(t *testing.T) {
	spec := specs.Spec{
		Process: &specs.Process{Args: []string{"/bin/sh", "-c", "sleep 1"}},
		Root:    &specs.Root{Path: "rootfs"},
	}
	bundle := writeBundle(t, spec)
	require.NoError(t, os.Mkdir(filepath.Join(bundle, "rootfs"), 0755))

	got, err := ParseConfigJSON(bundle)
	require.NoError(t, err)
	assert.Equal(t, spec.Process.Args, got.Process.Args)
}

func TestParseConfigJSONMissingFile(t *testing.T) {
	_, err := ParseConfigJSON(t.TempDir())
	assert.Error(t, err)
}

func TestExtractProcessDefaultsCwd(t *testing.T) {
	spec := specs.Spec{Process: &specs.Process{Args: []string{"/bin/true"}}}
	ps, err := ExtractProcess(spec)
	require.NoError(t, err)
	assert.Equal(t, "/", ps.Cwd)
	assert.Equal(t, []string{"/bin/true"}, ps.Args)
}

func TestExtractProcessRejectsEmptyArgs(t *testing.T) {
	_, err := ExtractProcess(specs.Spec{Process: &specs.Process{}})
	assert.Error(t, err)
}

func TestExtractProcessRejectsMissingProcess(t *testing.T) {
	_, err := ExtractProcess(specs.Spec{})
	assert.Error(t, err)
}

func TestKubernetesNamespaceReadsAnnotation(t *testing.T) {
	spec := specs.Spec{Annotations: map[string]string{"io.kubernetes.pod.namespace": "default"}}
	assert.Equal(t, "default", KubernetesNamespace(spec))
	assert.Equal(t, "", KubernetesNamespace(specs.Spec{}))
}

func TestIsSandboxContainerByAnnotation(t *testing.T) {
	spec := specs.Spec{Annotations: map[string]string{"io.kubernetes.cri.container-type": "sandbox"}}
	assert.True(t, IsSandboxContainer(spec))

	spec = specs.Spec{Annotations: map[string]string{"io.kubernetes.cri.container-type": "container"}}
	assert.False(t, IsSandboxContainer(spec))
}

func TestIsSandboxContainerByImageName(t *testing.T) {
	spec := specs.Spec{Annotations: map[string]string{"io.kubernetes.cri.image-name": "k8s.gcr.io/pause:3.9"}}
	assert.True(t, IsSandboxContainer(spec))
}

func TestIsSandboxContainerByProcessArgs(t *testing.T) {
	spec := specs.Spec{Process: &specs.Process{Args: []string{"/pause"}}}
	assert.True(t, IsSandboxContainer(spec))

	spec = specs.Spec{Process: &specs.Process{Args: []string{"/bin/myapp"}}}
	assert.False(t, IsSandboxContainer(spec))
}

func TestValidateBundleRequiresConfigJSON(t *testing.T) {
	bundle := t.TempDir()
	assert.Error(t, ValidateBundle(bundle))

	require.NoError(t, os.WriteFile(filepath.Join(bundle, "config.json"), []byte("{}"), 0644))
	assert.NoError(t, ValidateBundle(bundle))
}

func TestValidateBundleRejectsNonDirectory(t *testing.T) {
	f := filepath.Join(t.TempDir(), "notadir")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0644))
	assert.Error(t, ValidateBundle(f))
}
