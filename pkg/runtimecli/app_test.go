// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

package runtimecli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miguelgila/reaper/pkg/state"
)

func newTestBundle(t *testing.T) string {
	t.Helper()
	bundle := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(bundle, "config.json"), []byte(`{
		"process": {"args": ["/bin/sh", "-c", "true"]},
		"root": {"path": "rootfs"}
	}`), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(bundle, "rootfs"), 0755))
	return bundle
}

func runApp(t *testing.T, root string, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	app := NewApp("test")
	buf := &bytes.Buffer{}
	app.Writer = buf
	fullArgs := append([]string{"reaper-runtime", "--root", root}, args...)
	return buf, app.Run(fullArgs)
}

func TestCreateCommandRejectsMissingBundle(t *testing.T) {
	root := t.TempDir()
	_, err := runApp(t, root, "create", "c1")
	assert.Error(t, err)
}

func TestCreateCommandWritesState(t *testing.T) {
	root := t.TempDir()
	bundle := newTestBundle(t)

	_, err := runApp(t, root, "create", "--bundle", bundle, "c1")
	require.NoError(t, err)

	cs, err := state.LoadContainer(state.NewPaths(root, "c1"))
	require.NoError(t, err)
	assert.Equal(t, "c1", cs.ID)
	assert.Equal(t, bundle, cs.Bundle)
}

func TestCreateCommandRejectsDuplicateID(t *testing.T) {
	root := t.TempDir()
	bundle := newTestBundle(t)

	_, err := runApp(t, root, "create", "--bundle", bundle, "c1")
	require.NoError(t, err)

	_, err = runApp(t, root, "create", "--bundle", bundle, "c1")
	assert.Error(t, err)
}

func TestStateCommandPrintsJSON(t *testing.T) {
	root := t.TempDir()
	bundle := newTestBundle(t)
	_, err := runApp(t, root, "create", "--bundle", bundle, "c1")
	require.NoError(t, err)

	out, err := runApp(t, root, "state", "c1")
	require.NoError(t, err)

	var cs state.ContainerState
	require.NoError(t, json.Unmarshal(out.Bytes(), &cs))
	assert.Equal(t, "c1", cs.ID)
}

func TestDeleteCommandIsIdempotent(t *testing.T) {
	root := t.TempDir()
	bundle := newTestBundle(t)
	_, err := runApp(t, root, "create", "--bundle", bundle, "c1")
	require.NoError(t, err)

	_, err = runApp(t, root, "delete", "c1")
	require.NoError(t, err)

	_, err = runApp(t, root, "delete", "c1")
	assert.NoError(t, err)
}

func TestKillCommandTreatsNeverStartedAsSuccess(t *testing.T) {
	root := t.TempDir()
	bundle := newTestBundle(t)
	_, err := runApp(t, root, "create", "--bundle", bundle, "c1")
	require.NoError(t, err)

	_, err = runApp(t, root, "kill", "c1", "15")
	assert.NoError(t, err)
}

func TestKillCommandRequiresContainerID(t *testing.T) {
	root := t.TempDir()
	_, err := runApp(t, root, "kill")
	assert.Error(t, err)
}
