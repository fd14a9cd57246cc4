// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

// Package state implements Reaper's on-disk state records: the single
// source of truth the shim, the runtime CLI and the monitoring daemon
// use to synchronize across process boundaries. There is no shared
// memory between these processes, so every visible transition has to
// be observable by reading a file back.
//
// Every write is atomic (write to a temp file, then rename) rather
// than truncate-in-place, since a reader racing a writer must never
// observe a half-written record.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/miguelgila/reaper/pkg/types"
)

// Runtime state is sensitive (FIFO paths, pids) and lives on tmpfs;
// keep it owner-only.
const (
	dirMode  = os.FileMode(0700)
	fileMode = os.FileMode(0600)
)

// ContainerState is the JSON document persisted at
// <runtime-root>/<container-id>/state.json.
type ContainerState struct {
	ID       string       `json:"id"`
	Bundle   string       `json:"bundle"`
	Status   types.Status `json:"status"`
	Pid      int          `json:"pid,omitempty"`
	ExitCode *int         `json:"exit_code,omitempty"`

	Stdin  string `json:"stdin,omitempty"`
	Stdout string `json:"stdout,omitempty"`
	Stderr string `json:"stderr,omitempty"`

	// Namespace is the Kubernetes namespace annotation captured at
	// create time; it drives per-namespace overlay scoping.
	Namespace string `json:"namespace,omitempty"`

	Terminal bool `json:"terminal"`

	CreatedAt time.Time `json:"created_at"`
	StartedAt time.Time `json:"started_at,omitempty"`
	StoppedAt time.Time `json:"stopped_at,omitempty"`
}

// ExecState is the JSON document persisted at
// <runtime-root>/<container-id>/exec-<exec-id>.json.
type ExecState struct {
	ContainerID string       `json:"container_id"`
	ExecID      string       `json:"exec_id"`
	Status      types.Status `json:"status"`
	Pid         int          `json:"pid,omitempty"`
	ExitCode    *int         `json:"exit_code,omitempty"`

	Args []string `json:"args"`
	Env  []string `json:"env,omitempty"`
	Cwd  string   `json:"cwd,omitempty"`

	Terminal bool `json:"terminal"`

	Stdin  string `json:"stdin,omitempty"`
	Stdout string `json:"stdout,omitempty"`
	Stderr string `json:"stderr,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Paths computes the well-known on-disk layout for a single container,
// rooted at runtimeRoot (default types.DefaultRuntimeRoot).
type Paths struct {
	RuntimeRoot string
	ContainerID string
}

// Dir is <runtime-root>/<container-id>/.
func (p Paths) Dir() string {
	return filepath.Join(p.RuntimeRoot, p.ContainerID)
}

// StateFile is <runtime-root>/<container-id>/state.json.
func (p Paths) StateFile() string {
	return filepath.Join(p.Dir(), "state.json")
}

// ExecFile is <runtime-root>/<container-id>/exec-<exec-id>.json.
func (p Paths) ExecFile(execID string) string {
	return filepath.Join(p.Dir(), fmt.Sprintf("exec-%s.json", execID))
}

// NewPaths builds a Paths using the default runtime root when root is
// empty.
func NewPaths(root, containerID string) Paths {
	if root == "" {
		root = types.DefaultRuntimeRoot
	}
	return Paths{RuntimeRoot: root, ContainerID: containerID}
}

// atomicWrite serializes v as JSON into a temp file beside path and
// renames it into place, so a concurrent reader never observes a
// partially written record.
func atomicWrite(path string, v interface{}) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return errors.Wrapf(err, "create state dir %s", dir)
	}

	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), uuid.NewString()))
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, fileMode)
	if err != nil {
		return errors.Wrapf(err, "create temp state file %s", tmp)
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "encode state")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "sync state file")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "close state file")
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "rename %s to %s", tmp, path)
	}
	return nil
}

// SaveContainer atomically persists cs at p.StateFile().
func SaveContainer(p Paths, cs *ContainerState) error {
	return atomicWrite(p.StateFile(), cs)
}

// LoadContainer reads and decodes the container state at p.StateFile().
func LoadContainer(p Paths) (*ContainerState, error) {
	data, err := os.ReadFile(p.StateFile())
	if err != nil {
		return nil, err
	}
	cs := &ContainerState{}
	if err := json.Unmarshal(data, cs); err != nil {
		return nil, errors.Wrapf(err, "decode state file %s", p.StateFile())
	}
	return cs, nil
}

// SaveExec atomically persists es at p.ExecFile(es.ExecID).
func SaveExec(p Paths, es *ExecState) error {
	return atomicWrite(p.ExecFile(es.ExecID), es)
}

// LoadExec reads and decodes the exec state at p.ExecFile(execID).
func LoadExec(p Paths, execID string) (*ExecState, error) {
	data, err := os.ReadFile(p.ExecFile(execID))
	if err != nil {
		return nil, err
	}
	es := &ExecState{}
	if err := json.Unmarshal(data, es); err != nil {
		return nil, errors.Wrapf(err, "decode exec file %s", p.ExecFile(execID))
	}
	return es, nil
}

// DeleteExec removes the exec state file. Deleting a record that does
// not exist is success.
func DeleteExec(p Paths, execID string) error {
	err := os.Remove(p.ExecFile(execID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// RemoveContainer deletes the entire per-container directory. Removing
// a directory that does not exist is success.
func RemoveContainer(p Paths) error {
	err := os.RemoveAll(p.Dir())
	if err != nil {
		return errors.Wrapf(err, "remove container dir %s", p.Dir())
	}
	return nil
}

// Exists reports whether the container directory was ever created.
func (p Paths) Exists() bool {
	_, err := os.Stat(p.Dir())
	return err == nil
}
