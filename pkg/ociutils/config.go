// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

// Package ociutils parses an OCI bundle's config.json into the
// process launch parameters Reaper's monitoring daemon needs. Reaper
// launches the workload as an ordinary host process, so only
// Process and Annotations are consulted; root, mount and Linux resource
// directives are intentionally not applied.
package ociutils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/pkg/errors"

	"github.com/miguelgila/reaper/pkg/types"
)

func configPath(bundle string) string {
	return filepath.Join(bundle, "config.json")
}

// ParseConfigJSON unmarshals a bundle's config.json into an OCI
// runtime-spec Spec.
func ParseConfigJSON(bundle string) (specs.Spec, error) {
	path := configPath(bundle)
	data, err := os.ReadFile(path)
	if err != nil {
		return specs.Spec{}, errors.Wrapf(err, "read %s", path)
	}

	var spec specs.Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return specs.Spec{}, errors.Wrapf(err, "unmarshal %s", path)
	}
	return spec, nil
}

// ProcessSpec is the subset of an OCI Spec.Process Reaper's daemon
// needs to exec the workload as a host process.
type ProcessSpec struct {
	Args            []string
	Env             []string
	Cwd             string
	Terminal        bool
	UID             uint32
	GID             uint32
	Groups          []uint32
	NoNewPrivileges bool
}

// ExtractProcess reduces an OCI Spec into the launch parameters the
// monitoring daemon's exec.Cmd needs.
func ExtractProcess(spec specs.Spec) (ProcessSpec, error) {
	if spec.Process == nil {
		return ProcessSpec{}, errors.New("config.json has no process section")
	}
	p := spec.Process

	if len(p.Args) == 0 {
		return ProcessSpec{}, errors.New("config.json process.args is empty")
	}

	cwd := p.Cwd
	if cwd == "" {
		cwd = "/"
	}

	ps := ProcessSpec{
		Args:            append([]string{}, p.Args...),
		Env:             append([]string{}, p.Env...),
		Cwd:             cwd,
		Terminal:        p.Terminal,
		NoNewPrivileges: p.NoNewPrivileges,
	}

	if p.User.UID != 0 || p.User.GID != 0 {
		ps.UID = p.User.UID
		ps.GID = p.User.GID
	}
	ps.Groups = append(ps.Groups, p.User.AdditionalGids...)

	return ps, nil
}

// KubernetesNamespace reads the pod-namespace annotation a CRI shim
// sets on every container it creates, used to pick the overlay scope
// in namespace-isolation mode.
func KubernetesNamespace(spec specs.Spec) string {
	return spec.Annotations[types.KubernetesNamespaceAnnotation]
}

// IsSandboxContainer tells a pod's pause/infra container apart from a
// regular workload container: the explicit CRI container-type
// annotation wins when present, otherwise the command line or image
// reference mentioning "pause" is taken as the answer.
func IsSandboxContainer(spec specs.Spec) bool {
	if t, ok := spec.Annotations["io.kubernetes.cri.container-type"]; ok {
		return t == "sandbox"
	}
	if img, ok := spec.Annotations["io.kubernetes.cri.image-name"]; ok && containsPause(img) {
		return true
	}
	if spec.Process != nil {
		for _, a := range spec.Process.Args {
			if containsPause(a) {
				return true
			}
		}
	}
	return false
}

func containsPause(s string) bool {
	return strings.Contains(s, "pause")
}

// ValidateBundle performs the minimal sanity check create needs: the
// bundle directory and its config.json must exist.
func ValidateBundle(bundle string) error {
	info, err := os.Stat(bundle)
	if err != nil {
		return errors.Wrapf(err, "stat bundle %s", bundle)
	}
	if !info.IsDir() {
		return fmt.Errorf("bundle %s is not a directory", bundle)
	}
	if _, err := os.Stat(configPath(bundle)); err != nil {
		return errors.Wrapf(err, "stat %s", configPath(bundle))
	}
	return nil
}
