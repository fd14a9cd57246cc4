// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

// Package types holds identifiers and enums shared across Reaper's
// shim, runtime CLI and overlay packages.
package types

// Status is a container or exec process lifecycle state.
//
// Transitions are monotonic: created -> running -> stopped, or
// created -> stopped directly on start failure. A record never
// returns to an earlier state.
type Status string

const (
	StatusCreated Status = "created"
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
)

const (
	// RuntimeName is the name containerd registers this shim under,
	// and what a pod selects via runtimeClassName: reaper-v2.
	RuntimeName = "io.containerd.reaper.v2"

	// DefaultRuntimeRoot is the root of all on-disk runtime state.
	DefaultRuntimeRoot = "/run/reaper"

	// KubernetesNamespaceAnnotation is the containerd/CRI annotation
	// key carrying the pod's Kubernetes namespace.
	KubernetesNamespaceAnnotation = "io.kubernetes.pod.namespace"
)
