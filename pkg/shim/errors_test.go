// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

package shim

import (
	"os"
	"syscall"
	"testing"

	"github.com/containerd/containerd/errdefs"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestClassifyNotFoundFromOSError(t *testing.T) {
	_, err := os.Open("/no/such/file/reaper-test")
	assert.True(t, os.IsNotExist(err))
	assert.True(t, errdefs.IsNotFound(classify(err)))
}

func TestClassifyNotFoundFromESRCH(t *testing.T) {
	assert.True(t, errdefs.IsNotFound(classify(syscall.ESRCH)))
}

func TestClassifyNotFoundFromMessage(t *testing.T) {
	assert.True(t, errdefs.IsNotFound(classify(errors.New("container does not exist abc"))))
}

func TestClassifyAlreadyExistsFromMessage(t *testing.T) {
	assert.True(t, errdefs.IsAlreadyExists(classify(errors.New("container abc already exists"))))
}

func TestClassifyInvalidArgumentFromMessage(t *testing.T) {
	assert.True(t, errdefs.IsInvalidArgument(classify(errors.New("--bundle is required"))))
	assert.True(t, errdefs.IsInvalidArgument(classify(errors.New("bundle is empty"))))
}

func TestClassifyPassesThroughAlreadyClassified(t *testing.T) {
	assert.Same(t, errdefs.ErrAlreadyExists, classify(errdefs.ErrAlreadyExists))
}

func TestClassifyLeavesUnrecognizedErrorsAlone(t *testing.T) {
	err := errors.New("something unexpected happened")
	assert.Equal(t, err, classify(err))
}

func TestToGRPCNilIsNil(t *testing.T) {
	assert.NoError(t, toGRPC(nil))
}

func TestToGRPCWrapsClassifiedError(t *testing.T) {
	err := toGRPC(errors.New("container does not exist x"))
	assert.Error(t, err)
}
