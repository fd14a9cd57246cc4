// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

package ioplane

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayCopiesUntilEOF(t *testing.T) {
	src := bytes.NewBufferString("hello from the workload\n")
	dst := &bytes.Buffer{}

	r := &Relay{}
	r.CopyOut(dst, src)
	r.Wait()

	assert.Equal(t, "hello from the workload\n", dst.String())
}

// TestRelayHandlesOutputLargerThanBuffer: a relay loop must not
// truncate output that spans many multiples of the 4096-byte copy
// buffer.
func TestRelayHandlesOutputLargerThanBuffer(t *testing.T) {
	pr, pw := io.Pipe()
	dst := &bytes.Buffer{}

	r := &Relay{}
	r.CopyOut(dst, pr)

	const lines = 20000
	go func() {
		for i := 0; i < lines; i++ {
			_, err := io.WriteString(pw, "line of workload output\n")
			if err != nil {
				break
			}
		}
		pw.Close()
	}()

	r.Wait()

	count := bytes.Count(dst.Bytes(), []byte("\n"))
	require.Equal(t, lines, count)
}
