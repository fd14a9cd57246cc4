// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

package shim

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/miguelgila/reaper/pkg/config"
)

// configureLogging keeps the shim silent by default: its own
// stdout/stderr are reserved for TTRPC framing, so logrus must never
// write there. With REAPER_SHIM_LOG unset, every log line is
// discarded; when set, it is appended to that file instead.
func configureLogging(values config.Values) error {
	path := values.String(config.KeyShimLogPath, "")
	if path == "" {
		logrus.SetOutput(io.Discard)
		return nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_SYNC, 0640)
	if err != nil {
		return err
	}
	logrus.SetOutput(f)
	return nil
}
