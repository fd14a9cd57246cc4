// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

package overlay

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

// acquireLock takes the scope's exclusive overlay lock, creating the
// lock file's parent directory first if needed. Both namespace
// creation and namespace join acquire it: join-only callers would be
// correct with a shared lock, exclusive just keeps the two paths
// identical.
func acquireLock(ctx context.Context, path string) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrapf(err, "create lock dir for %s", path)
	}

	l := flock.New(path)
	locked, err := l.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return nil, errors.Wrapf(err, "lock %s", path)
	}
	if !locked {
		return nil, errors.Errorf("failed to acquire lock %s", path)
	}
	return l, nil
}

func releaseLock(l *flock.Flock) {
	if l == nil {
		return
	}
	_ = l.Unlock()
}
