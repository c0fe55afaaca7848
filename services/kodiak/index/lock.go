// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"errors"
	"fmt"
	"os"
)

// errLockHeld is the platform-neutral "already locked" signal returned by
// the platform lock functions.
var errLockHeld = errors.New("lock held")

// dirLock is a held advisory lock on a snapshot directory.
type dirLock struct {
	f *os.File
}

// acquireDirLock opens (creating if needed) the lock file and takes a
// non-blocking exclusive lock on it.
//
// Returns ErrSnapshotLocked when another process holds the lock.
func acquireDirLock(path string) (*dirLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := lockFileExclusive(f); err != nil {
		_ = f.Close()
		if errors.Is(err, errLockHeld) {
			return nil, fmt.Errorf("%w: %s", ErrSnapshotLocked, path)
		}
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	return &dirLock{f: f}, nil
}

// release drops the lock and closes the lock file. Safe to call once.
func (l *dirLock) release() {
	_ = unlockFile(l.f)
	_ = l.f.Close()
}
