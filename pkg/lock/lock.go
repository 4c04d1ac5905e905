// Package lock provides the per-upload-id exclusive lock the protocol
// engine holds for the duration of a POST, PATCH or DELETE, grounded
// on tusd's filelocker: one lock file per id, acquired with a short
// retry loop so a caller can bound how long it waits under contention.
package lock

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/tus/lockfile"
)

// ErrLocked is returned by Lock when the context is done before the
// lock could be acquired.
var ErrLocked = errors.New("lock: upload is locked by another request")

// Locker hands out exclusive, per-id locks backed by lock files under
// Path. Path must already exist.
type Locker struct {
	Path string
	// PollInterval is how often a blocked acquirer retries. Defaults to
	// 10ms if zero.
	PollInterval time.Duration
}

// New returns a Locker rooted at path.
func New(path string) Locker {
	return Locker{Path: path, PollInterval: 10 * time.Millisecond}
}

// Lock blocks until the lock for id is acquired or ctx is done. On
// success it returns a release function that must be called exactly
// once to unlock.
func (l Locker) Lock(ctx context.Context, id string) (func(), error) {
	interval := l.PollInterval
	if interval == 0 {
		interval = 10 * time.Millisecond
	}

	path, err := filepath.Abs(filepath.Join(l.Path, id+".lock"))
	if err != nil {
		return nil, err
	}
	file := lockfile.Lockfile(path)

	for {
		err := file.TryLock()
		if err == nil {
			return func() { _ = file.Unlock() }, nil
		}
		if errors.Is(err, fs.ErrNotExist) || err == lockfile.ErrNotExist {
			// The lock directory or file isn't visible yet; keep retrying
			// until ctx is done.
		} else if err != lockfile.ErrBusy {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ErrLocked
		case <-time.After(interval):
		}
	}
}
