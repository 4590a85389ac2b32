package config

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/afero"
)

// FileLocker serializes writers of one config file across processes
type FileLocker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock() error
}

// FileLock is an advisory lock on a sibling ".lock" file
type FileLock struct {
	path  string
	flock *flock.Flock
}

// NewFileLock creates a lock guarding filePath
func NewFileLock(filePath string) *FileLock {
	lockPath := filePath + ".lock"
	slog.Debug("creating config file lock", "lock_path", lockPath)
	return &FileLock{path: lockPath, flock: flock.New(lockPath)}
}

// TryLock retries until the lock is acquired or ctx is done
func (fl *FileLock) TryLock(ctx context.Context) (bool, error) {
	ok, err := fl.flock.TryLockContext(ctx, 50*time.Millisecond)
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		slog.Debug("config lock busy", "lock_path", fl.path)
		return false, nil
	}
	if err != nil {
		slog.Error("failed to acquire config lock", "lock_path", fl.path, "error", err)
		return false, err
	}
	slog.Debug("config lock acquired", "lock_path", fl.path)
	return ok, nil
}

// Unlock releases the lock
func (fl *FileLock) Unlock() error {
	if err := fl.flock.Unlock(); err != nil {
		slog.Error("failed to release config lock", "lock_path", fl.path, "error", err)
		return err
	}
	slog.Debug("config lock released", "lock_path", fl.path)
	return nil
}

// lockerFor returns a lock for filePath when fs writes to the real
// filesystem. In-memory filesystems are private to the process and need none.
func lockerFor(fs afero.Fs, filePath string) FileLocker {
	if _, ok := fs.(*afero.OsFs); !ok {
		return nil
	}
	return NewFileLock(filePath)
}
