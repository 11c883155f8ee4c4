// Package fslock provides file-based advisory locks for operations that
// must not run concurrently across processes, such as renewing one
// service's certificate from two invocations at once.
package fslock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// acquireRetryInterval is how often a blocked Acquire re-attempts the lock.
const acquireRetryInterval = 100 * time.Millisecond

// Lock is a file-based advisory lock. The zero value is not usable, use
// New or ForService.
type Lock struct {
	fl *flock.Flock
}

// New creates a lock on the given path. The lock file's parent directory
// must exist.
func New(path string) *Lock {
	return &Lock{fl: flock.New(path)}
}

// ForService creates the conventional per-service lock under lockDir,
// creating the directory if needed.
func ForService(lockDir, service string) (*Lock, error) {
	if err := os.MkdirAll(lockDir, 0o700); err != nil {
		return nil, fmt.Errorf("could not create lock directory %s: %w", lockDir, err)
	}
	return New(filepath.Join(lockDir, service+".lock")), nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.fl.Path()
}

// Acquire blocks until the lock is held or the context is done.
func (l *Lock) Acquire(ctx context.Context) error {
	ok, err := l.fl.TryLockContext(ctx, acquireRetryInterval)
	if err != nil {
		return fmt.Errorf("could not acquire lock %s: %w", l.fl.Path(), err)
	}
	if !ok {
		return fmt.Errorf("could not acquire lock %s", l.fl.Path())
	}
	return nil
}

// TryAcquire attempts the lock once without blocking.
func (l *Lock) TryAcquire() (bool, error) {
	return l.fl.TryLock()
}

// Release drops the lock. Releasing an unheld lock is a no-op.
func (l *Lock) Release() error {
	return l.fl.Unlock()
}
