package runctl

import (
	"fmt"

	"github.com/gofrs/flock"
)

// Lock is the exclusive external lock a run session asserts while active.
// Acquire fails if another holder exists; Release is idempotent.
type Lock interface {
	Acquire() error
	Release() error
}

// FileLock asserts exclusivity through an OS advisory lock on a file. The
// kernel drops the lock when the holding process exits, so a crashed run
// never blocks future ones. Suited to keeping concurrent invocations (CLI
// and server) from distributing at the same time on one machine.
type FileLock struct {
	fl *flock.Flock
}

// NewFileLock creates a FileLock at path.
func NewFileLock(path string) *FileLock {
	return &FileLock{fl: flock.New(path)}
}

// Acquire takes the advisory lock without blocking.
func (l *FileLock) Acquire() error {
	ok, err := l.fl.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", l.fl.Path(), err)
	}
	if !ok {
		return fmt.Errorf("lock %s: already held", l.fl.Path())
	}
	return nil
}

// Release drops the advisory lock. Releasing an unheld lock is a no-op.
func (l *FileLock) Release() error {
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("unlock %s: %w", l.fl.Path(), err)
	}
	return nil
}
