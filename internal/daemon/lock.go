package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	werrors "github.com/Aman-CERP/watchsync/internal/errors"
)

// instanceLock ensures one daemon per data directory. The PID file alone
// cannot do this: a stale PID may be reused by an unrelated process.
type instanceLock struct {
	flock  *flock.Flock
	locked bool
}

func newInstanceLock(path string) *instanceLock {
	return &instanceLock{flock: flock.New(path)}
}

// TryLock acquires the lock without blocking.
func (l *instanceLock) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.flock.Path()), 0o700); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return werrors.New(werrors.ErrCodeDaemonLocked, "failed to acquire daemon lock", err)
	}
	if !acquired {
		return werrors.New(werrors.ErrCodeDaemonLocked, "another daemon is already running", nil).
			WithDetail("lock", l.flock.Path()).
			WithSuggestion("Stop it with: watchsync daemon stop")
	}
	l.locked = true
	return nil
}

// Unlock releases the lock. Safe to call when not held.
func (l *instanceLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
