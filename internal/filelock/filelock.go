// Package filelock provides an exclusive advisory lock backed by flock(2).
//
// The lock is visible to every process on the host that opens the same
// path, and to every other open file description inside this process, so
// it serializes independent CGI invocations as well as goroutines of a
// long-running server.
package filelock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// ErrTimeout is returned by Acquire when the lock could not be obtained
// before the timeout elapsed.
var ErrTimeout = errors.New("timed out waiting for lock")

// pollInterval bounds how long a waiter sleeps between attempts.
const pollInterval = 10 * time.Millisecond

// Lock is a held lock. Release is safe to call more than once.
type Lock struct {
	file *os.File
	path string
}

// Acquire blocks until the exclusive lock on path is obtained, the timeout
// elapses, or ctx is done. A zero timeout waits indefinitely. The lock file
// is created if missing; its contents are never touched.
func Acquire(ctx context.Context, path string, timeout time.Duration) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file %s: %w", path, err)
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return &Lock{file: file, path: path}, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR) {
			file.Close()
			return nil, fmt.Errorf("locking %s: %w", path, err)
		}

		select {
		case <-ctx.Done():
			file.Close()
			return nil, fmt.Errorf("waiting for lock %s: %w", path, ctx.Err())
		case <-deadline:
			file.Close()
			return nil, fmt.Errorf("%s after %s: %w", path, timeout, ErrTimeout)
		case <-ticker.C:
		}
	}
}

// TryAcquire makes a single non-blocking attempt. ok is false when another
// holder has the lock.
func TryAcquire(path string) (lock *Lock, ok bool, err error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, false, fmt.Errorf("opening lock file %s: %w", path, err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("locking %s: %w", path, err)
	}
	return &Lock{file: file, path: path}, true, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release unlocks and closes the lock file. Closing alone would drop the
// lock; the explicit unlock surfaces errors.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}

	unlockErr := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	if unlockErr != nil {
		return fmt.Errorf("unlocking %s: %w", l.path, unlockErr)
	}
	if closeErr != nil {
		return fmt.Errorf("closing lock file %s: %w", l.path, closeErr)
	}
	return nil
}
