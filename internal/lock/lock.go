// Package lock provides the cross-process mutex guarding the state file:
// a lock file created with O_EXCL, a bounded wait with polling, and
// stale-lock takeover once the holder has outlived the timeout.
package lock

import (
	"errors"
	"fmt"
	"os"
	"time"
)

const (
	// DefaultTimeout bounds how long Acquire waits before reclaiming
	// a stale lock or giving up.
	DefaultTimeout = 5 * time.Second

	pollInterval = 50 * time.Millisecond
)

// ErrTimeout is returned when the lock could not be acquired within the
// timeout and the existing lock file was too fresh to reclaim.
var ErrTimeout = errors.New("lock acquisition timed out")

type FileLock struct {
	path    string
	timeout time.Duration
	held    bool
}

func New(path string) *FileLock {
	return &FileLock{path: path, timeout: DefaultTimeout}
}

// WithTimeout overrides the bounded wait. Used by tests to keep the
// contention paths fast.
func (fl *FileLock) WithTimeout(d time.Duration) *FileLock {
	fl.timeout = d
	return fl
}

// TryLock attempts a single exclusive-create of the lock file.
func (fl *FileLock) TryLock() error {
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create lock file: %w", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	if err := f.Close(); err != nil {
		os.Remove(fl.path)
		return fmt.Errorf("close lock file: %w", err)
	}
	fl.held = true
	return nil
}

// Acquire polls TryLock until the timeout elapses. If the lock file is
// older than the timeout when the wait expires, the holder is assumed
// dead and the lock is reclaimed; otherwise ErrTimeout is returned and
// the caller decides how to degrade.
func (fl *FileLock) Acquire() error {
	deadline := time.Now().Add(fl.timeout)
	for {
		if err := fl.TryLock(); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			break
		}
		time.Sleep(pollInterval)
	}

	info, err := os.Stat(fl.path)
	if err != nil {
		// Holder released between the last poll and now.
		if err := fl.TryLock(); err == nil {
			return nil
		}
		return ErrTimeout
	}
	if time.Since(info.ModTime()) >= fl.timeout {
		os.Remove(fl.path)
		if err := fl.TryLock(); err == nil {
			return nil
		}
	}
	return ErrTimeout
}

// Unlock removes the lock file. Safe to call when the lock is not held.
func (fl *FileLock) Unlock() error {
	if !fl.held {
		return nil
	}
	fl.held = false
	if err := os.Remove(fl.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}
