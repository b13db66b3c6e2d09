package lock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func lockPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "state.json.lock")
}

func TestTryLock(t *testing.T) {
	path := lockPath(t)

	fl := New(path)
	if err := fl.TryLock(); err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("lock file missing: %v", err)
	}

	second := New(path)
	if err := second.TryLock(); err == nil {
		t.Fatal("second TryLock should fail while the lock is held")
	}

	if err := fl.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("lock file still present after Unlock")
	}
	if err := second.TryLock(); err != nil {
		t.Fatalf("TryLock after release: %v", err)
	}
}

func TestAcquire_Timeout(t *testing.T) {
	path := lockPath(t)
	if err := os.WriteFile(path, []byte("9999\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	// Keep the lock file fresh so it never qualifies as stale.
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	fl := New(path).WithTimeout(100 * time.Millisecond)
	if err := fl.Acquire(); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Acquire = %v, want ErrTimeout", err)
	}
}

func TestAcquire_StaleTakeover(t *testing.T) {
	path := lockPath(t)
	if err := os.WriteFile(path, []byte("9999\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, past, past); err != nil {
		t.Fatal(err)
	}

	fl := New(path).WithTimeout(100 * time.Millisecond)
	if err := fl.Acquire(); err != nil {
		t.Fatalf("Acquire should reclaim a stale lock, got %v", err)
	}
	fl.Unlock()
}

func TestAcquire_WaitsForRelease(t *testing.T) {
	path := lockPath(t)

	holder := New(path)
	if err := holder.TryLock(); err != nil {
		t.Fatal(err)
	}
	go func() {
		time.Sleep(100 * time.Millisecond)
		holder.Unlock()
	}()

	waiter := New(path).WithTimeout(2 * time.Second)
	start := time.Now()
	if err := waiter.Acquire(); err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Fatal("Acquire returned before the holder released")
	}
	waiter.Unlock()
}

func TestUnlock_NotHeld(t *testing.T) {
	fl := New(lockPath(t))
	if err := fl.Unlock(); err != nil {
		t.Fatalf("Unlock without holding: %v", err)
	}
	if err := fl.Unlock(); err != nil {
		t.Fatalf("double Unlock: %v", err)
	}
}
