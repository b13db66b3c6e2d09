// Package state persists the workflow state file: lock-guarded loads and
// atomic temp-file-plus-rename saves, with graceful degradation on both
// paths. A missing or corrupt file loads as a fresh default state, and a
// lock timeout on save falls back to a direct write so progress is never
// blocked on transient lock contention.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/flowgate/flowgate/internal/lock"
	"github.com/flowgate/flowgate/internal/model"
)

// Store reads and writes a single state file.
type Store struct {
	path        string
	lockTimeout time.Duration
}

func NewStore(path string) *Store {
	return &Store{path: path, lockTimeout: lock.DefaultTimeout}
}

// WithLockTimeout overrides the lock wait, mainly for tests.
func (s *Store) WithLockTimeout(d time.Duration) *Store {
	s.lockTimeout = d
	return s
}

func (s *Store) lockPath() string {
	return s.path + ".lock"
}

// Load reads the state file under the lock. A missing file yields a fresh
// default state; so does an unparseable one. The caller sees "no state"
// rather than a crash.
func (s *Store) Load() *model.WorkflowState {
	fl := lock.New(s.lockPath()).WithTimeout(s.lockTimeout)
	if err := fl.Acquire(); err == nil {
		defer fl.Unlock()
	}

	content, err := os.ReadFile(s.path)
	if err != nil {
		return model.NewWorkflowState()
	}

	st := model.NewWorkflowState()
	if err := json.Unmarshal(content, st); err != nil {
		log.Printf("state file unreadable, starting fresh: path=%s err=%v", s.path, err)
		return model.NewWorkflowState()
	}
	st.Normalize()
	return st
}

// Save writes the state under the lock via an atomic rename. On lock
// timeout it degrades to a direct unsynchronized write instead of failing
// the operation: availability over strict atomicity.
func (s *Store) Save(st *model.WorkflowState) error {
	content, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}

	fl := lock.New(s.lockPath()).WithTimeout(s.lockTimeout)
	if err := fl.Acquire(); err != nil {
		if !errors.Is(err, lock.ErrTimeout) {
			return fmt.Errorf("acquire state lock: %w", err)
		}
		log.Printf("state lock timeout, falling back to direct write: path=%s", s.path)
		if err := os.WriteFile(s.path, content, 0o644); err != nil {
			return fmt.Errorf("direct write state: %w", err)
		}
		return nil
	}
	defer fl.Unlock()

	return atomicWrite(s.path, content)
}

// atomicWrite lands content via a temp file in the target directory and
// an atomic rename over the destination.
func atomicWrite(path string, content []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".flowgate-tmp-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}
