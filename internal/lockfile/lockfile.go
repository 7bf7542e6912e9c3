// Package lockfile implements advisory cross-process exclusion via atomic
// sidecar lockfile creation, plus crash-safe atomic JSON writes.
//
// The lock protocol is portable (no flock/fcntl): O_CREATE|O_EXCL on
// <path>.lock wins the lock; the file carries {pid, created_at, target} so a
// stuck lock can be diagnosed. A lockfile older than the stale budget is
// reclaimed, which recovers from holders that crashed without cleanup.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrLockTimeout is returned when lock acquisition exceeds its budget.
var ErrLockTimeout = errors.New("lock acquisition timed out")

const pollInterval = 50 * time.Millisecond

// Defaults mirror the state-lock budgets used by the CLI.
const (
	DefaultTimeout    = 10 * time.Second
	DefaultStaleAfter = 5 * time.Minute
)

type lockPayload struct {
	PID       int    `json:"pid"`
	CreatedAt string `json:"created_at"`
	Target    string `json:"target"`
}

// Lock is a held sidecar lock. Release it exactly once.
type Lock struct {
	path     string
	released bool
}

func lockPathFor(path string) string {
	return path + ".lock"
}

// Acquire takes the sidecar lock guarding path, polling until timeout.
// A lockfile whose mtime is older than staleAfter is treated as abandoned
// and removed before retrying.
func Acquire(path string, timeout, staleAfter time.Duration) (*Lock, error) {
	lockPath := lockPathFor(path)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	deadline := time.Now().Add(timeout)

	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			payload := lockPayload{
				PID:       os.Getpid(),
				CreatedAt: time.Now().UTC().Format(time.RFC3339),
				Target:    path,
			}
			enc := json.NewEncoder(f)
			_ = enc.Encode(payload)
			_ = f.Close()
			return &Lock{path: lockPath}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("creating lockfile %s: %w", lockPath, err)
		}

		// Best-effort stale lock cleanup for crashed writers.
		if st, statErr := os.Stat(lockPath); statErr == nil {
			if staleAfter > 0 && time.Since(st.ModTime()) > staleAfter {
				_ = os.Remove(lockPath)
				continue
			}
		} else if os.IsNotExist(statErr) {
			continue
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, lockPath)
		}
		time.Sleep(pollInterval)
	}
}

// Release removes the lockfile. Safe to call once; subsequent calls no-op.
func (l *Lock) Release() {
	if l == nil || l.released {
		return
	}
	l.released = true
	_ = os.Remove(l.path)
}

// WriteJSONAtomic acquires the lock for path, then writes payload via
// tmp-file + rename so readers never observe a torn file.
func WriteJSONAtomic(path string, payload any, timeout time.Duration) error {
	lock, err := Acquire(path, timeout, DefaultStaleAfter)
	if err != nil {
		return err
	}
	defer lock.Release()
	return WriteJSONAtomicLocked(path, payload)
}

// WriteJSONAtomicLocked performs the tmp+rename write without taking the
// lock. Callers must already hold the lock for path (or be the only writer,
// as in journal recovery at startup).
func WriteJSONAtomicLocked(path string, payload any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmp, err)
	}
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("syncing %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("closing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming %s: %w", tmp, err)
	}
	return nil
}

// ReadJSON decodes path into out. Readers do not take the lock: the writer's
// rename guarantees they see either the prior or the new contents.
func ReadJSON(path string, out any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}
