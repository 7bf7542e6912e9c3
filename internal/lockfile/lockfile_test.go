package lockfile

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestAcquireRelease(t *testing.T) {
	target := filepath.Join(t.TempDir(), "state.json")
	lock, err := Acquire(target, time.Second, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(target + ".lock"); err != nil {
		t.Fatalf("lockfile missing while held: %v", err)
	}
	lock.Release()
	if _, err := os.Stat(target + ".lock"); !os.IsNotExist(err) {
		t.Fatalf("lockfile still present after release: %v", err)
	}
}

func TestAcquireTimesOutWhileHeld(t *testing.T) {
	target := filepath.Join(t.TempDir(), "state.json")
	lock, err := Acquire(target, time.Second, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	defer lock.Release()

	_, err = Acquire(target, 150*time.Millisecond, time.Minute)
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("second acquire = %v, want ErrLockTimeout", err)
	}
}

func TestStaleLockReclaimed(t *testing.T) {
	target := filepath.Join(t.TempDir(), "state.json")
	lockPath := target + ".lock"
	if err := os.WriteFile(lockPath, []byte(`{"pid":1}`), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(lockPath, old, old); err != nil {
		t.Fatal(err)
	}

	lock, err := Acquire(target, time.Second, time.Minute)
	if err != nil {
		t.Fatalf("stale lock not reclaimed: %v", err)
	}
	lock.Release()
}

func TestMutualExclusion(t *testing.T) {
	target := filepath.Join(t.TempDir(), "counter.json")
	if err := WriteJSONAtomic(target, map[string]int{"n": 0}, time.Second); err != nil {
		t.Fatal(err)
	}

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lock, err := Acquire(target, 5*time.Second, time.Minute)
			if err != nil {
				t.Error(err)
				return
			}
			defer lock.Release()
			var cur map[string]int
			if err := ReadJSON(target, &cur); err != nil {
				t.Error(err)
				return
			}
			cur["n"]++
			if err := WriteJSONAtomicLocked(target, cur); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	var final map[string]int
	if err := ReadJSON(target, &final); err != nil {
		t.Fatal(err)
	}
	if final["n"] != workers {
		t.Errorf("lost updates: n = %d, want %d", final["n"], workers)
	}
}

func TestAtomicWriteNeverTorn(t *testing.T) {
	target := filepath.Join(t.TempDir(), "state.json")
	payload := map[string]string{"k": "v"}
	for i := 0; i < 20; i++ {
		if err := WriteJSONAtomic(target, payload, time.Second); err != nil {
			t.Fatal(err)
		}
		b, err := os.ReadFile(target)
		if err != nil {
			t.Fatal(err)
		}
		var out map[string]string
		if err := json.Unmarshal(b, &out); err != nil {
			t.Fatalf("torn read on iteration %d: %v", i, err)
		}
	}
}
