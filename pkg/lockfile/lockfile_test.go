package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/paulschiretz/pgl-snapctl/pkg/util"
)

// Helper to write an owner record straight to disk.
func writeOwnerFile(t *testing.T, path string, owner Owner) {
	t.Helper()
	data, err := json.Marshal(owner)
	if err != nil {
		t.Fatalf("failed to marshal owner: %v", err)
	}
	if err := os.WriteFile(path, data, util.UserWritableFilePerms); err != nil {
		t.Fatalf("failed to write lock file: %v", err)
	}
}

func TestPathFor(t *testing.T) {
	lockDir := t.TempDir()

	a, err := PathFor(lockDir, "/data/backups")
	if err != nil {
		t.Fatalf("PathFor() returned error: %v", err)
	}
	b, _ := PathFor(lockDir, "/data/backups/")
	c, _ := PathFor(lockDir, "/data/other")

	if a != b {
		t.Errorf("expected equivalent roots to share a lock, got %q and %q", a, b)
	}
	if a == c {
		t.Errorf("expected different roots to get different locks, both got %q", a)
	}
	if filepath.Dir(a) != lockDir {
		t.Errorf("expected lock inside %q, got %q", lockDir, a)
	}
}

func TestAcquireAndRelease(t *testing.T) {
	lockDir := filepath.Join(t.TempDir(), "locks")
	root := t.TempDir()

	lock, err := Acquire(context.Background(), lockDir, root, "start", "req-1")
	if err != nil {
		t.Fatalf("expected to acquire lock, got error: %v", err)
	}
	if _, err := os.Stat(lock.Path()); err != nil {
		t.Fatalf("lock file was not created: %v", err)
	}

	owner, err := readOwner(lock.Path())
	if err != nil {
		t.Fatalf("failed to read owner: %v", err)
	}
	if owner.Action != "start" || owner.RequestID != "req-1" || owner.PID != int64(os.Getpid()) {
		t.Errorf("unexpected owner: %+v", owner)
	}

	entries, _ := os.ReadDir(root)
	if len(entries) != 0 {
		t.Errorf("expected nothing written to the backup root, found %d entries", len(entries))
	}

	lock.Release()
	if _, err := os.Stat(lock.Path()); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("lock file was not removed after release")
	}
}

func TestContention(t *testing.T) {
	lockDir := t.TempDir()
	root := "/data/backups"

	lock1, err := Acquire(context.Background(), lockDir, root, "restore", "req-1")
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	defer lock1.Release()

	_, err = Acquire(context.Background(), lockDir, root, "stop", "req-2")
	var active *ActiveError
	if !errors.As(err, &active) {
		t.Fatalf("expected *ActiveError, got %T: %v", err, err)
	}
	if active.Owner.RequestID != "req-1" || active.Owner.Action != "restore" {
		t.Errorf("expected error to name the holder, got %+v", active.Owner)
	}

	lock2, err := Acquire(context.Background(), lockDir, "/data/other", "stop", "req-3")
	if err != nil {
		t.Fatalf("expected a different root to be lockable, got %v", err)
	}
	lock2.Release()
}

func TestStaleLockTakeover(t *testing.T) {
	lockDir := t.TempDir()
	root := "/data/backups"
	lockPath, _ := PathFor(lockDir, root)

	writeOwnerFile(t, lockPath, Owner{
		PID:      12345,
		Hostname: "stale-host",
		Root:     root,
		Updated:  time.Now().Add(-(staleAfter + time.Minute)),
		Nonce:    "stale-nonce",
	})

	lock, err := Acquire(context.Background(), lockDir, root, "update", "req-new")
	if err != nil {
		t.Fatalf("failed to take over stale lock: %v", err)
	}
	defer lock.Release()

	owner, err := readOwner(lockPath)
	if err != nil {
		t.Fatalf("failed to read owner: %v", err)
	}
	if owner.RequestID != "req-new" {
		t.Errorf("expected new owner, got %+v", owner)
	}
}

func TestCorruptLockTakeover(t *testing.T) {
	lockDir := t.TempDir()
	root := "/data/backups"
	lockPath, _ := PathFor(lockDir, root)
	if err := os.WriteFile(lockPath, []byte("{not json"), util.UserWritableFilePerms); err != nil {
		t.Fatalf("failed to write corrupt lock: %v", err)
	}

	lock, err := Acquire(context.Background(), lockDir, root, "start", "req-1")
	if err != nil {
		t.Fatalf("failed to take over corrupt lock: %v", err)
	}
	lock.Release()
}

func TestStaleLockContention(t *testing.T) {
	lockDir := t.TempDir()
	root := "/data/backups"
	lockPath, _ := PathFor(lockDir, root)
	writeOwnerFile(t, lockPath, Owner{PID: 12345, Updated: time.Now().Add(-(staleAfter + time.Minute))})

	const contenders = 4
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []*Lock
	)
	for range contenders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lock, err := Acquire(context.Background(), lockDir, root, "start", "req")
			if err == nil {
				mu.Lock()
				winners = append(winners, lock)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(winners) == 0 {
		t.Fatal("expected one contender to take over the stale lock")
	}
	if len(winners) > 1 {
		t.Errorf("expected exactly one winner, got %d", len(winners))
	}
	for _, l := range winners {
		l.Release()
	}
}

func TestHeartbeatRefreshesOwner(t *testing.T) {
	orig := heartbeatInterval
	heartbeatInterval = 20 * time.Millisecond
	t.Cleanup(func() { heartbeatInterval = orig })

	lock, err := Acquire(context.Background(), t.TempDir(), "/data/backups", "start", "req-1")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer lock.Release()

	first, _ := readOwner(lock.Path())
	time.Sleep(100 * time.Millisecond)
	second, err := readOwner(lock.Path())
	if err != nil {
		t.Fatalf("failed to read owner: %v", err)
	}
	if !second.Updated.After(first.Updated) {
		t.Errorf("expected heartbeat to advance the timestamp, got %v then %v", first.Updated, second.Updated)
	}
}

func TestReleaseIdempotency(t *testing.T) {
	lock, err := Acquire(context.Background(), t.TempDir(), "/data/backups", "start", "req-1")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	lock.Release()
	lock.Release()
}

func TestAcquire_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Acquire(ctx, t.TempDir(), "/data/backups", "start", "req-1")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRemoveOldTempFiles(t *testing.T) {
	lockDir := t.TempDir()
	lockPath, _ := PathFor(lockDir, "/data/backups")

	oldTmp := lockPath + ".111.tmp"
	newTmp := lockPath + ".222.tmp"
	for _, p := range []string{oldTmp, newTmp} {
		if err := os.WriteFile(p, []byte("x"), util.UserWritableFilePerms); err != nil {
			t.Fatalf("failed to write temp file: %v", err)
		}
	}
	past := time.Now().Add(-(staleAfter + time.Minute))
	if err := os.Chtimes(oldTmp, past, past); err != nil {
		t.Fatalf("failed to age temp file: %v", err)
	}

	removeOldTempFiles(lockPath)

	if _, err := os.Stat(oldTmp); !errors.Is(err, os.ErrNotExist) {
		t.Error("expected old temp file to be removed")
	}
	if _, err := os.Stat(newTmp); err != nil {
		t.Error("expected recent temp file to be kept")
	}
}
