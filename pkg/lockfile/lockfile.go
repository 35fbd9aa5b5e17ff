// Package lockfile provides a cross-process lock per backup root.
//
// The lock file lives in a separate lock directory, never inside the backup
// root, because the root is owned by the backup producer. Its name is derived
// from the absolute root path so every process agrees on it.
package lockfile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paulschiretz/pgl-snapctl/pkg/plog"
	"github.com/paulschiretz/pgl-snapctl/pkg/util"
)

// Owner describes who holds a lock. It is written into the lock file so a
// blocked operator can see what is running.
type Owner struct {
	PID       int64     `json:"pid"`
	Hostname  string    `json:"hostname"`
	Root      string    `json:"root"`
	Action    string    `json:"action"`
	RequestID string    `json:"requestId"`
	Updated   time.Time `json:"updated"`
	// Nonce settles races between processes taking over the same stale lock.
	Nonce string `json:"nonce,omitempty"`
}

// ActiveError is returned when another live process holds the lock.
type ActiveError struct {
	Owner Owner
	Age   time.Duration
}

func (e *ActiveError) Error() string {
	return fmt.Sprintf("backup root %s is locked by PID %d on host '%s' (action %s, request %s), last updated %s ago",
		e.Owner.Root, e.Owner.PID, e.Owner.Hostname, e.Owner.Action, e.Owner.RequestID, e.Age.Truncate(time.Second))
}

// ErrLostRace is returned when another process won a stale lock takeover.
var ErrLostRace = errors.New("lost race during stale lock takeover")

// ErrCorrupt means the lock file exists but holds no readable owner.
var ErrCorrupt = errors.New("lock file is corrupt or empty")

// Vars so tests can shorten them.
var (
	heartbeatInterval = time.Minute
	staleAfter        = 3 * heartbeatInterval
	retryDelay        = 100 * time.Millisecond
)

// Lock is a held lock. Release must be called exactly once it is no longer needed;
// further calls are no-ops.
type Lock struct {
	path  string
	owner Owner

	stop context.CancelFunc
	done chan struct{}

	mu   sync.Mutex
	held bool
}

// PathFor returns the lock file path guarding root inside lockDir.
func PathFor(lockDir, root string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("could not resolve backup root %q: %w", root, err)
	}
	sum := sha256.Sum256([]byte(filepath.Clean(absRoot)))
	return filepath.Join(lockDir, ".~pgl-snapctl-"+hex.EncodeToString(sum[:8])+".lock"), nil
}

// Acquire takes the lock for root. ctx bounds the acquisition only; the
// heartbeat keeps running until Release.
// It returns *ActiveError when another process holds a fresh lock.
func Acquire(ctx context.Context, lockDir, root, action, requestID string) (*Lock, error) {
	lockPath, err := PathFor(lockDir, root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(lockDir, util.UserWritableDirPerms); err != nil {
		return nil, fmt.Errorf("could not create lock directory: %w", err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("could not determine hostname: %w", err)
	}
	owner := Owner{
		PID:       int64(os.Getpid()),
		Hostname:  hostname,
		Root:      root,
		Action:    action,
		RequestID: requestID,
	}

	const attempts = 3
	for range attempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		owner.Updated = time.Now().UTC()
		owner.Nonce = uuid.NewString()
		err := createExclusive(lockPath, owner)
		if err == nil {
			return startLock(lockPath, owner), nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}

		current, readErr := readOwner(lockPath)
		switch {
		case errors.Is(readErr, os.ErrNotExist):
			// Released between our create and read.
			continue
		case errors.Is(readErr, ErrCorrupt):
			plog.Warn("Found corrupt lock file, treating as stale", "path", lockPath, "error", readErr)
		case readErr != nil:
			time.Sleep(retryDelay)
			continue
		default:
			age := time.Since(current.Updated)
			if age < staleAfter {
				return nil, &ActiveError{Owner: current, Age: age}
			}
			plog.Warn("Found stale lock, attempting takeover", "pid", current.PID, "age", age.Truncate(time.Second))
		}

		if err := takeover(lockPath, current, owner); err != nil {
			if errors.Is(err, ErrLostRace) {
				plog.Debug("Lock takeover race lost, retrying acquisition")
			} else {
				plog.Warn("Failed to take over lock, retrying", "error", err)
			}
			time.Sleep(retryDelay)
			continue
		}
		return startLock(lockPath, owner), nil
	}
	return nil, fmt.Errorf("failed to acquire lock after %d attempts (contention)", attempts)
}

// takeover moves a stale lock aside and recreates it exclusively. Only one
// process can move the file, and O_EXCL decides between the mover and any
// process that slipped in while the path was free.
func takeover(lockPath string, seen, owner Owner) error {
	moved := lockPath + "." + uuid.NewString() + ".stale"
	if err := os.Rename(lockPath, moved); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrLostRace
		}
		return fmt.Errorf("failed to move stale lock aside: %w", err)
	}

	got, readErr := readOwner(moved)
	if readErr == nil && got.Nonce != seen.Nonce {
		// The lock was replaced after the staleness check; give it back.
		if err := os.Link(moved, lockPath); err != nil {
			plog.Warn("Failed to restore lock moved during takeover", "path", lockPath, "error", err)
		}
		os.Remove(moved)
		return ErrLostRace
	}
	os.Remove(moved)

	if err := createExclusive(lockPath, owner); err != nil {
		if errors.Is(err, os.ErrExist) {
			return ErrLostRace
		}
		return err
	}
	plog.Debug("Took over stale lock", "path", lockPath)
	return nil
}

func startLock(lockPath string, owner Owner) *Lock {
	removeOldTempFiles(lockPath)
	ctx, cancel := context.WithCancel(context.Background())
	l := &Lock{
		path:  lockPath,
		owner: owner,
		stop:  cancel,
		done:  make(chan struct{}),
		held:  true,
	}
	go l.heartbeat(ctx)
	plog.Debug("Lock acquired", "path", lockPath, "request_id", owner.RequestID)
	return l
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

// Release stops the heartbeat and removes the lock file.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return
	}
	l.stop()
	<-l.done
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		plog.Warn("Failed to remove lock file", "path", l.path, "error", err)
	} else {
		plog.Debug("Lock released", "path", l.path)
	}
	l.held = false
}

func (l *Lock) heartbeat(ctx context.Context) {
	defer close(l.done)
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.owner.Updated = time.Now().UTC()
			if err := writeAtomic(l.path, l.owner); err != nil {
				// Try again next tick.
				plog.Warn("Heartbeat failed to update lock file", "error", err)
			}
		}
	}
}
