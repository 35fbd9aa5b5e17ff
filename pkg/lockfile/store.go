package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/paulschiretz/pgl-snapctl/pkg/plog"
	"github.com/paulschiretz/pgl-snapctl/pkg/util"
)

// createExclusive creates lockPath with O_EXCL and writes owner into it.
func createExclusive(lockPath string, owner Owner) error {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, util.UserWritableFilePerms)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(owner, "", "  ")
	if err == nil {
		_, err = f.Write(data)
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(lockPath)
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	return nil
}

// writeAtomic replaces lockPath through a temp file in the same directory,
// so readers never observe a partially written owner.
func writeAtomic(lockPath string, owner Owner) error {
	data, err := json.MarshalIndent(owner, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lock owner: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(lockPath), filepath.Base(lockPath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp lock file: %w", err)
	}
	defer func() {
		if err := os.Remove(tmp.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
			plog.Warn("Failed to remove temporary lock file", "path", tmp.Name(), "error", err)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp lock file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp lock file: %w", err)
	}
	if err := os.Rename(tmp.Name(), lockPath); err != nil {
		return fmt.Errorf("failed to rename temp lock file: %w", err)
	}
	return nil
}

// readOwner reads the lock file, retrying briefly over empty or partial content.
func readOwner(lockPath string) (Owner, error) {
	var lastErr error
	for range 3 {
		data, err := os.ReadFile(lockPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Owner{}, err
			}
			lastErr = err
			time.Sleep(50 * time.Millisecond)
			continue
		}
		if len(data) == 0 {
			lastErr = fmt.Errorf("%w: file is empty", ErrCorrupt)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		var owner Owner
		if err := json.Unmarshal(data, &owner); err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrCorrupt, err)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		return owner, nil
	}
	return Owner{}, lastErr
}

// removeOldTempFiles deletes temp and moved-aside files left behind by
// crashed processes. Only files older than the stale threshold are touched.
func removeOldTempFiles(lockPath string) {
	var matches []string
	for _, suffix := range []string{".*.tmp", ".*.stale"} {
		pattern := filepath.Join(filepath.Dir(lockPath), filepath.Base(lockPath)+suffix)
		m, err := filepath.Glob(pattern)
		if err != nil {
			plog.Warn("Failed to glob for temporary lock files", "pattern", pattern, "error", err)
			continue
		}
		matches = append(matches, m...)
	}
	threshold := time.Now().Add(-staleAfter)
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil || !info.ModTime().Before(threshold) {
			continue
		}
		plog.Debug("Removing old temporary lock file", "path", match)
		if err := os.Remove(match); err != nil && !errors.Is(err, os.ErrNotExist) {
			plog.Warn("Failed to remove leftover temporary lock file", "path", match, "error", err)
		}
	}
}
