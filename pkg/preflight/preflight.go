// Package preflight provides checks that run before a command begins. They
// give clearer errors than the failure the command would otherwise hit midway,
// and apart from the write probes they leave the filesystem untouched.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/paulschiretz/pgl-snapctl/pkg/plog"
	"github.com/paulschiretz/pgl-snapctl/pkg/util"
)

// Validator runs the checks selected by a Plan.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Run performs the checks in p against t and returns the first failure.
func (v *Validator) Run(ctx context.Context, t Targets, p *Plan) error {
	type check struct {
		enabled bool
		name    string
		fn      func() error
	}
	checks := []check{
		{p.RootReadable, "backup root", func() error { return CheckRootReadable(t.Root) }},
		{p.ExecutorRunnable, "executor", func() error { return CheckExecutorRunnable(t.Executor) }},
		{p.LockDirWritable, "lock directory", func() error { return CheckLockDirWritable(t.LockDir, p.DryRun) }},
		{p.ArchiveWritable, "archive", func() error { return CheckArchiveWritable(t.Archive, p.DryRun) }},
	}

	for _, c := range checks {
		if !c.enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.fn(); err != nil {
			return fmt.Errorf("preflight check failed for %s: %w", c.name, err)
		}
		plog.Debug("Preflight check passed", "check", c.name)
	}
	return nil
}

// CheckRootReadable validates that the backup root exists, is a directory and
// can be listed.
func CheckRootReadable(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("backup root %s does not exist", root)
		}
		return fmt.Errorf("cannot stat backup root %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("backup root %s is not a directory", root)
	}

	f, err := os.Open(root)
	if err != nil {
		return fmt.Errorf("cannot open backup root %s: %w", root, err)
	}
	defer f.Close()
	if _, err := f.Readdirnames(1); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("cannot list backup root %s: %w", root, err)
	}
	return nil
}

// CheckExecutorRunnable validates that the executor is an existing file the
// current user may execute.
func CheckExecutorRunnable(executor string) error {
	if executor == "" {
		return fmt.Errorf("no executor configured")
	}
	info, err := os.Stat(executor)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("executor %s does not exist", executor)
		}
		return fmt.Errorf("cannot stat executor %s: %w", executor, err)
	}
	if info.IsDir() {
		return fmt.Errorf("executor %s is a directory", executor)
	}
	return platformCheckExecutable(executor, info)
}

// CheckLockDirWritable ensures the lock directory can be created and written.
// In dry run mode nothing is created; only the deepest existing ancestor is checked.
func CheckLockDirWritable(lockDir string, dryRun bool) error {
	if dryRun {
		return checkAncestorAccessible(lockDir)
	}
	if err := os.MkdirAll(lockDir, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create lock directory %s: %w", lockDir, err)
	}
	return probeWritable(lockDir)
}

// CheckArchiveWritable ensures an archive can be written to path: the path must
// not be a directory and its parent must be an existing, writable directory.
func CheckArchiveWritable(archive string, dryRun bool) error {
	if info, err := os.Stat(archive); err == nil && info.IsDir() {
		return fmt.Errorf("archive path %s is a directory", archive)
	}

	parent := filepath.Dir(archive)
	info, err := os.Stat(parent)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("archive directory %s does not exist", parent)
		}
		return fmt.Errorf("cannot access archive directory %s: %w", parent, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("archive directory %s is not a directory", parent)
	}
	if dryRun {
		return nil
	}
	return probeWritable(parent)
}

// probeWritable creates and removes a temporary file in dir.
func probeWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".pgl-snapctl-writetest-*.tmp")
	if err != nil {
		return fmt.Errorf("directory %s is not writable: %w", dir, err)
	}
	name := f.Name()
	f.Close()
	_ = os.Remove(name)
	return nil
}

// checkAncestorAccessible walks up from path to the deepest existing ancestor
// and verifies it is a directory.
func checkAncestorAccessible(path string) error {
	ancestor := path
	for {
		info, err := os.Stat(ancestor)
		if err == nil {
			if !info.IsDir() {
				return fmt.Errorf("path %s exists but is not a directory", ancestor)
			}
			return nil
		}
		if !os.IsNotExist(err) {
			return fmt.Errorf("cannot access ancestor directory %s: %w", ancestor, err)
		}
		parent := filepath.Dir(ancestor)
		if parent == ancestor {
			return fmt.Errorf("no existing ancestor for %s", path)
		}
		ancestor = parent
	}
}
