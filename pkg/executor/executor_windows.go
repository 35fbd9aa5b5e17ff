//go:build windows

package executor

import (
	"context"
	"os/exec"

	"golang.org/x/sys/windows"
)

// createCommand creates an exec.Cmd in a new process group on Windows.
// Cancellation uses the default Kill of the started process.
func (e *Executor) createCommand(ctx context.Context, c Command) *exec.Cmd {
	cmd := e.commandContext(ctx, c.Path, c.Args...)
	cmd.SysProcAttr = &windows.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
	return cmd
}
