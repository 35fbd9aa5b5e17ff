//go:build !windows

package executor

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"time"

	"golang.org/x/sys/unix"
)

// createCommand creates an exec.Cmd in its own process group on Unix-like systems.
// Cancellation sends SIGTERM to the whole group so helpers spawned by the
// lifecycle program stop with it. A group that is still alive after the kill
// grace gets SIGKILL.
func (e *Executor) createCommand(ctx context.Context, c Command) *exec.Cmd {
	cmd := e.commandContext(ctx, c.Path, c.Args...)
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		pgid := cmd.Process.Pid
		err := unix.Kill(-pgid, unix.SIGTERM)
		if errors.Is(err, unix.ESRCH) {
			return os.ErrProcessDone
		}
		time.AfterFunc(e.killGrace, func() {
			_ = unix.Kill(-pgid, unix.SIGKILL)
		})
		return err
	}
	return cmd
}
