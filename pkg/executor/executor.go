// Package executor runs the external lifecycle program and captures its output.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/paulschiretz/pgl-snapctl/pkg/plog"
)

// Command is a program invocation. Args are passed as argv; no shell is involved.
type Command struct {
	Path string
	Args []string
}

func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Path
	}
	return c.Path + " " + strings.Join(c.Args, " ")
}

// Result is the outcome of a process that ran to completion.
type Result struct {
	ExitStatus int
	Stdout     string
	Stderr     string
	Duration   time.Duration
}

// Cause classifies an ExecutionError.
type Cause int

const (
	// CauseLaunchFailed means the process could not be started.
	CauseLaunchFailed Cause = iota
	// CauseNonZeroExit means the process ran and exited unsuccessfully.
	CauseNonZeroExit
	// CauseInterrupted means the context ended while the process was running.
	CauseInterrupted
)

var causeToString = map[Cause]string{
	CauseLaunchFailed: "launch failed",
	CauseNonZeroExit:  "non-zero exit",
	CauseInterrupted:  "interrupted",
}

func (c Cause) String() string {
	if str, ok := causeToString[c]; ok {
		return str
	}
	return fmt.Sprintf("unknown_cause(%d)", int(c))
}

// ExecutionError reports a process that failed to start or finish successfully.
type ExecutionError struct {
	Cause Cause
	// ExitStatus is -1 when the process never ran or was killed by a signal.
	ExitStatus int
	Stderr     string
	Err        error
}

func (e *ExecutionError) Error() string {
	switch e.Cause {
	case CauseNonZeroExit:
		msg := fmt.Sprintf("command exited with status %d", e.ExitStatus)
		if s := strings.TrimSpace(e.Stderr); s != "" {
			msg += ": " + s
		}
		return msg
	case CauseInterrupted:
		return fmt.Sprintf("command interrupted: %v", e.Err)
	default:
		return fmt.Sprintf("command could not be started: %v", e.Err)
	}
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// minKillGrace bounds how long Run waits after cancellation when no grace
// period is configured.
const minKillGrace = 100 * time.Millisecond

// Executor starts one process per Run call.
type Executor struct {
	// commandContext allows mocking os/exec for testing.
	commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd
	killGrace      time.Duration
}

// New creates an Executor. A nil commandContext uses exec.CommandContext.
// killGrace is how long an interrupted process group may take to exit after
// SIGTERM before it is killed; values below minKillGrace are raised to it.
func New(commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd, killGrace time.Duration) *Executor {
	if commandContext == nil {
		commandContext = exec.CommandContext
	}
	if killGrace < minKillGrace {
		killGrace = minKillGrace
	}
	return &Executor{
		commandContext: commandContext,
		killGrace:      killGrace,
	}
}

// Run starts c, waits for it and returns its captured output.
// Output on stderr alone does not make the run fail; only the exit status does.
func (e *Executor) Run(ctx context.Context, c Command) (Result, error) {
	cmd := e.createCommand(ctx, c)
	cmd.WaitDelay = e.killGrace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	plog.Debug("Executing command", "command", c.String())
	start := time.Now()
	runErr := cmd.Run()
	res := Result{
		ExitStatus: -1,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		Duration:   time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.ExitStatus = cmd.ProcessState.ExitCode()
	}

	if runErr == nil {
		return res, nil
	}

	// The context error takes precedence: a killed process also reports an ExitError.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, &ExecutionError{Cause: CauseInterrupted, ExitStatus: res.ExitStatus, Stderr: res.Stderr, Err: ctxErr}
	}

	// The process exited cleanly but left inherited pipes open past the grace period.
	if errors.Is(runErr, exec.ErrWaitDelay) && cmd.ProcessState != nil && cmd.ProcessState.Success() {
		plog.Warn("Command exited but its output pipes stayed open", "command", c.String())
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return res, &ExecutionError{Cause: CauseNonZeroExit, ExitStatus: exitErr.ExitCode(), Stderr: res.Stderr, Err: runErr}
	}

	return res, &ExecutionError{Cause: CauseLaunchFailed, ExitStatus: -1, Stderr: res.Stderr, Err: runErr}
}
