// Package dispatch validates lifecycle and rollback requests and turns each
// accepted request into exactly one executor invocation.
package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/paulschiretz/pgl-snapctl/pkg/executor"
	"github.com/paulschiretz/pgl-snapctl/pkg/lockfile"
	"github.com/paulschiretz/pgl-snapctl/pkg/plog"
	"github.com/paulschiretz/pgl-snapctl/pkg/snapshot"
	"github.com/paulschiretz/pgl-snapctl/pkg/util"
)

// Runner runs one command. *executor.Executor satisfies it.
type Runner interface {
	Run(ctx context.Context, c executor.Command) (executor.Result, error)
}

// Options configure a Dispatcher. They are fixed at construction.
type Options struct {
	// Root is the backup root rollback identifiers are resolved against.
	Root string
	// ExecutorPath is the lifecycle program invoked for every action.
	ExecutorPath string
	// LockDir holds the cross-process lock for Root. Empty disables it.
	LockDir string
	// Timeout bounds a single execution. Zero means no limit.
	Timeout time.Duration
	// DryRun logs the command instead of running it.
	DryRun bool
}

// Dispatcher executes actions against one backup root.
type Dispatcher struct {
	opts   Options
	runner Runner
	gate   *Gate
}

// New creates a Dispatcher. A nil gate gives the dispatcher a private one,
// which only serialises requests made through this dispatcher.
func New(opts Options, runner Runner, gate *Gate) *Dispatcher {
	if gate == nil {
		gate = NewGate()
	}
	return &Dispatcher{opts: opts, runner: runner, gate: gate}
}

// Command validates a request and builds the executor invocation for it
// without running anything.
func (d *Dispatcher) Command(name, payload string) (executor.Command, error) {
	action := ParseAction(name)
	switch action {
	case ActionStart, ActionStop, ActionRestart, ActionUpdate:
		return executor.Command{Path: d.opts.ExecutorPath, Args: []string{action.Verb()}}, nil
	case ActionRollback:
		if !snapshot.ValidIdentifier(payload) {
			return executor.Command{}, &Error{Kind: KindInvalidIdentifier, Action: name, Payload: payload}
		}
		return executor.Command{Path: d.opts.ExecutorPath, Args: []string{action.Verb(), d.restoreArg(payload)}}, nil
	case ActionUnknown:
		return executor.Command{}, &Error{Kind: KindUnknownAction, Action: name, Payload: payload}
	default:
		return executor.Command{}, &Error{Kind: KindUnknownAction, Action: name, Payload: payload}
	}
}

// restoreArg addresses the contents of a snapshot: "<root>/<relPath>/.".
// The trailing "/." is part of the executor contract.
func (d *Dispatcher) restoreArg(relPath string) string {
	return filepath.Join(d.opts.Root, util.DenormalizePath(relPath)) + string(filepath.Separator) + "."
}

// Dispatch runs the named action. payload is only used by rollback, where it
// must be a snapshot identifier. Invalid requests never reach the runner.
// Every failure is returned as *Error.
func (d *Dispatcher) Dispatch(ctx context.Context, name, payload string) (executor.Result, error) {
	requestID := uuid.NewString()
	attrs := []any{"action", name, "request_id", requestID}
	if payload != "" {
		attrs = append(attrs, "payload", payload)
	}

	cmd, err := d.Command(name, payload)
	if err != nil {
		plog.Warn("Rejected action request", append(attrs, "error", err)...)
		return executor.Result{}, err
	}

	if d.opts.DryRun {
		plog.Notice("[DRY RUN] Executing command", append(attrs, "command", cmd.String())...)
		return executor.Result{}, nil
	}

	release, err := d.gate.Acquire(ctx, d.opts.Root)
	if err != nil {
		return executor.Result{}, &Error{Kind: KindCanceled, Action: name, Payload: payload, Err: err}
	}
	defer release()

	if d.opts.LockDir != "" {
		lock, err := lockfile.Acquire(ctx, d.opts.LockDir, d.opts.Root, name, requestID)
		if err != nil {
			return executor.Result{}, d.lockError(name, payload, err)
		}
		defer lock.Release()
	}

	runCtx := ctx
	if d.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()
	}

	plog.Info("Executing command", append(attrs, "command", cmd.String())...)
	res, err := d.runner.Run(runCtx, cmd)
	if err != nil {
		dispatchErr := d.runError(name, payload, err)
		plog.Error("Action failed", append(attrs, "kind", dispatchErr.Kind.String(), "exit", dispatchErr.ExitStatus, "error", err)...)
		return res, dispatchErr
	}

	if s := strings.TrimSpace(res.Stderr); s != "" {
		plog.Warn("Executor wrote to stderr", append(attrs, "stderr", s)...)
	}
	plog.Info("Action completed", append(attrs, "exit", res.ExitStatus, "duration", res.Duration.Round(time.Millisecond))...)
	return res, nil
}

func (d *Dispatcher) lockError(name, payload string, err error) *Error {
	var active *lockfile.ActiveError
	switch {
	case errors.As(err, &active):
		return &Error{Kind: KindBusy, Action: name, Payload: payload, Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindCanceled, Action: name, Payload: payload, Err: err}
	default:
		return &Error{Kind: KindLockFailed, Action: name, Payload: payload, ExitStatus: -1, Err: err}
	}
}

func (d *Dispatcher) runError(name, payload string, err error) *Error {
	var execErr *executor.ExecutionError
	if !errors.As(err, &execErr) {
		return &Error{Kind: KindExecutionFailed, Action: name, Payload: payload, ExitStatus: -1, Err: err}
	}
	if execErr.Cause == executor.CauseInterrupted {
		if errors.Is(execErr, context.DeadlineExceeded) {
			return &Error{Kind: KindTimeout, Action: name, Payload: payload, ExitStatus: execErr.ExitStatus, Stderr: execErr.Stderr, Err: err}
		}
		return &Error{Kind: KindCanceled, Action: name, Payload: payload, ExitStatus: execErr.ExitStatus, Stderr: execErr.Stderr, Err: err}
	}
	return &Error{Kind: KindExecutionFailed, Action: name, Payload: payload, ExitStatus: execErr.ExitStatus, Stderr: execErr.Stderr, Err: err}
}
