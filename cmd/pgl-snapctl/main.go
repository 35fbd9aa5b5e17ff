package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/paulschiretz/pgl-snapctl/cmd"
	"github.com/paulschiretz/pgl-snapctl/pkg/buildinfo"
	"github.com/paulschiretz/pgl-snapctl/pkg/flagparse"
	"github.com/paulschiretz/pgl-snapctl/pkg/hints"
	"github.com/paulschiretz/pgl-snapctl/pkg/plog"
)

// run encapsulates the main application logic and returns an error if something
// goes wrong, allowing the main function to handle exit codes.
func run(ctx context.Context, args []string) error {
	command, flagMap, err := flagparse.Parse(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	switch command {
	case flagparse.None:
		return nil
	case flagparse.Version:
		return cmd.RunVersion(buildinfo.Name, buildinfo.Version)
	}

	plog.Debug("Starting "+buildinfo.Name, "version", buildinfo.Version, "pid", os.Getpid(), "command", command)

	switch command {
	case flagparse.List:
		return cmd.RunList(ctx, flagMap)
	case flagparse.Actions:
		return cmd.RunActions(ctx, flagMap)
	case flagparse.Run:
		return cmd.RunRun(ctx, flagMap)
	case flagparse.Rollback:
		return cmd.RunRollback(ctx, flagMap)
	case flagparse.Export:
		return cmd.RunExport(ctx, flagMap)
	case flagparse.Init:
		return cmd.RunInit(ctx, flagMap)
	default:
		return fmt.Errorf("internal error: unknown command %d", command)
	}
}

func main() {
	// Cancel the context on Ctrl+C or SIGTERM so a running executor is stopped.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		if hints.IsHint(err) {
			plog.Info(err.Error())
			return
		}
		plog.Error(buildinfo.Name+" exited with error", "error", err)
		cancel()
		os.Exit(1)
	}
}
