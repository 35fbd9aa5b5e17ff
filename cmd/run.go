package cmd

import (
	"context"
	"fmt"

	"github.com/paulschiretz/pgl-snapctl/pkg/flagparse"
	"github.com/paulschiretz/pgl-snapctl/pkg/preflight"
)

// RunRun dispatches a single action to the executor.
func RunRun(ctx context.Context, flagMap map[string]any) error {
	action, ok := flagMap["action"].(string)
	if !ok || action == "" {
		return fmt.Errorf("the -action flag is required to run an action")
	}
	id, _ := flagMap["id"].(string)

	runConfig, err := loadRunConfig(flagparse.Run, flagMap, true)
	if err != nil {
		return err
	}

	if err := runPreflight(ctx, runConfig, preflight.Plan{RootReadable: true, ExecutorRunnable: true, LockDirWritable: true}, ""); err != nil {
		return err
	}

	res, err := newDispatcher(runConfig).Dispatch(ctx, action, id)
	if err != nil {
		return err
	}
	printExecutorOutput(res)
	return nil
}
