package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/paulschiretz/pgl-snapctl/pkg/config"
	"github.com/paulschiretz/pgl-snapctl/pkg/dispatch"
	"github.com/paulschiretz/pgl-snapctl/pkg/executor"
	"github.com/paulschiretz/pgl-snapctl/pkg/flagparse"
	"github.com/paulschiretz/pgl-snapctl/pkg/inventory"
	"github.com/paulschiretz/pgl-snapctl/pkg/metrics"
	"github.com/paulschiretz/pgl-snapctl/pkg/plog"
	"github.com/paulschiretz/pgl-snapctl/pkg/preflight"
)

// loadRunConfig loads the configuration file, overlays the flags the user set
// and validates the result. The log level is applied before returning.
func loadRunConfig(command flagparse.Command, flagMap map[string]any, requireExecutor bool) (config.Config, error) {
	configPath, _ := flagMap["config"].(string)
	loadedConfig, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load configuration: %w", err)
	}

	runConfig := config.MergeConfigWithFlags(command, loadedConfig, flagMap)

	// CRITICAL: Validate the config for the run
	if err := runConfig.Validate(requireExecutor); err != nil {
		return config.Config{}, err
	}

	plog.SetLevel(plog.LevelFromString(runConfig.LogLevel))
	runConfig.LogSummary()
	return runConfig, nil
}

// runPreflight checks the paths of c that the plan asks for.
func runPreflight(ctx context.Context, c config.Config, plan preflight.Plan, archive string) error {
	plan.DryRun = c.Runtime.DryRun
	if c.LockDir == "" {
		plan.LockDirWritable = false
	}
	return preflight.NewValidator().Run(ctx, preflight.Targets{
		Root:     c.BackupRoot,
		Executor: c.ExecutorPath,
		LockDir:  c.LockDir,
		Archive:  archive,
	}, &plan)
}

// newScanner builds the scanner for c. The returned metrics are a no-op
// unless scan metrics are enabled.
func newScanner(c config.Config) (*inventory.Scanner, metrics.Metrics) {
	var m metrics.Metrics = &metrics.NoopMetrics{}
	if c.Scan.Metrics {
		m = &metrics.ScanMetrics{}
	}
	return inventory.NewScanner(c.Scan.Workers, c.Scan.MaxDepth, m), m
}

func newDispatcher(c config.Config) *dispatch.Dispatcher {
	return dispatch.New(dispatch.Options{
		Root:         c.BackupRoot,
		ExecutorPath: c.ExecutorPath,
		LockDir:      c.LockDir,
		Timeout:      c.ActionTimeout(),
		DryRun:       c.Runtime.DryRun,
	}, executor.New(nil, c.KillGrace()), nil)
}

// printExecutorOutput forwards what the executor wrote to stdout.
func printExecutorOutput(res executor.Result) {
	if out := strings.TrimRight(res.Stdout, "\n"); out != "" {
		fmt.Println(out)
	}
}

// PromptForConfirmation prompts the user for a yes/no response.
func PromptForConfirmation(prompt string, defaultYes bool) bool {
	suffix := "[y/N]"
	if defaultYes {
		suffix = "[Y/n]"
	}
	fmt.Printf("%s %s: ", prompt, suffix)

	var response string
	_, _ = fmt.Scanln(&response)
	response = strings.ToLower(strings.TrimSpace(response))

	if response == "" {
		return defaultYes
	}
	return response == "y" || response == "yes"
}
