package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/paulschiretz/pgl-snapctl/pkg/buildinfo"
	"github.com/paulschiretz/pgl-snapctl/pkg/config"
	"github.com/paulschiretz/pgl-snapctl/pkg/flagparse"
	"github.com/paulschiretz/pgl-snapctl/pkg/plog"
	"github.com/paulschiretz/pgl-snapctl/pkg/util"
)

// RunInit handles the logic for the 'init' command.
func RunInit(ctx context.Context, flagMap map[string]any) error {
	// For init, root and executor are mandatory so the file is usable as written.
	if root, ok := flagMap["root"].(string); !ok || root == "" {
		return fmt.Errorf("the -root flag is required for the init operation")
	}
	if executor, ok := flagMap["executor"].(string); !ok || executor == "" {
		return fmt.Errorf("the -executor flag is required for the init operation")
	}
	force, _ := flagMap["force"].(bool)

	configPath, _ := flagMap["config"].(string)
	var err error
	if configPath == "" {
		configPath, err = config.DefaultPath()
	} else {
		configPath, err = util.ExpandedAbsPath(configPath)
	}
	if err != nil {
		return err
	}

	// Start from defaults so a broken existing file can be replaced.
	baseConfig := config.NewDefault()
	baseConfig.Runtime.ConfigPath = configPath
	runConfig := config.MergeConfigWithFlags(flagparse.Init, baseConfig, flagMap)

	// CRITICAL: Validate the config for the run
	if err := runConfig.Validate(true); err != nil {
		return err
	}
	plog.SetLevel(plog.LevelFromString(runConfig.LogLevel))

	if _, err := os.Stat(runConfig.Runtime.ConfigPath); err == nil {
		if !force {
			fmt.Printf("WARNING: Configuration file already exists at %s.\n", runConfig.Runtime.ConfigPath)
			fmt.Printf("Continuing will overwrite it. All custom settings will be lost.\n")
			if !PromptForConfirmation("Are you sure you want to continue?", false) {
				plog.Info(buildinfo.Name + " init operation canceled.")
				return nil
			}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to check for existing config file: %w", err)
	}

	if runConfig.Runtime.DryRun {
		plog.Notice("[DRY RUN] Would write configuration", "path", runConfig.Runtime.ConfigPath)
		return nil
	}

	if err := config.Generate(runConfig); err != nil {
		return fmt.Errorf("failed to generate config file: %w", err)
	}
	plog.Info(buildinfo.Name + " initialization complete.")
	return nil
}
