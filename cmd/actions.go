package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/paulschiretz/pgl-snapctl/pkg/catalog"
	"github.com/paulschiretz/pgl-snapctl/pkg/flagparse"
	"github.com/paulschiretz/pgl-snapctl/pkg/preflight"
)

// RunActions prints the actions that can be dispatched against the backup root.
func RunActions(ctx context.Context, flagMap map[string]any) error {
	asJSON, _ := flagMap["json"].(bool)

	runConfig, err := loadRunConfig(flagparse.Actions, flagMap, false)
	if err != nil {
		return err
	}

	if err := runPreflight(ctx, runConfig, preflight.Plan{RootReadable: true}, ""); err != nil {
		return err
	}

	scanner, scanMetrics := newScanner(runConfig)
	actions, err := catalog.New(scanner, runConfig.BackupRoot).Actions(ctx)
	if err != nil {
		return err
	}
	scanMetrics.Log()

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(actions); err != nil {
			return fmt.Errorf("failed to encode actions: %w", err)
		}
		return nil
	}

	numColWidth := len(strconv.Itoa(len(actions)))
	for i, a := range actions {
		fmt.Printf("  %*d) %s\n", numColWidth, i+1, a.Label)
	}
	return nil
}
