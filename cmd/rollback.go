package cmd

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/paulschiretz/pgl-snapctl/pkg/buildinfo"
	"github.com/paulschiretz/pgl-snapctl/pkg/catalog"
	"github.com/paulschiretz/pgl-snapctl/pkg/dispatch"
	"github.com/paulschiretz/pgl-snapctl/pkg/flagparse"
	"github.com/paulschiretz/pgl-snapctl/pkg/hints"
	"github.com/paulschiretz/pgl-snapctl/pkg/plog"
	"github.com/paulschiretz/pgl-snapctl/pkg/preflight"
	"github.com/paulschiretz/pgl-snapctl/pkg/snapshot"
)

// latestAlias selects the newest snapshot of the highest-priority tier.
const latestAlias = "latest"

// RunRollback handles the logic for the rollback command.
func RunRollback(ctx context.Context, flagMap map[string]any) error {
	id, _ := flagMap["id"].(string)
	force, _ := flagMap["force"].(bool)

	runConfig, err := loadRunConfig(flagparse.Rollback, flagMap, true)
	if err != nil {
		return err
	}

	if err := runPreflight(ctx, runConfig, preflight.Plan{RootReadable: true, ExecutorRunnable: true, LockDirWritable: true}, ""); err != nil {
		return err
	}

	scanner, scanMetrics := newScanner(runConfig)
	records, err := scanner.Scan(ctx, runConfig.BackupRoot)
	if err != nil {
		return err
	}
	scanMetrics.Log()
	candidates := rollbackCandidates(records)

	switch {
	case id == "":
		if len(candidates) == 0 {
			return hints.Newf("no snapshots found under %s", runConfig.BackupRoot)
		}
		if id, err = PromptSnapshotSelection(candidates); err != nil {
			if hints.IsHint(err) {
				plog.Info(err.Error())
				return nil
			}
			return err
		}
	case id == latestAlias:
		if len(candidates) == 0 {
			return hints.Newf("no snapshots found under %s", runConfig.BackupRoot)
		}
		id = candidates[0].RelPath
		plog.Info("Resolved latest snapshot", "id", id)
	case snapshot.ValidIdentifier(id):
		if !slices.ContainsFunc(candidates, func(r snapshot.Record) bool { return r.RelPath == id }) {
			return fmt.Errorf("snapshot %s not found under %s", id, runConfig.BackupRoot)
		}
	default:
		// Malformed identifiers are rejected by the dispatcher.
	}

	if !force && !runConfig.Runtime.DryRun {
		fmt.Printf("WARNING: Rolling back replaces the live state with snapshot %s.\n", id)
		if !PromptForConfirmation("Are you sure you want to continue?", false) {
			plog.Info(buildinfo.Name + " rollback canceled.")
			return nil
		}
	}

	startTime := time.Now()
	res, err := newDispatcher(runConfig).Dispatch(ctx, dispatch.ActionRollback.String(), id)
	if err != nil {
		return err
	}
	printExecutorOutput(res)

	duration := time.Since(startTime).Round(time.Millisecond)
	plog.Info(buildinfo.Name+" rollback finished successfully.", "id", id, "duration", duration)
	return nil
}

// rollbackCandidates keeps the records whose relative path is a dispatchable
// identifier, preserving inventory order.
func rollbackCandidates(records []snapshot.Record) []snapshot.Record {
	var out []snapshot.Record
	for _, r := range records {
		if snapshot.ValidIdentifier(r.RelPath) {
			out = append(out, r)
		}
	}
	return out
}

// PromptSnapshotSelection displays the snapshots and returns the identifier the
// user picked. Cancelling returns a hint.
func PromptSnapshotSelection(records []snapshot.Record) (string, error) {
	totalNumOptions := len(records) + 1
	optionNumColWidth := len(strconv.Itoa(totalNumOptions))

	fmt.Print("Please select a snapshot to roll back to:\n\n")
	fmt.Printf("  %*s %-9s %-32s %10s\n", optionNumColWidth+1, "#)", "Tier", "Snapshot", "Size MiB")
	for i, r := range records {
		fmt.Printf("  %*d) %-9s %-32s %10s\n", optionNumColWidth, i+1, r.Tier, r.Name(), catalog.FormatMiB(r.SizeBytes))
	}
	fmt.Printf("  %*d) Cancel and exit %s (or type 'q').\n", optionNumColWidth, totalNumOptions, buildinfo.Name)

	var selection int
	for {
		fmt.Printf("\nSelect a snapshot (1-%d) [%d]: ", totalNumOptions, totalNumOptions)
		var input string
		_, err := fmt.Scanln(&input)
		if err != nil {
			if err.Error() == "unexpected newline" {
				selection = totalNumOptions
				break
			}
			return "", fmt.Errorf("failed to read input: %w", err)
		}

		inputLower := strings.ToLower(strings.TrimSpace(input))
		if inputLower == "q" || inputLower == "quit" {
			return "", hints.New("rollback canceled by user")
		}

		selection, err = strconv.Atoi(input)
		if err != nil || selection < 1 || selection > totalNumOptions {
			fmt.Printf("Invalid selection. Please enter a number between 1 and %d, or 'q' to quit.\n", totalNumOptions)
			continue
		}
		break
	}

	if selection == totalNumOptions {
		return "", hints.New("rollback canceled by user")
	}
	return records[selection-1].RelPath, nil
}
