package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/paulschiretz/pgl-snapctl/pkg/buildinfo"
	"github.com/paulschiretz/pgl-snapctl/pkg/export"
	"github.com/paulschiretz/pgl-snapctl/pkg/flagparse"
	"github.com/paulschiretz/pgl-snapctl/pkg/hints"
	"github.com/paulschiretz/pgl-snapctl/pkg/plog"
	"github.com/paulschiretz/pgl-snapctl/pkg/preflight"
	"github.com/paulschiretz/pgl-snapctl/pkg/util"
)

// RunExport packs one snapshot into a compressed archive.
func RunExport(ctx context.Context, flagMap map[string]any) error {
	id, ok := flagMap["id"].(string)
	if !ok || id == "" {
		return fmt.Errorf("the -id flag is required to run an export")
	}
	out, ok := flagMap["out"].(string)
	if !ok || out == "" {
		return fmt.Errorf("the -out flag is required to run an export")
	}

	runConfig, err := loadRunConfig(flagparse.Export, flagMap, false)
	if err != nil {
		return err
	}

	absOut, err := util.ExpandedAbsPath(out)
	if err != nil {
		return fmt.Errorf("archive path invalid: %w", err)
	}

	// An explicit -format wins, then the archive suffix, then the config file.
	format := runConfig.Export.Format
	if _, set := flagMap["format"]; !set {
		if guessed, ok := export.FormatFromPath(absOut); ok {
			format = guessed
		}
	}

	if err := runPreflight(ctx, runConfig, preflight.Plan{RootReadable: true, ArchiveWritable: true}, absOut); err != nil {
		return err
	}

	if id == latestAlias {
		scanner, _ := newScanner(runConfig)
		records, err := scanner.Scan(ctx, runConfig.BackupRoot)
		if err != nil {
			return err
		}
		candidates := rollbackCandidates(records)
		if len(candidates) == 0 {
			return hints.Newf("no snapshots found under %s", runConfig.BackupRoot)
		}
		id = candidates[0].RelPath
		plog.Info("Resolved latest snapshot", "id", id)
	}

	startTime := time.Now()
	stats, err := export.Export(ctx, runConfig.BackupRoot, id, absOut, export.Options{
		Format: format,
		Level:  runConfig.Export.Level,
		DryRun: runConfig.Runtime.DryRun,
	})
	if err != nil {
		return err
	}

	duration := time.Since(startTime).Round(time.Millisecond)
	plog.Info(buildinfo.Name+" export finished successfully.",
		"id", id,
		"archive", absOut,
		"entries", stats.Entries,
		"bytes", stats.BytesRead,
		"duration", duration)
	return nil
}
