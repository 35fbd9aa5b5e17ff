package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/paulschiretz/pgl-snapctl/pkg/buildinfo"
	"github.com/paulschiretz/pgl-snapctl/pkg/catalog"
	"github.com/paulschiretz/pgl-snapctl/pkg/flagparse"
	"github.com/paulschiretz/pgl-snapctl/pkg/inventory"
	"github.com/paulschiretz/pgl-snapctl/pkg/plog"
	"github.com/paulschiretz/pgl-snapctl/pkg/preflight"
	"github.com/paulschiretz/pgl-snapctl/pkg/snapshot"
)

// snapshotEntry is the JSON form of one inventory record.
type snapshotEntry struct {
	ID        string        `json:"id"`
	Tier      snapshot.Tier `json:"tier"`
	Timestamp string        `json:"timestamp"`
	SizeBytes uint64        `json:"sizeBytes"`
}

type listOutput struct {
	Root      string                  `json:"root"`
	Snapshots []snapshotEntry         `json:"snapshots"`
	Tiers     []inventory.TierSummary `json:"tiers"`
}

// RunList handles the logic for the list command.
func RunList(ctx context.Context, flagMap map[string]any) error {
	asJSON, _ := flagMap["json"].(bool)

	runConfig, err := loadRunConfig(flagparse.List, flagMap, false)
	if err != nil {
		return err
	}

	if err := runPreflight(ctx, runConfig, preflight.Plan{RootReadable: true}, ""); err != nil {
		return err
	}

	startTime := time.Now()
	scanner, scanMetrics := newScanner(runConfig)
	records, err := scanner.Scan(ctx, runConfig.BackupRoot)
	if err != nil {
		return err
	}
	scanMetrics.Log()
	summary := inventory.Summarize(records, time.Now())

	if asJSON {
		out := listOutput{Root: runConfig.BackupRoot, Snapshots: make([]snapshotEntry, 0, len(records)), Tiers: summary}
		for _, r := range records {
			out.Snapshots = append(out.Snapshots, snapshotEntry{ID: r.RelPath, Tier: r.Tier, Timestamp: r.Timestamp, SizeBytes: r.SizeBytes})
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("failed to encode inventory: %w", err)
		}
	} else {
		printInventory(records, summary)
	}

	duration := time.Since(startTime).Round(time.Millisecond)
	plog.Info(buildinfo.Name+" list finished successfully.", "snapshots", len(records), "duration", duration)
	return nil
}

func printInventory(records []snapshot.Record, summary []inventory.TierSummary) {
	if len(records) == 0 {
		fmt.Print("No snapshots found.\n\n")
	} else {
		fmt.Printf("  %-9s %-32s %10s  %s\n", "Tier", "Snapshot", "Size MiB", "Rel Path")
		for _, r := range records {
			fmt.Printf("  %-9s %-32s %10s  %s\n", r.Tier, r.Name(), catalog.FormatMiB(r.SizeBytes), r.RelPath)
		}
		fmt.Println()
	}

	fmt.Printf("  %-9s %5s %10s  %-19s %s\n", "Tier", "Count", "Total MiB", "Newest", "Status")
	for _, s := range summary {
		newest := s.Newest
		if newest == "" {
			newest = "-"
		}
		status := "ok"
		if s.Overdue {
			status = "OVERDUE"
		}
		fmt.Printf("  %-9s %5d %10s  %-19s %s\n", s.Tier, s.Count, catalog.FormatMiB(s.TotalBytes), newest, status)
	}
}
