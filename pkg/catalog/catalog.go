// Package catalog lists the actions a caller may dispatch against a backup root.
package catalog

import (
	"context"
	"fmt"

	"github.com/paulschiretz/pgl-snapctl/pkg/dispatch"
	"github.com/paulschiretz/pgl-snapctl/pkg/snapshot"
)

// Action is one selectable entry.
type Action struct {
	Name  dispatch.ActionName `json:"name"`
	Label string              `json:"label"`
	// Payload is the snapshot identifier for rollbacks and empty otherwise.
	Payload string `json:"payload,omitempty"`
}

// Scanner produces the snapshot inventory of a root. *inventory.Scanner satisfies it.
type Scanner interface {
	Scan(ctx context.Context, root string) ([]snapshot.Record, error)
}

// Catalog builds action lists for one backup root.
type Catalog struct {
	scanner Scanner
	root    string
}

// New creates a Catalog for root.
func New(scanner Scanner, root string) *Catalog {
	return &Catalog{scanner: scanner, root: root}
}

// Actions returns start, stop, restart and update followed by one rollback
// per snapshot in inventory order. The inventory is scanned on every call.
func (c *Catalog) Actions(ctx context.Context) ([]Action, error) {
	records, err := c.scanner.Scan(ctx, c.root)
	if err != nil {
		return nil, err
	}
	return Build(records), nil
}

// Build turns an ordered inventory into the action list.
func Build(records []snapshot.Record) []Action {
	actions := make([]Action, 0, len(dispatch.LifecycleActions)+len(records))
	for _, a := range dispatch.LifecycleActions {
		actions = append(actions, Action{Name: a, Label: a.String()})
	}
	for _, r := range records {
		actions = append(actions, Action{
			Name:    dispatch.ActionRollback,
			Label:   RollbackLabel(r),
			Payload: r.RelPath,
		})
	}
	return actions
}

// RollbackLabel renders the fixed-width display line for a snapshot.
func RollbackLabel(r snapshot.Record) string {
	return fmt.Sprintf("%-8s %-9s %-32s %10s MiB", dispatch.ActionRollback, r.Tier, r.Name(), FormatMiB(r.SizeBytes))
}

const mib = 1 << 20

// FormatMiB renders a byte count in MiB with two decimals, rounding half up.
// Integer arithmetic keeps large sizes exact.
func FormatMiB(sizeBytes uint64) string {
	whole := sizeBytes / mib
	rem := sizeBytes % mib
	cents := (rem*100 + mib/2) / mib
	if cents == 100 {
		whole++
		cents = 0
	}
	return fmt.Sprintf("%d.%02d", whole, cents)
}
