package inventory

import (
	"slices"
	"strings"

	"github.com/paulschiretz/pgl-snapctl/pkg/snapshot"
)

// Sort orders records by tier priority (15min, hourly, daily, weekly, then
// untiered) and, within a known tier, by timestamp newest first. Stamps are
// zero-padded so lexical order equals chronological order. Untiered records
// and equal keys keep their discovery order.
func Sort(records []snapshot.Record) {
	slices.SortStableFunc(records, func(a, b snapshot.Record) int {
		if pa, pb := a.Tier.Priority(), b.Tier.Priority(); pa != pb {
			return pa - pb
		}
		if a.Tier == snapshot.TierNone {
			return 0
		}
		return strings.Compare(b.Timestamp, a.Timestamp)
	})
}
