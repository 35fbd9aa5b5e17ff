package inventory

import (
	"time"

	"github.com/paulschiretz/pgl-snapctl/pkg/snapshot"
)

// TierSummary aggregates the records of one tier.
type TierSummary struct {
	Tier       snapshot.Tier `json:"tier"`
	Count      int           `json:"count"`
	TotalBytes uint64        `json:"totalBytes"`
	// Newest is the timestamp of the most recent snapshot, empty if none.
	Newest string `json:"newest"`
	// Overdue is set when the newest snapshot is older than twice the
	// tier's interval, or when a known tier has no snapshots at all.
	Overdue bool `json:"overdue"`
}

// Summarize groups records by tier. The four known tiers are always present
// in priority order; untiered snapshots get a trailing entry only if any exist.
func Summarize(records []snapshot.Record, now time.Time) []TierSummary {
	byTier := make(map[snapshot.Tier]*TierSummary)
	order := append([]snapshot.Tier{}, snapshot.KnownTiers...)
	for _, t := range snapshot.KnownTiers {
		byTier[t] = &TierSummary{Tier: t}
	}

	for _, r := range records {
		sum, ok := byTier[r.Tier]
		if !ok {
			sum = &TierSummary{Tier: r.Tier}
			byTier[r.Tier] = sum
			order = append(order, r.Tier)
		}
		sum.Count++
		sum.TotalBytes += r.SizeBytes
		if r.Timestamp > sum.Newest {
			sum.Newest = r.Timestamp
		}
	}

	out := make([]TierSummary, 0, len(order))
	for _, t := range order {
		sum := byTier[t]
		if policy, ok := t.Policy(); ok {
			sum.Overdue = isOverdue(sum.Newest, policy, now)
		}
		out = append(out, *sum)
	}
	return out
}

func isOverdue(newest string, policy snapshot.Policy, now time.Time) bool {
	if newest == "" {
		return true
	}
	ts, err := snapshot.ParseTimestamp(newest)
	if err != nil {
		return false
	}
	return now.Sub(ts) > 2*policy.Interval
}
