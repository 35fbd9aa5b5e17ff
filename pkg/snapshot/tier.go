package snapshot

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/paulschiretz/pgl-snapctl/pkg/util"
)

// Tier is the retention bucket a snapshot belongs to. The declaration order
// is the sort priority: 15min sorts first, directories outside any known tier last.
type Tier int

const (
	TierFifteenMin Tier = iota
	TierHourly
	TierDaily
	TierWeekly
	TierNone
)

var tierToString = map[Tier]string{
	TierFifteenMin: "15min",
	TierHourly:     "hourly",
	TierDaily:      "daily",
	TierWeekly:     "weekly",
}

var stringToTier map[string]Tier

func init() {
	stringToTier = util.InvertMap(tierToString)
}

// KnownTiers lists the four retention tiers in priority order.
var KnownTiers = []Tier{TierFifteenMin, TierHourly, TierDaily, TierWeekly}

func (t Tier) String() string {
	if str, ok := tierToString[t]; ok {
		return str
	}
	if t == TierNone {
		return "-"
	}
	return fmt.Sprintf("unknown_tier(%d)", int(t))
}

// Priority returns the sort rank of the tier; lower sorts first.
func (t Tier) Priority() int {
	if t < TierFifteenMin || t > TierNone {
		return int(TierNone)
	}
	return int(t)
}

// ClassifyTier returns the tier whose keyword equals name exactly, or TierNone.
func ClassifyTier(name string) Tier {
	if t, ok := stringToTier[name]; ok {
		return t
	}
	return TierNone
}

// Policy is the cadence the external backup producer runs a tier with.
type Policy struct {
	Interval  time.Duration
	Retention time.Duration
}

const (
	day  = 24 * time.Hour
	week = 7 * day
	year = 365 * day
)

var tierPolicies = map[Tier]Policy{
	TierFifteenMin: {Interval: 15 * time.Minute, Retention: 8 * time.Hour},
	TierHourly:     {Interval: time.Hour, Retention: 14 * day},
	TierDaily:      {Interval: day, Retention: 4 * week},
	TierWeekly:     {Interval: week, Retention: year},
}

// Policy returns the producer cadence for a known tier. ok is false for TierNone.
func (t Tier) Policy() (p Policy, ok bool) {
	p, ok = tierPolicies[t]
	return p, ok
}

// MarshalJSON implements the json.Marshaler interface for Tier.
func (t Tier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for Tier.
// Anything that is not a known tier keyword decodes to TierNone.
func (t *Tier) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("Tier should be a string, got %s", data)
	}
	*t = ClassifyTier(str)
	return nil
}
