package models

import (
	"fmt"
	"strings"
	"time"
)

// Tier is a named rollup resolution with its own retention.
// Window is both the aggregation period and the scheduling period.
type Tier struct {
	Name      string        `json:"name"`
	Window    time.Duration `json:"window"`
	Retention time.Duration `json:"retention"`
}

const (
	Tier1m = "1m"
	Tier5m = "5m"
	Tier1h = "1h"
)

// Finer resolution is kept for a shorter time. Order matters: AllTiers returns
// tiers from finest to coarsest.
var tierRegistry = []Tier{
	{Name: Tier1m, Window: time.Minute, Retention: 24 * time.Hour},
	{Name: Tier5m, Window: 5 * time.Minute, Retention: 3 * 24 * time.Hour},
	{Name: Tier1h, Window: time.Hour, Retention: 7 * 24 * time.Hour},
}

// AllTiers returns a copy of the tier table.
func AllTiers() []Tier {
	tiers := make([]Tier, len(tierRegistry))
	copy(tiers, tierRegistry)
	return tiers
}

// TierNames returns the closed set of valid tier names.
func TierNames() []string {
	names := make([]string, 0, len(tierRegistry))
	for _, t := range tierRegistry {
		names = append(names, t.Name)
	}
	return names
}

// LookupTier resolves a tier by name.
func LookupTier(name string) (Tier, error) {
	for _, t := range tierRegistry {
		if t.Name == name {
			return t, nil
		}
	}
	return Tier{}, fmt.Errorf("unknown tier %q (valid: %s)", name, strings.Join(TierNames(), ", "))
}

// IsValidTier reports whether name is one of 1m, 5m or 1h.
func IsValidTier(name string) bool {
	_, err := LookupTier(name)
	return err == nil
}

// Truncate floors t to the tier's window boundary in UTC.
// Truncating an already truncated instant returns it unchanged.
func (t Tier) Truncate(ts time.Time) time.Time {
	return ts.UTC().Truncate(t.Window)
}

// CollectionName is the physical collection holding this tier's snapshots.
func (t Tier) CollectionName() string {
	return "metrics_" + t.Name
}

// RetentionSeconds is the TTL index expiry for this tier.
func (t Tier) RetentionSeconds() int32 {
	return int32(t.Retention / time.Second)
}

// CacheKey is the key of this tier's newest snapshot in the cache.
func (t Tier) CacheKey() string {
	return "snapshot:latest:" + t.Name
}

func (t Tier) String() string {
	return t.Name
}
