package ratelimit

import (
	"fmt"

	"github.com/veiloq/broker-connector/pkg/interfaces"
)

// Config declares the ceilings for the three rate-limit tiers and the
// persistence behavior of the day counter.
type Config struct {
	// PerSecond is the maximum number of calls in any trailing second.
	PerSecond int

	// PerMinute is the maximum number of calls in any trailing minute.
	PerMinute int

	// PerDay is the maximum number of calls per calendar day. Reaching it
	// is an operational stop for the rest of the day, not a wait.
	PerDay int

	// MarginSecond, MarginMinute and MarginDay are safety margins in
	// [0,1) used by EffectiveLimit and the Smoother. They are not applied
	// inside Acquire: the hard caps stay authoritative and the margins
	// exist for callers that opt in to self-throttling below them.
	MarginSecond float64
	MarginMinute float64
	MarginDay    float64

	// PersistPath is the JSON file holding the day counter across
	// restarts. Empty disables persistence.
	PersistPath string

	// PersistEvery is how many recorded calls may pass between
	// opportunistic persists. Up to PersistEvery-1 calls can be lost on a
	// hard crash; the margins absorb that slack.
	PersistEvery int
}

// DefaultConfig returns the venue's published ceilings with the stock
// safety margins.
func DefaultConfig() Config {
	return Config{
		PerSecond:    10,
		PerMinute:    200,
		PerDay:       100000,
		MarginSecond: 0.10,
		MarginMinute: 0.10,
		MarginDay:    0.05,
		PersistEvery: 100,
	}
}

// Validate checks that every cap is positive and every margin is in [0,1).
func (c Config) Validate() error {
	if c.PerSecond <= 0 || c.PerMinute <= 0 || c.PerDay <= 0 {
		return fmt.Errorf("rate limit caps must be positive: %d/s %d/min %d/day",
			c.PerSecond, c.PerMinute, c.PerDay)
	}
	for _, m := range []float64{c.MarginSecond, c.MarginMinute, c.MarginDay} {
		if m < 0 || m >= 1 {
			return fmt.Errorf("safety margin %v outside [0,1)", m)
		}
	}
	if c.PersistEvery <= 0 {
		return fmt.Errorf("persist interval must be positive: %d", c.PersistEvery)
	}
	return nil
}

// EffectiveLimit returns the cap for a tier reduced by its safety margin.
// This is the self-throttle target for callers who want headroom below
// the hard ceiling enforced by Acquire.
func (c Config) EffectiveLimit(tier interfaces.Tier) int {
	switch tier {
	case interfaces.TierSecond:
		return int(float64(c.PerSecond) * (1 - c.MarginSecond))
	case interfaces.TierMinute:
		return int(float64(c.PerMinute) * (1 - c.MarginMinute))
	case interfaces.TierDay:
		return int(float64(c.PerDay) * (1 - c.MarginDay))
	default:
		return 0
	}
}
