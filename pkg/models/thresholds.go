package models

import "time"

// WatchdogThresholds holds the timing knobs that drive health
// evaluation (§4.5.2) and the progressive escalation ladder (§4.5.3).
type WatchdogThresholds struct {
	// StaleMs is the activity age after which a healthy session is
	// considered quiet and moved to stalled.
	StaleMs int64
	// ZombieMs is the activity age after which a non-terminal session
	// is considered a deep stall, regardless of recorded state.
	// Must be strictly greater than StaleMs.
	ZombieMs int64
	// NudgeIntervalMs paces the escalation ladder: the expected level
	// is floor((now - stalledSince) / NudgeIntervalMs), capped at 3.
	NudgeIntervalMs int64
}

// DefaultWatchdogThresholds mirrors the values used in the worked
// examples of §8 of the specification.
func DefaultWatchdogThresholds() WatchdogThresholds {
	return WatchdogThresholds{
		StaleMs:         5 * time.Minute.Milliseconds(),
		ZombieMs:        20 * time.Minute.Milliseconds(),
		NudgeIntervalMs: time.Minute.Milliseconds(),
	}
}

// Valid reports whether the thresholds are internally consistent.
func (t WatchdogThresholds) Valid() bool {
	return t.ZombieMs > t.StaleMs && t.NudgeIntervalMs > 0
}
