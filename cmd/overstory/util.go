package main

import (
	"fmt"
	"time"
)

var sleepFn = time.Sleep

// parseDurationFlag parses raw as a duration, falling back to def
// when raw is empty.
func parseDurationFlag(raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	return d, nil
}
