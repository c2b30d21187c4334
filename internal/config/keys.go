// Package config provides API key management utilities and the
// registry of dotted keys the "config" CLI command inspects.
package config

import (
	"errors"
	"os"
	"strings"
)

// ErrNoAPIKey is returned when no API key is configured.
var ErrNoAPIKey = errors.New("no Anthropic API key configured")

// GetAPIKey returns the Anthropic API key, following Load's own
// precedence: environment variable first, then project/user config.
func GetAPIKey(cfg *Config) (string, error) {
	// First check environment variable directly
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return key, nil
	}

	// Then check config
	if cfg != nil && cfg.Anthropic.APIKey != "" {
		// Expand any remaining env var references
		key := os.ExpandEnv(cfg.Anthropic.APIKey)
		if key != "" && !strings.HasPrefix(key, "${") {
			return key, nil
		}
	}

	return "", ErrNoAPIKey
}

// ValidateAPIKey performs basic validation on an API key.
// It checks format but does not verify the key with Anthropic's API.
func ValidateAPIKey(key string) error {
	if key == "" {
		return ErrNoAPIKey
	}

	// Anthropic API keys start with "sk-ant-"
	if !strings.HasPrefix(key, "sk-ant-") {
		return errors.New("invalid API key format: expected 'sk-ant-' prefix")
	}

	// Keys should be reasonably long
	if len(key) < 20 {
		return errors.New("invalid API key format: key too short")
	}

	return nil
}

// MaskAPIKey returns a masked version of the API key for display.
// Shows the first 7 characters (sk-ant-) and last 4 characters.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}

	if len(key) <= 15 {
		return "***"
	}

	return key[:7] + "..." + key[len(key)-4:]
}

// KeySource represents where an API key was loaded from.
type KeySource string

const (
	KeySourceEnv    KeySource = "environment"
	KeySourceConfig KeySource = "config_file"
	KeySourceNone   KeySource = "none"
)

// GetAPIKeySource returns where the API key was sourced from.
func GetAPIKeySource(cfg *Config) KeySource {
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		return KeySourceEnv
	}

	if cfg != nil && cfg.Anthropic.APIKey != "" {
		key := os.ExpandEnv(cfg.Anthropic.APIKey)
		if key != "" && !strings.HasPrefix(key, "${") {
			return KeySourceConfig
		}
	}

	return KeySourceNone
}

// Key names the "config" CLI command accepts as a single lookup
// argument, pairing the dotted name with an accessor that renders its
// current value.
type Key struct {
	Name  string
	Value func(cfg *Config) string
}

// Keys returns every dotted key the "config" command can look up
// individually, in display order. "config <key>" accepts exactly
// these names, and "config" (no args) prints them first; the no-arg
// listing then also prints watchdog.tracker_timeout, the mail.*,
// wait.* and groups.* settings and paths.log_dir, which are not in
// this list and so cannot be looked up one by one.
func Keys() []Key {
	return []Key{
		{"anthropic.api_key", func(cfg *Config) string {
			key, _ := GetAPIKey(cfg)
			return MaskAPIKey(key) + " (" + string(GetAPIKeySource(cfg)) + ")"
		}},
		{"anthropic.triage_model", func(cfg *Config) string { return cfg.Anthropic.TriageModel }},
		{"watchdog.interval", func(cfg *Config) string { return cfg.Watchdog.Interval.String() }},
		{"watchdog.stale_after", func(cfg *Config) string { return cfg.Watchdog.StaleAfter.String() }},
		{"watchdog.zombie_after", func(cfg *Config) string { return cfg.Watchdog.ZombieAfter.String() }},
		{"watchdog.nudge_interval", func(cfg *Config) string { return cfg.Watchdog.NudgeInterval.String() }},
		{"watchdog.ai_triage_enabled", func(cfg *Config) string {
			if cfg.Watchdog.AITriageEnabled {
				return "true"
			}
			return "false"
		}},
		{"paths.state_dir", func(cfg *Config) string { return cfg.Paths.StateDir }},
	}
}

// Lookup finds the named key and returns its rendered value.
func Lookup(cfg *Config, name string) (string, bool) {
	for _, k := range Keys() {
		if k.Name == name {
			return k.Value(cfg), true
		}
	}
	return "", false
}
