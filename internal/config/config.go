// Package config handles configuration loading and management for
// Overstory. It supports XDG config paths, project-level overrides,
// and environment variables, in the same layering the rest of the
// pack uses for its own config packages.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the coordination core.
type Config struct {
	Watchdog  WatchdogConfig  `mapstructure:"watchdog"`
	Mail      MailConfig      `mapstructure:"mail"`
	Wait      WaitConfig      `mapstructure:"wait"`
	Groups    map[string]Group `mapstructure:"groups"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Paths     PathsConfig     `mapstructure:"paths"`
}

// WatchdogConfig holds tick interval and health-evaluation thresholds.
type WatchdogConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	StaleAfter      time.Duration `mapstructure:"stale_after"`
	ZombieAfter     time.Duration `mapstructure:"zombie_after"`
	NudgeInterval   time.Duration `mapstructure:"nudge_interval"`
	AITriageEnabled bool          `mapstructure:"ai_triage_enabled"`
	TrackerTimeout  time.Duration `mapstructure:"tracker_timeout"`
}

// MailConfig holds mail-broker behavior settings.
type MailConfig struct {
	DebounceWindow      time.Duration `mapstructure:"debounce_window"`
	AutoNudgeTypes      []string      `mapstructure:"auto_nudge_types"`
	AutoNudgePriorities []string      `mapstructure:"auto_nudge_priorities"`
}

// WaitConfig holds defaults for the long-poll mail wait.
type WaitConfig struct {
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	InitialPoll    time.Duration `mapstructure:"initial_poll"`
	MaxPoll        time.Duration `mapstructure:"max_poll"`
	Backoff        float64       `mapstructure:"backoff"`
}

// Group describes how a `@<group>` mail address resolves to a set of
// recipients, resolving the open question of §9: the mapping from
// group name to membership predicate is explicit configuration rather
// than implicit in code.
type Group struct {
	// All, when true, matches every active session (used by "@all").
	All bool `mapstructure:"all"`
	// Capabilities lists capability names that belong to this group.
	// With All=false and an empty Capabilities list (or no configured
	// group at all), the group falls back to matching the single
	// capability named after the group itself (e.g. "@scout").
	Capabilities []string `mapstructure:"capabilities"`
}

// AnthropicConfig holds settings for the triage collaborator's API calls.
type AnthropicConfig struct {
	APIKey      string `mapstructure:"api_key"`
	TriageModel string `mapstructure:"triage_model"`
}

// PathsConfig holds filesystem locations for durable state.
type PathsConfig struct {
	StateDir string `mapstructure:"state_dir"`
	LogDir   string `mapstructure:"log_dir"`
}

// Load loads configuration from XDG paths, project overrides, and
// environment variables. Precedence (highest to lowest):
//  1. Environment variables (ANTHROPIC_API_KEY)
//  2. Project config (.overstory/config.yaml under the project root)
//  3. User config (~/.config/overstory/config.yaml)
//  4. Built-in defaults
func Load(projectRoot string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectRoot != "" {
		projectConfigPath := filepath.Join(projectRoot, ".overstory", "config.yaml")
		if _, err := os.Stat(projectConfigPath); err == nil {
			pv := viper.New()
			pv.SetConfigFile(projectConfigPath)
			if err := pv.ReadInConfig(); err == nil {
				if err := v.MergeConfigMap(pv.AllSettings()); err != nil {
					return nil, fmt.Errorf("merging project config: %w", err)
				}
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	if cfg.Paths.StateDir == "" {
		if projectRoot != "" {
			cfg.Paths.StateDir = filepath.Join(projectRoot, ".overstory")
		} else {
			cfg.Paths.StateDir = filepath.Join(".", ".overstory")
		}
	}
	if len(cfg.Groups) == 0 {
		cfg.Groups = DefaultGroups()
	}

	return cfg, nil
}

// LoadFromPath loads configuration from a specific YAML file (for tests).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	if len(cfg.Groups) == 0 {
		cfg.Groups = DefaultGroups()
	}
	return cfg, nil
}

// Save writes cfg to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)
	v.Set("watchdog.interval", cfg.Watchdog.Interval.String())
	v.Set("watchdog.stale_after", cfg.Watchdog.StaleAfter.String())
	v.Set("watchdog.zombie_after", cfg.Watchdog.ZombieAfter.String())
	v.Set("watchdog.nudge_interval", cfg.Watchdog.NudgeInterval.String())
	v.Set("watchdog.ai_triage_enabled", cfg.Watchdog.AITriageEnabled)
	v.Set("watchdog.tracker_timeout", cfg.Watchdog.TrackerTimeout.String())
	v.Set("mail.debounce_window", cfg.Mail.DebounceWindow.String())
	v.Set("mail.auto_nudge_types", cfg.Mail.AutoNudgeTypes)
	v.Set("mail.auto_nudge_priorities", cfg.Mail.AutoNudgePriorities)
	v.Set("wait.default_timeout", cfg.Wait.DefaultTimeout.String())
	v.Set("wait.initial_poll", cfg.Wait.InitialPoll.String())
	v.Set("wait.max_poll", cfg.Wait.MaxPoll.String())
	v.Set("wait.backoff", cfg.Wait.Backoff)
	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.triage_model", cfg.Anthropic.TriageModel)
	v.Set("paths.state_dir", cfg.Paths.StateDir)
	v.Set("paths.log_dir", cfg.Paths.LogDir)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// DefaultGroups returns the built-in `@<group>` resolution table:
// "all" and "workers" (every non-persistent capability). Per-capability
// groups (e.g. "@scout") are resolved by Group.Capabilities falling
// back to the group name itself when unset; see mail/broker.go.
func DefaultGroups() map[string]Group {
	return map[string]Group{
		"all": {All: true},
		"workers": {Capabilities: []string{
			"scout", "builder", "reviewer", "lead", "merger", "supervisor",
		}},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("watchdog.interval", "15s")
	v.SetDefault("watchdog.stale_after", "5m")
	v.SetDefault("watchdog.zombie_after", "20m")
	v.SetDefault("watchdog.nudge_interval", "1m")
	v.SetDefault("watchdog.ai_triage_enabled", false)
	v.SetDefault("watchdog.tracker_timeout", "10s")

	v.SetDefault("mail.debounce_window", "30s")
	v.SetDefault("mail.auto_nudge_types", []string{
		"worker_done", "merge_ready", "error", "escalation", "merge_failed",
	})
	v.SetDefault("mail.auto_nudge_priorities", []string{"high", "urgent"})

	v.SetDefault("wait.default_timeout", "5m")
	v.SetDefault("wait.initial_poll", "1s")
	v.SetDefault("wait.max_poll", "10s")
	v.SetDefault("wait.backoff", 1.5)

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.triage_model", "claude-haiku-4-5")
}

func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "overstory")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "overstory")
	}
	return filepath.Join(home, ".config", "overstory")
}

// Default returns a Config populated with built-in defaults, useful
// for tests and for commands run without a discoverable config file.
func Default() *Config {
	return &Config{
		Watchdog: WatchdogConfig{
			Interval:        15 * time.Second,
			StaleAfter:      5 * time.Minute,
			ZombieAfter:     20 * time.Minute,
			NudgeInterval:   time.Minute,
			AITriageEnabled: false,
			TrackerTimeout:  10 * time.Second,
		},
		Mail: MailConfig{
			DebounceWindow:      30 * time.Second,
			AutoNudgeTypes:      []string{"worker_done", "merge_ready", "error", "escalation", "merge_failed"},
			AutoNudgePriorities: []string{"high", "urgent"},
		},
		Wait: WaitConfig{
			DefaultTimeout: 5 * time.Minute,
			InitialPoll:    time.Second,
			MaxPoll:        10 * time.Second,
			Backoff:        1.5,
		},
		Groups: DefaultGroups(),
		Paths: PathsConfig{
			StateDir: filepath.Join(".", ".overstory"),
		},
	}
}
