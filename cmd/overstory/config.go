package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jayminwest/overstory/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key]",
	Short: "Show coordination-core configuration",
	Long: `Display the layered configuration overstory resolved for this
project: built-in defaults, the user config file, the project config
file, and environment overrides, merged in that precedence order.

Without arguments, displays every known key. With one argument,
displays just that key's value.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if len(args) == 1 {
			return displayConfigKey(cfg, args[0])
		}
		displayAllConfig(cfg)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the user config file path",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(config.GetUserConfigPath())
	},
}

func init() {
	configCmd.AddCommand(configPathCmd)
}

func displayAllConfig(cfg *config.Config) {
	for _, k := range config.Keys() {
		fmt.Printf("%s: %s\n", k.Name, k.Value(cfg))
	}
	fmt.Printf("watchdog.tracker_timeout: %s\n", cfg.Watchdog.TrackerTimeout)
	fmt.Printf("mail.debounce_window: %s\n", cfg.Mail.DebounceWindow)
	fmt.Printf("mail.auto_nudge_types: %v\n", cfg.Mail.AutoNudgeTypes)
	fmt.Printf("mail.auto_nudge_priorities: %v\n", cfg.Mail.AutoNudgePriorities)
	fmt.Printf("wait.default_timeout: %s\n", cfg.Wait.DefaultTimeout)
	fmt.Printf("wait.initial_poll: %s\n", cfg.Wait.InitialPoll)
	fmt.Printf("wait.max_poll: %s\n", cfg.Wait.MaxPoll)
	fmt.Printf("wait.backoff: %g\n", cfg.Wait.Backoff)
	fmt.Printf("paths.log_dir: %s\n", cfg.Paths.LogDir)
	for name, g := range cfg.Groups {
		fmt.Printf("groups.%s: all=%t capabilities=%v\n", name, g.All, g.Capabilities)
	}
}

func displayConfigKey(cfg *config.Config, key string) error {
	value, ok := config.Lookup(cfg, key)
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown config key %q\n", key)
		os.Exit(1)
	}
	fmt.Println(value)
	return nil
}
