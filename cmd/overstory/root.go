package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jayminwest/overstory/internal/config"
	"github.com/jayminwest/overstory/internal/mail"
	"github.com/jayminwest/overstory/internal/store"
)

var projectRoot string

var rootCmd = &cobra.Command{
	Use:   "overstory",
	Short: "Coordination core for a fleet of parallel agents",
	Long: `Overstory tracks a fleet of concurrently running agents: their
lifecycle state, their mail, and the watchdog that keeps stalled
agents from silently dying.

With no subcommand, overstory prints session status for the current
project.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSessionList(cmd, args)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cwd, _ := os.Getwd()
	rootCmd.PersistentFlags().StringVar(&projectRoot, "project", cwd, "project root (defaults to the current directory)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(mailCmd)
	rootCmd.AddCommand(watchdogCmd)
}

// loadConfig loads configuration for projectRoot, exiting the command
// with a structured error on failure (§7: validation/config failures
// surface immediately, never retried).
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openStore opens the coordination-core database under cfg's state
// directory, creating it on first use.
func openStore(cfg *config.Config) (*store.DB, error) {
	db, err := store.Open(store.Path(cfg.Paths.StateDir))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return db, nil
}

// openBroker wires a mail.Broker on top of db for cfg's state dir.
func openBroker(db *store.DB, cfg *config.Config) *mail.Broker {
	return mail.New(db, cfg, cfg.Paths.StateDir)
}
