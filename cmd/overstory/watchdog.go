package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jayminwest/overstory/internal/collab"
	"github.com/jayminwest/overstory/internal/corelog"
	"github.com/jayminwest/overstory/internal/dashboard"
	"github.com/jayminwest/overstory/internal/learningstore"
	"github.com/jayminwest/overstory/internal/runptr"
	"github.com/jayminwest/overstory/internal/tmux"
	"github.com/jayminwest/overstory/internal/tracker"
	"github.com/jayminwest/overstory/internal/triage"
	"github.com/jayminwest/overstory/internal/watchdog"
)

var (
	dashboardHost   string
	dashboardPort   int
	disableDashboard bool
)

var watchdogCmd = &cobra.Command{
	Use:   "watchdog",
	Short: "Run the watchdog tick loop and dashboard until interrupted",
	Long: `Starts the supervisor process: the watchdog's periodic tick
loop (§4.5) and, unless disabled, the read-only dashboard (§6). Runs
until interrupted with SIGINT or SIGTERM.`,
	RunE: runWatchdog,
}

func init() {
	watchdogCmd.Flags().StringVar(&dashboardHost, "dashboard-host", "127.0.0.1", "dashboard bind host")
	watchdogCmd.Flags().IntVar(&dashboardPort, "dashboard-port", 7777, "dashboard bind port")
	watchdogCmd.Flags().BoolVar(&disableDashboard, "no-dashboard", false, "disable the dashboard HTTP/WebSocket surface")
}

func runWatchdog(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	broker := openBroker(db, cfg)

	logger := corelog.NewForState(cfg.Paths.StateDir)

	mux := tmux.New("")
	bd := tracker.New("", filepath.Join(projectRoot, ".beads"))

	learningPath := filepath.Join(cfg.Paths.StateDir, "learning.db")
	learning, err := learningstore.Open(learningPath)
	if err != nil {
		return fmt.Errorf("open learning store: %w", err)
	}
	defer learning.Close()

	var triageClient collab.Triage
	if cfg.Watchdog.AITriageEnabled {
		client, err := triage.New(triage.Config{APIKey: cfg.Anthropic.APIKey, Model: cfg.Anthropic.TriageModel})
		if err != nil {
			logger.Warn("AI triage disabled: %v", err)
		} else {
			triageClient = client
		}
	}

	w := watchdog.New(watchdog.Deps{
		DB:          db,
		Broker:      broker,
		ProjectRoot: projectRoot,
		Config:      cfg,
		Logger:      logger,
		Tmux:        mux,
		Tracker:     bd,
		Learning:    learning,
		Triage:      triageClient,
		RunPointer:  runptr.New(cfg.Paths.StateDir),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w.Start(ctx)
	defer w.Stop()

	var dash *dashboard.Server
	if !disableDashboard {
		dash = dashboard.New(db, cfg.Paths.StateDir, logger, dashboard.Options{Host: dashboardHost, Port: dashboardPort})
		dash.SetTerminalReader(mux)
		if err := dash.Start(); err != nil {
			return fmt.Errorf("start dashboard: %w", err)
		}
		fmt.Printf("dashboard listening on %s\n", dash.Addr())
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = dash.Shutdown(shutdownCtx)
		}()
	}

	fmt.Println("watchdog running, press Ctrl-C to stop")
	<-ctx.Done()
	fmt.Println("shutting down")
	return nil
}
