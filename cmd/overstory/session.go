package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jayminwest/overstory/internal/session"
)

var sessionCmd = &cobra.Command{
	Use:     "session",
	Aliases: []string{"sessions"},
	Short:   "Inspect the agent fleet",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	RunE:  runSessionList,
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <agent>",
	Short: "Show a single session in detail",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionShow,
}

func init() {
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionShowCmd)
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	stateColor  = map[session.State]*color.Color{
		session.StateBooting:   color.New(color.FgCyan),
		session.StateWorking:   color.New(color.FgGreen),
		session.StateCompleted: color.New(color.FgWhite),
		session.StateStalled:   color.New(color.FgYellow),
		session.StateZombie:    color.New(color.FgRed),
	}
)

func runSessionList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	sessions, err := db.GetAll()
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions. Agents register themselves on spawn.")
		return nil
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.Before(sessions[j].StartedAt)
	})

	fmt.Println(headerStyle.Render(fmt.Sprintf("%-20s %-12s %-10s %-8s %-10s %s", "AGENT", "CAPABILITY", "STATE", "ESC", "AGE", "LAST ACTIVITY")))
	for _, s := range sessions {
		paint := stateColor[s.State]
		if paint == nil {
			paint = color.New()
		}
		fmt.Printf("%-20s %-12s %s %-8d %-10s %s\n",
			s.AgentName, s.Capability,
			paint.Sprintf("%-10s", s.State),
			s.EscalationLevel,
			humanize.Time(s.StartedAt),
			humanize.Time(s.LastActivity),
		)
	}
	return nil
}

func runSessionShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	s, err := db.GetByName(args[0])
	if err != nil {
		return fmt.Errorf("get session %s: %w", args[0], err)
	}
	if s == nil {
		return fmt.Errorf("no session named %q", args[0])
	}

	fmt.Printf("Agent:       %s\n", s.AgentName)
	fmt.Printf("Capability:  %s\n", s.Capability)
	fmt.Printf("State:       %s\n", s.State)
	fmt.Printf("Worktree:    %s\n", s.WorktreePath)
	fmt.Printf("Branch:      %s\n", s.BranchName)
	fmt.Printf("Tmux:        %s\n", s.TmuxSession)
	if s.BeadID != "" {
		fmt.Printf("Bead:        %s\n", s.BeadID)
	}
	if s.ParentAgent != nil {
		fmt.Printf("Parent:      %s (depth %d)\n", *s.ParentAgent, s.Depth)
	}
	if s.RunID != nil {
		fmt.Printf("Run:         %s\n", *s.RunID)
	}
	fmt.Printf("Started:     %s (%s)\n", s.StartedAt.Format(time.RFC3339), humanize.Time(s.StartedAt))
	fmt.Printf("Last active: %s (%s)\n", s.LastActivity.Format(time.RFC3339), humanize.Time(s.LastActivity))
	if s.StalledSince != nil {
		fmt.Printf("Stalled:     %s, escalation level %d\n", humanize.Time(*s.StalledSince), s.EscalationLevel)
	}

	if problems := s.CheckInvariants(); len(problems) > 0 {
		fmt.Println()
		fmt.Println(color.New(color.FgRed, color.Bold).Sprint("Invariant violations:"))
		for _, p := range problems {
			fmt.Println("  - " + p)
		}
	}
	return nil
}
