package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jayminwest/overstory/internal/mailmodel"
	"github.com/jayminwest/overstory/internal/nudge"
	"github.com/jayminwest/overstory/internal/store"
	"github.com/jayminwest/overstory/internal/wait"
	"github.com/jayminwest/overstory/pkg/models"
)

var mailCmd = &cobra.Command{
	Use:   "mail",
	Short: "Send and inspect inter-agent mail",
}

var (
	mailType     string
	mailPriority string
	mailThread   string
)

var mailSendCmd = &cobra.Command{
	Use:   "send <from> <to> <subject> <body>",
	Short: "Send a mail message, expanding @group addresses",
	Args:  cobra.ExactArgs(4),
	RunE:  runMailSend,
}

var mailCheckCmd = &cobra.Command{
	Use:   "check <agent>",
	Short: "Check and mark read an agent's unread mail",
	Args:  cobra.ExactArgs(1),
	RunE:  runMailCheck,
}

var mailListCmd = &cobra.Command{
	Use:   "list",
	Short: "List mail, optionally filtered",
	RunE:  runMailList,
}

var (
	mailListAgent  string
	mailListUnread bool
	mailListLimit  int
)

var mailWaitCmd = &cobra.Command{
	Use:   "wait <agent>",
	Short: "Long-poll an agent's inbox until a message or nudge arrives",
	Args:  cobra.ExactArgs(1),
	RunE:  runMailWait,
}

var mailWaitTimeout string

func init() {
	mailSendCmd.Flags().StringVar(&mailType, "type", string(mailmodel.TypeStatus), "mail type")
	mailSendCmd.Flags().StringVar(&mailPriority, "priority", string(mailmodel.PriorityNormal), "mail priority")
	mailSendCmd.Flags().StringVar(&mailThread, "thread", "", "thread id, if replying within a thread")

	mailListCmd.Flags().StringVar(&mailListAgent, "agent", "", "filter to messages involving this agent")
	mailListCmd.Flags().BoolVar(&mailListUnread, "unread", false, "only show unread messages")
	mailListCmd.Flags().IntVar(&mailListLimit, "limit", 50, "maximum messages to show")

	mailWaitCmd.Flags().StringVar(&mailWaitTimeout, "timeout", "5m", "maximum time to wait before returning timeout")

	mailCmd.AddCommand(mailSendCmd)
	mailCmd.AddCommand(mailCheckCmd)
	mailCmd.AddCommand(mailListCmd)
	mailCmd.AddCommand(mailWaitCmd)
}

func runMailSend(cmd *cobra.Command, args []string) error {
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

	from, to, subject, body := args[0], args[1], args[2], args[3]
	var threadID *string
	if mailThread != "" {
		threadID = &mailThread
	}

	ids, err := broker.Send(from, to, subject, body, mailmodel.Type(mailType), mailmodel.Priority(mailPriority), nil, threadID)
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	fmt.Printf("sent %d message(s)\n", len(ids))
	return nil
}

func runMailCheck(cmd *cobra.Command, args []string) error {
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

	msgs, err := broker.Check(args[0])
	if err != nil {
		return fmt.Errorf("check mail: %w", err)
	}
	if len(msgs) == 0 {
		fmt.Println("no unread mail")
		return nil
	}
	for _, m := range msgs {
		printMessage(m)
	}
	return nil
}

func runMailList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	f := store.MailFilter{Agent: mailListAgent, Limit: mailListLimit}
	if mailListUnread {
		unread := true
		f.Unread = &unread
	}

	msgs, err := db.ListMail(f)
	if err != nil {
		return fmt.Errorf("list mail: %w", err)
	}
	if len(msgs) == 0 {
		fmt.Println("no messages")
		return nil
	}
	for _, m := range msgs {
		printMessage(m)
	}
	return nil
}

func runMailWait(cmd *cobra.Command, args []string) error {
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

	sess, err := db.GetByName(args[0])
	if err != nil {
		return fmt.Errorf("get session %s: %w", args[0], err)
	}
	if sess == nil {
		return fmt.Errorf("no session named %q", args[0])
	}

	timeout, err := parseDurationFlag(mailWaitTimeout, cfg.Wait.DefaultTimeout)
	if err != nil {
		return err
	}

	n := nudge.New(cfg.Paths.StateDir)
	result, err := wait.Wait(broker, n, wait.Options{
		Agent:              args[0],
		Timeout:            timeout,
		InitialPoll:        cfg.Wait.InitialPoll,
		MaxPoll:            cfg.Wait.MaxPoll,
		Backoff:            cfg.Wait.Backoff,
		WakeOnPendingNudge: models.Capability(sess.Capability).CoordinatesDispatch(),
	}, sleepFn)
	if err != nil {
		return fmt.Errorf("wait: %w", err)
	}

	fmt.Printf("status: %s\n", result.Status)
	for _, m := range result.Messages {
		printMessage(m)
	}
	if result.Nudge != nil {
		fmt.Printf("nudge from %s: %s\n", result.Nudge.From, result.Nudge.Subject)
	}
	return nil
}

func printMessage(m *mailmodel.Message) {
	read := " "
	if m.Read {
		read = "R"
	}
	fmt.Printf("[%s] %-8s %-8s %s -> %-12s %s (%s)\n",
		read, m.Priority, m.Type, m.From, m.To, m.Subject, humanize.Time(m.CreatedAt))
}
