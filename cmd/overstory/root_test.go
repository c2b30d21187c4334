package main

import "testing"

func TestRootCommandRegistersAllSubcommands(t *testing.T) {
	want := []string{"version", "config", "session", "mail", "watchdog"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil {
			t.Errorf("Find(%q): %v", name, err)
			continue
		}
		if cmd.Name() != name {
			t.Errorf("Find(%q) resolved to %q", name, cmd.Name())
		}
	}
}

func TestSessionAndMailSubcommandsAreRegistered(t *testing.T) {
	if _, _, err := rootCmd.Find([]string{"session", "list"}); err != nil {
		t.Errorf("session list: %v", err)
	}
	if _, _, err := rootCmd.Find([]string{"session", "show"}); err != nil {
		t.Errorf("session show: %v", err)
	}
	if _, _, err := rootCmd.Find([]string{"mail", "send"}); err != nil {
		t.Errorf("mail send: %v", err)
	}
	if _, _, err := rootCmd.Find([]string{"mail", "check"}); err != nil {
		t.Errorf("mail check: %v", err)
	}
	if _, _, err := rootCmd.Find([]string{"mail", "list"}); err != nil {
		t.Errorf("mail list: %v", err)
	}
	if _, _, err := rootCmd.Find([]string{"mail", "wait"}); err != nil {
		t.Errorf("mail wait: %v", err)
	}
	if _, _, err := rootCmd.Find([]string{"config", "path"}); err != nil {
		t.Errorf("config path: %v", err)
	}
}
