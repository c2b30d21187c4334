package tmux

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// writeFakeTmux installs a shell script standing in for the real tmux
// binary so these tests exercise the argument wiring without a real
// tmux server. script receives the full argv (minus argv[0]) as $@.
func writeFakeTmux(t *testing.T, script string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "tmux")
	contents := "#!/bin/sh\n" + script + "\n"
	if err := os.WriteFile(path, []byte(contents), 0755); err != nil {
		t.Fatalf("write fake tmux: %v", err)
	}
	return path
}

func TestCreateSessionReturnsPanePID(t *testing.T) {
	bin := writeFakeTmux(t, `
case "$1" in
  new-session) exit 0 ;;
  display-message) echo 4242 ;;
esac
`)
	m := New(bin)
	pid, err := m.CreateSession(context.Background(), "agent-1", "/tmp", "echo hi", nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if pid != 4242 {
		t.Errorf("pid = %d, want 4242", pid)
	}
}

func TestIsSessionAliveReflectsExitCode(t *testing.T) {
	alive := New(writeFakeTmux(t, `exit 0`))
	if !alive.IsSessionAlive(context.Background(), "agent-1") {
		t.Error("expected alive=true on exit 0")
	}

	dead := New(writeFakeTmux(t, `exit 1`))
	if dead.IsSessionAlive(context.Background(), "agent-1") {
		t.Error("expected alive=false on nonzero exit")
	}
}

func TestKillSessionOnMissingSessionIsNotAnError(t *testing.T) {
	m := New(writeFakeTmux(t, `echo "can't find session: agent-1" 1>&2; exit 1`))
	if err := m.KillSession(context.Background(), "agent-1"); err != nil {
		t.Errorf("KillSession on missing session: %v", err)
	}
}

func TestKillSessionPropagatesOtherFailures(t *testing.T) {
	m := New(writeFakeTmux(t, `echo "server not running" 1>&2; exit 1`))
	if err := m.KillSession(context.Background(), "agent-1"); err == nil {
		t.Error("expected an error for a non-missing-session failure")
	}
}

func TestSendKeysOnMissingSessionIsNotAnError(t *testing.T) {
	m := New(writeFakeTmux(t, `echo "can't find session: agent-1" 1>&2; exit 1`))
	if err := m.SendKeys(context.Background(), "agent-1", "hello"); err != nil {
		t.Errorf("SendKeys on missing session: %v", err)
	}
}

func TestNewDefaultsBinToTmux(t *testing.T) {
	m := New("")
	if m.bin != "tmux" {
		t.Errorf("bin = %q, want tmux", m.bin)
	}
}
