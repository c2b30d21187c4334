// Package tmux is the default collab.TerminalMultiplexer: it drives
// the real tmux binary as a subprocess. Every session it creates gets
// its own pty-backed pane via tmux itself; this package only shells
// out to the tmux client, matching the out-of-scope boundary
// described for pseudo-terminal multiplexer invocation.
package tmux

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Multiplexer shells out to the tmux binary found on PATH. Apart from
// CreateSession, which fails when the name is already taken, its
// methods are safe to call on a session that no longer exists.
type Multiplexer struct {
	bin     string
	timeout time.Duration
}

// New returns a Multiplexer that invokes "tmux". Pass an empty bin to
// use the default.
func New(bin string) *Multiplexer {
	if bin == "" {
		bin = "tmux"
	}
	return &Multiplexer{bin: bin, timeout: 10 * time.Second}
}

func (m *Multiplexer) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, m.bin, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}

// CreateSession starts a new detached tmux session named name,
// running command in cwd with the given environment overlay on top of
// tmux's own environment, and returns the pid of the session's first
// pane process.
func (m *Multiplexer) CreateSession(ctx context.Context, name, cwd, command string, env []string) (int, error) {
	args := []string{"new-session", "-d", "-s", name, "-c", cwd}
	for _, kv := range env {
		args = append(args, "-e", kv)
	}
	args = append(args, command)

	if out, err := m.run(ctx, args...); err != nil {
		return 0, fmt.Errorf("tmux: create session %q: %w: %s", name, err, strings.TrimSpace(out))
	}

	out, err := m.run(ctx, "display-message", "-p", "-t", name, "#{pane_pid}")
	if err != nil {
		return 0, fmt.Errorf("tmux: resolve pane pid for %q: %w: %s", name, err, strings.TrimSpace(out))
	}

	pid, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("tmux: parse pane pid for %q: %w", name, err)
	}
	return pid, nil
}

// IsSessionAlive reports whether name still exists. A tmux client
// error (no server running, unknown session) is treated as "not
// alive" rather than surfaced as an error, since liveness is
// inherently a boolean query over an unreliable external process.
func (m *Multiplexer) IsSessionAlive(ctx context.Context, name string) bool {
	_, err := m.run(ctx, "has-session", "-t", name)
	return err == nil
}

// KillSession best-effort kills name's process tree. Killing a
// session that no longer exists is not an error.
func (m *Multiplexer) KillSession(ctx context.Context, name string) error {
	if out, err := m.run(ctx, "kill-session", "-t", name); err != nil {
		if strings.Contains(out, "can't find session") {
			return nil
		}
		return fmt.Errorf("tmux: kill session %q: %w: %s", name, err, strings.TrimSpace(out))
	}
	return nil
}

// SendKeys sends keys to name's active pane followed by an Enter
// keypress, as if typed by the agent it is attached to.
func (m *Multiplexer) SendKeys(ctx context.Context, name, keys string) error {
	if out, err := m.run(ctx, "send-keys", "-t", name, keys, "Enter"); err != nil {
		if strings.Contains(out, "can't find session") {
			return nil
		}
		return fmt.Errorf("tmux: send keys to %q: %w: %s", name, err, strings.TrimSpace(out))
	}
	return nil
}

// CapturePane returns the current visible contents of name's active
// pane, for the dashboard's read-only terminal-output stream (§6). A
// missing session yields an empty string rather than an error, since
// the stream simply has nothing to show once the agent is gone.
func (m *Multiplexer) CapturePane(ctx context.Context, name string) (string, error) {
	out, err := m.run(ctx, "capture-pane", "-p", "-t", name)
	if err != nil {
		if strings.Contains(out, "can't find session") {
			return "", nil
		}
		return "", fmt.Errorf("tmux: capture pane %q: %w: %s", name, err, strings.TrimSpace(out))
	}
	return out, nil
}

// Resize resizes name's window to cols x rows, for the dashboard
// WebSocket's {type:"resize"} control message (§6). A missing session
// is not an error.
func (m *Multiplexer) Resize(ctx context.Context, name string, cols, rows int) error {
	out, err := m.run(ctx, "resize-window", "-t", name,
		"-x", strconv.Itoa(cols), "-y", strconv.Itoa(rows))
	if err != nil {
		if strings.Contains(out, "can't find session") {
			return nil
		}
		return fmt.Errorf("tmux: resize %q: %w: %s", name, err, strings.TrimSpace(out))
	}
	return nil
}
