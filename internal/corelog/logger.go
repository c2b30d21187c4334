// Package corelog provides the structured event logger shared by the
// coordination core. It mirrors the teacher's DebugLogger — a
// mutex-guarded, file-backed logger that is safe to call as a no-op
// when logging is disabled — generalized to also mirror the §6
// structured event shape at the matching severity.
package corelog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jayminwest/overstory/pkg/models"
)

// Logger writes timestamped lines to a single file handle. The zero
// value and a Logger built with an empty path are both safe no-ops.
type Logger struct {
	mu   sync.Mutex
	file *os.File
}

// New creates a logger writing to logPath. An empty logPath returns a
// no-op logger. Parent directories are created as needed.
func New(logPath string) (*Logger, error) {
	if logPath == "" {
		return &Logger{}, nil
	}

	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	l := &Logger{file: f}
	l.Log("info", "=== overstory coordination core log started at %s ===", time.Now().Format(time.RFC3339))
	return l, nil
}

// NewForState creates a logger under <stateDir>/logs/core.log, falling
// back to a no-op logger if the directory cannot be created.
func NewForState(stateDir string) *Logger {
	l, err := New(filepath.Join(stateDir, "logs", "core.log"))
	if err != nil {
		return &Logger{}
	}
	return l
}

// Nop returns a no-op logger, used by default in tests.
func Nop() *Logger {
	return &Logger{}
}

// Log writes a level-tagged, timestamped line. Safe on a nil or
// file-less logger.
func (l *Logger) Log(level, format string, args ...interface{}) {
	if l == nil || l.file == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	msg := fmt.Sprintf(format, args...)
	ts := time.Now().Format("15:04:05.000")
	fmt.Fprintf(l.file, "[%s] %s %s\n", ts, level, msg)
	l.file.Sync()
}

// Warn is a convenience wrapper for the external-collaborator-failure
// error category of §7: logged once, then swallowed.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.Log("warn", format, args...)
}

// Emit mirrors a structured event (§6) into the log at its level.
func (l *Logger) Emit(e models.Event) {
	l.Log(string(e.Level), "%s agent=%s run=%s session=%s %v", e.EventType, e.AgentName, e.RunID, e.SessionID, e.Data)
}

// Close closes the underlying file. Safe on a nil or file-less logger.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
