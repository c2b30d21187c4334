// Package collab declares the capability interfaces through which the
// coordination core reaches every external collaborator: the terminal
// multiplexer, the issue tracker, the learning store, the nudge
// sender, the triage model, and the current-run pointer. The watchdog
// and mail broker depend only on these interfaces; default
// implementations live in sibling packages (internal/tmux,
// internal/tracker, internal/learningstore, internal/triage), and
// tests supply stubs.
package collab

import (
	"context"
	"time"
)

// TerminalMultiplexer manages the opaque pseudo-terminal sessions
// agents run inside. All methods must be idempotent and safe to call
// on a session that no longer exists.
type TerminalMultiplexer interface {
	CreateSession(ctx context.Context, name, cwd, command string, env []string) (pid int, err error)
	IsSessionAlive(ctx context.Context, name string) bool
	KillSession(ctx context.Context, name string) error
	SendKeys(ctx context.Context, name, keys string) error
}

// TicketStatus is one row returned by a tracker batch lookup.
type TicketStatus struct {
	ID     string
	Status string
}

// TicketTracker queries the external issue tracker ("bd") for the
// current status of a batch of ticket ids. Implementations must
// fail-open: any error, non-zero exit, parse failure, or timeout
// yields an empty result rather than an error.
type TicketTracker interface {
	// ClosedIDs returns the subset of ids currently marked closed.
	// It must never return an error to the caller: internal failures
	// are swallowed and reported as an empty set.
	ClosedIDs(ctx context.Context, ids []string) map[string]bool
}

// LearningRecord is one fire-and-forget entry recorded by the
// watchdog when it terminates a session.
type LearningRecord struct {
	Domain        string
	Type          string
	Description   string
	Tags          []string
	EvidenceBead  string
}

// LearningStore records structured failure knowledge. Record is
// fire-and-forget: its error is logged by the caller, never
// propagated to abort a watchdog tick.
type LearningStore interface {
	Record(ctx context.Context, rec LearningRecord) error
	Close() error
}

// NudgeResult reports the outcome of a nudge delivery attempt.
type NudgeResult struct {
	Delivered bool
	Reason    string
}

// NudgeSender delivers an attention-grabbing mail-backed nudge to an
// agent, optionally bypassing the mail-check debounce window.
type NudgeSender interface {
	Send(ctx context.Context, projectRoot, agentName, message string, force bool) (NudgeResult, error)
}

// TriageVerdict is the external triage collaborator's recommendation
// for a stalled agent.
type TriageVerdict string

const (
	TriageRetry     TriageVerdict = "retry"
	TriageTerminate TriageVerdict = "terminate"
	TriageExtend    TriageVerdict = "extend"
)

// TriageRequest carries the context the triage collaborator needs to
// render a verdict.
type TriageRequest struct {
	AgentName    string
	ProjectRoot  string
	LastActivity time.Time
}

// Triage asks an external model to recommend a course of action for a
// stalled agent.
type Triage interface {
	Evaluate(ctx context.Context, req TriageRequest) (TriageVerdict, error)
}

// CurrentRunPointer reads the active run id from whatever external
// mechanism tracks it. An empty string means no run is active.
type CurrentRunPointer interface {
	CurrentRunID() (string, error)
}
