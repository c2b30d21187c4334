package watchdog

import (
	"context"
	"fmt"
	"time"

	"github.com/jayminwest/overstory/internal/collab"
	"github.com/jayminwest/overstory/internal/mailmodel"
	"github.com/jayminwest/overstory/internal/session"
	"github.com/jayminwest/overstory/pkg/models"
)

// expectedLevel computes the progressive escalation ladder's expected
// level from elapsed stall duration (§4.5.3): it advances by elapsed
// time, not by tick count, and caps at 3.
func expectedLevel(stalledSince, now time.Time, nudgeIntervalMs int64) int {
	if nudgeIntervalMs <= 0 {
		return 0
	}
	elapsedMs := now.Sub(stalledSince).Milliseconds()
	level := int(elapsedMs / nudgeIntervalMs)
	if level > 3 {
		level = 3
	}
	if level < 0 {
		level = 0
	}
	return level
}

// runLadder dispatches the action for level against s, per the table
// in §4.5.3. It returns terminated=true if the session was killed.
func (w *Watchdog) runLadder(ctx context.Context, s *session.Session, level int) (terminated bool) {
	switch level {
	case 0:
		w.appendEvent(models.Event{
			AgentName: s.AgentName,
			SessionID: s.ID,
			RunID:     derefString(s.RunID),
			EventType: models.EventEscalationWarn,
			Level:     models.EventLevelWarn,
		})
		return false

	case 1:
		_, err := w.broker.ForceSend("watchdog", s.AgentName,
			"Status check", "You have been quiet for a while. Please report your current status.",
			mailmodel.TypeStatus, mailmodel.PriorityLow)
		if err != nil {
			w.logger.Warn("escalation nudge to %s failed: %v", s.AgentName, err)
		}
		w.appendEvent(models.Event{
			AgentName: s.AgentName,
			SessionID: s.ID,
			RunID:     derefString(s.RunID),
			EventType: models.EventEscalationNudge,
			Level:     models.EventLevelWarn,
		})
		return false

	case 2:
		if !w.cfg.Watchdog.AITriageEnabled || w.triage == nil {
			return false
		}
		verdict, err := w.triage.Evaluate(ctx, collab.TriageRequest{
			AgentName:    s.AgentName,
			ProjectRoot:  w.projectRoot,
			LastActivity: s.LastActivity,
		})
		w.appendEvent(models.Event{
			AgentName: s.AgentName,
			SessionID: s.ID,
			RunID:     derefString(s.RunID),
			EventType: models.EventEscalationTriage,
			Level:     models.EventLevelWarn,
			Data:      map[string]any{"verdict": string(verdict)},
		})
		if err != nil {
			w.logger.Warn("triage evaluation for %s failed: %v", s.AgentName, err)
			return false
		}
		switch verdict {
		case collab.TriageTerminate:
			w.recordFailure(ctx, s, "progressive escalation reached terminal level via triage", string(verdict), "")
			w.killTerminal(ctx, s.TmuxSession)
			return true
		case collab.TriageRetry:
			_, _ = w.broker.ForceSend("watchdog", s.AgentName,
				"Recovery check", "Please resume work and report progress.",
				mailmodel.TypeStatus, mailmodel.PriorityNormal)
		case collab.TriageExtend:
			// no-op: give the agent more time before the next evaluation.
		}
		return false

	default:
		w.recordFailure(ctx, s, "progressive escalation reached terminal level", "", "")
		w.killTerminal(ctx, s.TmuxSession)
		w.appendEvent(models.Event{
			AgentName: s.AgentName,
			SessionID: s.ID,
			RunID:     derefString(s.RunID),
			EventType: models.EventEscalationTerminate,
			Level:     models.EventLevelError,
		})
		return true
	}
}

// recordFailure records a structured failure entry to the external
// learning store (§4.5.4). Recording is fire-and-forget: its failure
// must never abort the tick.
func (w *Watchdog) recordFailure(ctx context.Context, s *session.Session, reason, triageSuggestion, evidenceBead string) {
	if w.learning == nil {
		return
	}
	err := w.learning.Record(ctx, collab.LearningRecord{
		Domain:       "watchdog",
		Type:         "termination",
		Description:  fmt.Sprintf("%s: %s", s.AgentName, reason),
		Tags:         []string{"watchdog", s.Capability, "tier0"},
		EvidenceBead: evidenceBead,
	})
	if err != nil {
		w.logger.Warn("failure recording for %s failed: %v", s.AgentName, err)
	}
}

func (w *Watchdog) killTerminal(ctx context.Context, tmuxSession string) {
	if tmuxSession == "" || w.tmux == nil {
		return
	}
	if err := w.tmux.KillSession(ctx, tmuxSession); err != nil {
		w.logger.Warn("kill terminal %s failed: %v", tmuxSession, err)
	}
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
