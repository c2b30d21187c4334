package watchdog

import (
	"time"

	"github.com/jayminwest/overstory/internal/session"
	"github.com/jayminwest/overstory/pkg/models"
)

// Action is the tagged variant health evaluation produces (§4.5.2,
// §9's note that no inheritance is needed — a sum type plus a
// dispatch table suffices).
type Action string

const (
	ActionNone       Action = "none"
	ActionEscalate   Action = "escalate"
	ActionTerminate  Action = "terminate"
	ActionInvestigate Action = "investigate"
)

// HealthResult is the outcome of evaluating a single session.
type HealthResult struct {
	Action             Action
	NewState           session.State
	ReconciliationNote string
}

// evaluateHealth implements the table of §4.5.2. now and s.LastActivity
// are compared to produce age; terminalAlive is the freshly-sampled
// liveness probe for s's multiplexer handle. A session whose activity
// resumes within staleMs always reports healthy/working, including a
// previously-stalled session recovering (§4.5.3's Recovery note and
// the worked example in §8 both require state to move back to
// working, not merely to clear escalation bookkeeping).
func evaluateHealth(s *session.Session, terminalAlive bool, thresholds models.WatchdogThresholds, now time.Time) HealthResult {
	age := now.Sub(s.LastActivity).Milliseconds()

	if !terminalAlive {
		return HealthResult{Action: ActionTerminate, NewState: session.StateZombie}
	}

	if s.State == session.StateZombie {
		return HealthResult{
			Action:             ActionInvestigate,
			NewState:           s.State,
			ReconciliationNote: "recorded zombie but terminal is alive",
		}
	}

	switch {
	case age < thresholds.StaleMs:
		return HealthResult{Action: ActionNone, NewState: session.StateWorking}
	case age < thresholds.ZombieMs:
		newState := session.StateStalled
		if s.State == session.StateStalled {
			newState = s.State
		}
		return HealthResult{Action: ActionEscalate, NewState: newState}
	default:
		return HealthResult{
			Action:             ActionEscalate,
			NewState:           s.State,
			ReconciliationNote: "deep stall: activity age exceeds zombie threshold",
		}
	}
}
