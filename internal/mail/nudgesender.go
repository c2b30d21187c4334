package mail

import (
	"context"

	"github.com/jayminwest/overstory/internal/collab"
	"github.com/jayminwest/overstory/internal/mailmodel"
)

// Sender is the default collab.NudgeSender ("nudgeAgent" in §6): a
// thin adapter over Broker that the CLI mail subsystem and the
// watchdog both call for an attention-grabbing, mail-backed nudge.
// Unlike the bare nudge.Channel marker, this goes through the mail
// store so the nudge is also a durable, readable message.
type Sender struct {
	broker *Broker
}

// NewSender wraps broker.
func NewSender(broker *Broker) *Sender {
	return &Sender{broker: broker}
}

// Send delivers message as a status mail from "system" to agentName.
// When force is true, it goes through ForceSend at urgent priority,
// bypassing the debounce window but not the mail store's own
// durability rules (§5's timeout/cancellation semantics). Otherwise it
// is skipped while the agent is debounced, and sent through the
// ordinary Send path at high priority.
func (s *Sender) Send(ctx context.Context, projectRoot, agentName, message string, force bool) (collab.NudgeResult, error) {
	const subject = "Attention required"

	if force {
		if _, err := s.broker.ForceSend("system", agentName, subject, message, mailmodel.TypeStatus, mailmodel.PriorityUrgent); err != nil {
			return collab.NudgeResult{Delivered: false, Reason: err.Error()}, err
		}
		return collab.NudgeResult{Delivered: true}, nil
	}

	if !s.broker.DebounceEligible(agentName) {
		return collab.NudgeResult{Delivered: false, Reason: "debounced"}, nil
	}

	ids, err := s.broker.Send("system", agentName, subject, message, mailmodel.TypeStatus, mailmodel.PriorityHigh, nil, nil)
	if err != nil {
		return collab.NudgeResult{Delivered: false, Reason: err.Error()}, err
	}
	if len(ids) == 0 {
		return collab.NudgeResult{Delivered: false, Reason: "no recipients resolved"}, nil
	}
	return collab.NudgeResult{Delivered: true}, nil
}
