// Package mail implements the mail store and broker (§3.2, §4.2): a
// durable message queue between agents, `@group` broadcast expansion,
// the auto-nudge side effect, and the session-heartbeat side effect.
// It follows the teacher's pattern of a thin behavioral layer on top
// of the persistence package, the way internal/orchestrator sits on
// top of internal/state.
package mail

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jayminwest/overstory/internal/config"
	"github.com/jayminwest/overstory/internal/mailmodel"
	"github.com/jayminwest/overstory/internal/corelog"
	"github.com/jayminwest/overstory/internal/nudge"
	"github.com/jayminwest/overstory/internal/session"
	"github.com/jayminwest/overstory/internal/store"
	"github.com/jayminwest/overstory/pkg/models"
)

// Broker mediates all mail operations, applying broadcast expansion
// and the auto-nudge and heartbeat side effects on top of the raw
// persistence layer.
type Broker struct {
	db      *store.DB
	cfg     *config.Config
	nudges  *nudge.Channel
	debounce *DebounceStore
	logger  *corelog.Logger
}

// SetLogger wires a structured-event logger into the broker so that
// events the broker itself appends (currently mail_broadcast_expanded)
// are mirrored to it per §1.2's ambient-logging contract, matching the
// teacher's pattern of mirroring orchestrator events into its debug
// log. A nil logger (the default) disables mirroring, not the event
// append itself.
func (b *Broker) SetLogger(logger *corelog.Logger) {
	b.logger = logger
}

// New constructs a Broker backed by db, using cfg for group
// resolution and auto-nudge policy, and stateDir for the debounce and
// nudge marker files.
func New(db *store.DB, cfg *config.Config, stateDir string) *Broker {
	return &Broker{
		db:       db,
		cfg:      cfg,
		nudges:   nudge.New(stateDir),
		debounce: NewDebounceStore(stateDir),
	}
}

// Send validates type and priority, expands `@group` addresses
// against currently-active sessions, writes one message per resolved
// recipient, and applies the auto-nudge and heartbeat side effects.
// It returns the ids of every message produced.
func (b *Broker) Send(from, to, subject, body string, typ mailmodel.Type, priority mailmodel.Priority, payload, threadID *string) ([]string, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("invalid mail type %q", typ)
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("invalid mail priority %q", priority)
	}

	recipients, err := b.resolveRecipients(to, from)
	if err != nil {
		return nil, err
	}

	var ids []string
	autoNudge := b.autoNudgePriority(priority) || b.autoNudgeType(typ)

	for _, recipient := range recipients {
		id := uuid.NewString()
		m := &mailmodel.Message{
			ID:        id,
			From:      from,
			To:        recipient,
			Subject:   subject,
			Body:      body,
			Priority:  priority,
			Type:      typ,
			ThreadID:  threadID,
			Payload:   payload,
			Read:      false,
			CreatedAt: time.Now(),
		}
		if err := b.db.InsertMail(m); err != nil {
			return ids, err
		}
		ids = append(ids, id)

		if autoNudge {
			_ = b.nudges.WriteNudge(recipient, nudge.Marker{
				From:      from,
				Reason:    string(typ),
				Subject:   subject,
				MessageID: id,
				CreatedAt: m.CreatedAt,
			})
		}
	}

	if strings.HasPrefix(to, "@") {
		ev := models.Event{
			AgentName: from,
			EventType: models.EventMailBroadcastExpanded,
			Level:     models.EventLevelInfo,
			Data: map[string]any{
				"group":      strings.TrimPrefix(to, "@"),
				"recipients": recipients,
				"count":      len(recipients),
			},
		}
		_ = b.db.AppendEvent(ev)
		if b.logger != nil {
			b.logger.Emit(ev)
		}
	}

	b.projectMergeQueue(from, typ)

	b.heartbeat(from)
	return ids, nil
}

// projectMergeQueue mirrors the merge-protocol mail types
// (merge_ready/merged/merge_failed) into the merge-queue store (§6's
// "entries with branch, status, resolved tier") keyed by the
// sender's own branch, since merge conflict resolution itself is the
// merger agent's job (§1 Non-goals) and this repo only persists what
// that agent reports through mail.
func (b *Broker) projectMergeQueue(from string, typ mailmodel.Type) {
	var status string
	switch typ {
	case mailmodel.TypeMergeReady:
		status = "pending"
	case mailmodel.TypeMerged:
		status = "merged"
	case mailmodel.TypeMergeFailed:
		status = "failed"
	default:
		return
	}

	sender, err := b.db.GetByName(from)
	if err != nil || sender == nil || sender.BranchName == "" {
		return
	}

	_ = b.db.UpsertMergeQueueEntry(store.MergeQueueEntry{
		Branch:    sender.BranchName,
		Status:    status,
		Tier:      sender.EscalationLevel,
		AgentName: from,
		UpdatedAt: time.Now().Format(time.RFC3339),
	})
}

// ForceSend bypasses nothing on the store side (§5: force bypasses
// debounce windows, not durability rules) but is the entry point the
// watchdog and CLI use for escalation nudges and forced status mail:
// it always applies the auto-nudge marker regardless of type/priority.
func (b *Broker) ForceSend(from, to, subject, body string, typ mailmodel.Type, priority mailmodel.Priority) (string, error) {
	if !typ.Valid() {
		return "", fmt.Errorf("invalid mail type %q", typ)
	}
	if !priority.Valid() {
		return "", fmt.Errorf("invalid mail priority %q", priority)
	}
	id := uuid.NewString()
	m := &mailmodel.Message{
		ID:        id,
		From:      from,
		To:        to,
		Subject:   subject,
		Body:      body,
		Priority:  priority,
		Type:      typ,
		CreatedAt: time.Now(),
	}
	if err := b.db.InsertMail(m); err != nil {
		return "", err
	}
	_ = b.nudges.WriteNudge(to, nudge.Marker{
		From:      from,
		Reason:    string(typ),
		Subject:   subject,
		MessageID: id,
		CreatedAt: m.CreatedAt,
	})
	return id, nil
}

// Check returns agent's unread mail, marked read atomically with
// fetch, and applies the heartbeat side effect.
func (b *Broker) Check(agent string) ([]*mailmodel.Message, error) {
	msgs, err := b.db.CheckMail(agent)
	if err != nil {
		return nil, err
	}
	b.debounce.Touch(agent, time.Now())
	b.heartbeat(agent)
	return msgs, nil
}

// List returns a filtered read-only view.
func (b *Broker) List(f store.MailFilter) ([]*mailmodel.Message, error) {
	return b.db.ListMail(f)
}

// Get retrieves a single message by id.
func (b *Broker) Get(id string) (*mailmodel.Message, error) {
	return b.db.GetMail(id)
}

// MarkRead marks id read, idempotently, reporting whether it was
// already read.
func (b *Broker) MarkRead(id string) (bool, error) {
	return b.db.MarkMailRead(id)
}

// Reply sends a message auto-deriving `to` from the original sender,
// a `Re: `-prefixed subject, and a threadId that defaults to the
// original message's own id when it had none (§8).
func (b *Broker) Reply(id, body, from string) (string, error) {
	original, err := b.db.GetMail(id)
	if err != nil {
		return "", err
	}
	if original == nil {
		return "", fmt.Errorf("mail %s not found", id)
	}

	threadID := original.ID
	if original.ThreadID != nil && *original.ThreadID != "" {
		threadID = *original.ThreadID
	}
	subject := original.Subject
	if !strings.HasPrefix(subject, "Re: ") {
		subject = "Re: " + subject
	}

	ids, err := b.Send(from, original.From, subject, body, mailmodel.TypeStatus, mailmodel.PriorityNormal, nil, &threadID)
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", fmt.Errorf("reply produced no message")
	}
	return ids[0], nil
}

// GetUnread returns unread messages addressed to agent without
// marking them read.
func (b *Broker) GetUnread(agent string) ([]*mailmodel.Message, error) {
	return b.db.GetUnreadMail(agent)
}

// Purge deletes messages matching f.
func (b *Broker) Purge(f store.PurgeFilter) (int64, error) {
	return b.db.PurgeMail(f)
}

// DebounceEligible reports whether agent may be nudged again without
// violating the mail-check debounce window (§3.4). A force-sent nudge
// bypasses this entirely; it exists for the CLI's own non-forced
// attention sends (§4.3's "force bypasses debounce" rule implies a
// debounce check exists for the non-force path).
func (b *Broker) DebounceEligible(agent string) bool {
	return b.debounce.Eligible(agent, b.cfg.Mail.DebounceWindow)
}

// autoNudgePriority reports whether priority is configured to trigger
// the auto-nudge side effect, per cfg.Mail.AutoNudgePriorities. Falls
// back to the spec's {high, urgent} default when config carries none.
func (b *Broker) autoNudgePriority(priority mailmodel.Priority) bool {
	priorities := b.cfg.Mail.AutoNudgePriorities
	if len(priorities) == 0 {
		return priority == mailmodel.PriorityHigh || priority == mailmodel.PriorityUrgent
	}
	for _, p := range priorities {
		if mailmodel.Priority(p) == priority {
			return true
		}
	}
	return false
}

// autoNudgeType reports whether typ is configured to trigger the
// auto-nudge side effect regardless of priority, per
// cfg.Mail.AutoNudgeTypes. Falls back to mailmodel.Type.AutoNudge's
// spec-default set when config carries none.
func (b *Broker) autoNudgeType(typ mailmodel.Type) bool {
	types := b.cfg.Mail.AutoNudgeTypes
	if len(types) == 0 {
		return typ.AutoNudge()
	}
	for _, t := range types {
		if mailmodel.Type(t) == typ {
			return true
		}
	}
	return false
}

// heartbeat applies §4.2's session-heartbeat side effect: any send,
// check, or reply by agent A updates A's lastActivity and, if A was
// booting or stalled, moves it to working.
func (b *Broker) heartbeat(agent string) {
	s, err := b.db.GetByName(agent)
	if err != nil || s == nil {
		return
	}
	now := time.Now()
	_ = b.db.UpdateLastActivity(agent, now)
	if s.State == session.StateBooting || s.State == session.StateStalled {
		_ = b.db.UpdateState(agent, session.StateWorking)
		_ = b.db.UpdateEscalation(agent, 0, nil)
	}
}

// resolveRecipients expands a `@group` address against currently
// active sessions excluding sender, or returns a single-element slice
// for a plain address.
func (b *Broker) resolveRecipients(to, sender string) ([]string, error) {
	if !strings.HasPrefix(to, "@") {
		return []string{to}, nil
	}
	groupName := strings.TrimPrefix(to, "@")

	active, err := b.db.GetActive()
	if err != nil {
		return nil, fmt.Errorf("resolve group %s: %w", to, err)
	}

	group, ok := b.cfg.Groups[groupName]
	matches := func(s *session.Session) bool {
		if ok && group.All {
			return true
		}
		caps := groupName
		var list []string
		if ok && len(group.Capabilities) > 0 {
			list = group.Capabilities
		} else {
			list = []string{caps}
		}
		for _, c := range list {
			if s.Capability == c {
				return true
			}
		}
		return false
	}

	var recipients []string
	for _, s := range active {
		if s.AgentName == sender {
			continue
		}
		if matches(s) {
			recipients = append(recipients, s.AgentName)
		}
	}
	sort.Strings(recipients)
	return recipients, nil
}
