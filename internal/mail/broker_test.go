package mail

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jayminwest/overstory/internal/config"
	"github.com/jayminwest/overstory/internal/mailmodel"
	"github.com/jayminwest/overstory/internal/session"
	"github.com/jayminwest/overstory/internal/store"
)

func setupTestBroker(t *testing.T) (*Broker, *store.DB) {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	b := New(db, config.Default(), dir)
	return b, db
}

func seedSession(t *testing.T, db *store.DB, name, capability string, state session.State) {
	t.Helper()
	now := time.Now()
	s := &session.Session{
		ID:           name + "-id",
		AgentName:    name,
		Capability:   capability,
		State:        state,
		StartedAt:    now,
		LastActivity: now,
	}
	if err := db.UpsertSession(s); err != nil {
		t.Fatalf("seed session %s: %v", name, err)
	}
}

func TestSendRejectsInvalidTypeOrPriority(t *testing.T) {
	b, _ := setupTestBroker(t)

	if _, err := b.Send("a", "b", "s", "body", mailmodel.Type("bogus"), mailmodel.PriorityNormal, nil, nil); err == nil {
		t.Error("expected error for invalid type")
	}
	if _, err := b.Send("a", "b", "s", "body", mailmodel.TypeStatus, mailmodel.Priority("bogus"), nil, nil); err == nil {
		t.Error("expected error for invalid priority")
	}
}

func TestSendThenCheckReturnsMessage(t *testing.T) {
	b, db := setupTestBroker(t)
	seedSession(t, db, "sender", "builder", session.StateWorking)
	seedSession(t, db, "recipient", "builder", session.StateWorking)

	ids, err := b.Send("sender", "recipient", "hello", "body", mailmodel.TypeStatus, mailmodel.PriorityNormal, nil, nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("got %d ids, want 1", len(ids))
	}

	msgs, err := b.Check("recipient")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != ids[0] {
		t.Fatalf("check did not return the sent message: %+v", msgs)
	}

	// A second check finds nothing: Check marks read atomically with fetch.
	again, err := b.Check("recipient")
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("expected no messages on second check, got %d", len(again))
	}
}

func TestSendCheckUnionIsExactlyOnce(t *testing.T) {
	b, db := setupTestBroker(t)
	seedSession(t, db, "sender", "builder", session.StateWorking)
	seedSession(t, db, "recipient", "builder", session.StateWorking)

	var sent []string
	for i := 0; i < 5; i++ {
		ids, err := b.Send("sender", "recipient", "s", "b", mailmodel.TypeStatus, mailmodel.PriorityNormal, nil, nil)
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		sent = append(sent, ids...)
	}

	seen := map[string]int{}
	for i := 0; i < 3; i++ {
		msgs, err := b.Check("recipient")
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		for _, m := range msgs {
			seen[m.ID]++
		}
	}

	if len(seen) != len(sent) {
		t.Fatalf("saw %d distinct messages across checks, want %d", len(seen), len(sent))
	}
	for _, id := range sent {
		if seen[id] != 1 {
			t.Errorf("message %s returned %d times, want exactly 1", id, seen[id])
		}
	}
}

func TestAutoNudgeOnHighPriorityAndProtocolTypes(t *testing.T) {
	b, db := setupTestBroker(t)
	seedSession(t, db, "sender", "builder", session.StateWorking)
	seedSession(t, db, "recipient", "builder", session.StateWorking)

	if _, err := b.Send("sender", "recipient", "urgent!", "body", mailmodel.TypeStatus, mailmodel.PriorityUrgent, nil, nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	marker, err := b.nudges.ReadAndClearNudge("recipient")
	if err != nil {
		t.Fatalf("read nudge: %v", err)
	}
	if marker == nil {
		t.Fatal("expected a pending-nudge marker for an urgent send")
	}

	if _, err := b.Send("sender", "recipient", "done", "body", mailmodel.TypeWorkerDone, mailmodel.PriorityNormal, nil, nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	marker, err = b.nudges.ReadAndClearNudge("recipient")
	if err != nil {
		t.Fatalf("read nudge: %v", err)
	}
	if marker == nil {
		t.Fatal("expected a pending-nudge marker for a worker_done send regardless of priority")
	}
}

func TestSendNoAutoNudgeForLowPriorityStatusMail(t *testing.T) {
	b, db := setupTestBroker(t)
	seedSession(t, db, "sender", "builder", session.StateWorking)
	seedSession(t, db, "recipient", "builder", session.StateWorking)

	if _, err := b.Send("sender", "recipient", "fyi", "body", mailmodel.TypeStatus, mailmodel.PriorityNormal, nil, nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	marker, err := b.nudges.ReadAndClearNudge("recipient")
	if err != nil {
		t.Fatalf("read nudge: %v", err)
	}
	if marker != nil {
		t.Errorf("expected no nudge marker for normal-priority status mail, got %+v", marker)
	}
}

func TestHeartbeatMovesBootingAndStalledToWorking(t *testing.T) {
	b, db := setupTestBroker(t)
	seedSession(t, db, "booter", "builder", session.StateBooting)
	seedSession(t, db, "recipient", "builder", session.StateWorking)

	if _, err := b.Send("booter", "recipient", "s", "b", mailmodel.TypeStatus, mailmodel.PriorityNormal, nil, nil); err != nil {
		t.Fatalf("send: %v", err)
	}

	got, err := db.GetByName("booter")
	if err != nil {
		t.Fatalf("get by name: %v", err)
	}
	if got.State != session.StateWorking {
		t.Errorf("state = %v, want working after send heartbeat", got.State)
	}
}

func TestHeartbeatClearsEscalationOnRecoveryFromStalled(t *testing.T) {
	b, db := setupTestBroker(t)
	seedSession(t, db, "stalled-agent", "builder", session.StateStalled)
	seedSession(t, db, "recipient", "builder", session.StateWorking)
	stalledSince := time.Now().Add(-time.Hour)
	if err := db.UpdateEscalation("stalled-agent", 2, &stalledSince); err != nil {
		t.Fatalf("seed escalation: %v", err)
	}

	if _, err := b.Check("stalled-agent"); err != nil {
		t.Fatalf("check: %v", err)
	}

	got, err := db.GetByName("stalled-agent")
	if err != nil {
		t.Fatalf("get by name: %v", err)
	}
	if got.State != session.StateWorking {
		t.Errorf("state = %v, want working", got.State)
	}
	if got.EscalationLevel != 0 || got.StalledSince != nil {
		t.Errorf("expected escalation reset, got level=%d stalledSince=%v", got.EscalationLevel, got.StalledSince)
	}
}

func TestReplyDerivesRecipientSubjectAndThread(t *testing.T) {
	b, db := setupTestBroker(t)
	seedSession(t, db, "alice", "builder", session.StateWorking)
	seedSession(t, db, "bob", "reviewer", session.StateWorking)

	ids, err := b.Send("alice", "bob", "Question about X", "body", mailmodel.TypeQuestion, mailmodel.PriorityNormal, nil, nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	original := ids[0]

	replyID, err := b.Reply(original, "here's the answer", "bob")
	if err != nil {
		t.Fatalf("reply: %v", err)
	}

	reply, err := b.Get(replyID)
	if err != nil {
		t.Fatalf("get reply: %v", err)
	}
	if reply.To != "alice" {
		t.Errorf("reply.To = %q, want alice", reply.To)
	}
	if reply.ThreadID == nil || *reply.ThreadID != original {
		t.Errorf("reply.ThreadID = %v, want %q (original's own id since it had none)", reply.ThreadID, original)
	}
	if reply.Subject != "Re: Question about X" {
		t.Errorf("reply.Subject = %q, want %q", reply.Subject, "Re: Question about X")
	}
}

func TestReplyDoesNotDoublePrefixSubject(t *testing.T) {
	b, db := setupTestBroker(t)
	seedSession(t, db, "alice", "builder", session.StateWorking)
	seedSession(t, db, "bob", "reviewer", session.StateWorking)

	thread := "thread-1"
	ids, err := b.Send("alice", "bob", "Re: already replied", "body", mailmodel.TypeStatus, mailmodel.PriorityNormal, nil, &thread)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	replyID, err := b.Reply(ids[0], "ok", "bob")
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	reply, err := b.Get(replyID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if reply.Subject != "Re: already replied" {
		t.Errorf("subject = %q, want no double prefix", reply.Subject)
	}
	if reply.ThreadID == nil || *reply.ThreadID != thread {
		t.Errorf("threadID = %v, want inherited %q", reply.ThreadID, thread)
	}
}

func TestBroadcastFanOutToGroupExcludesSenderAndNudgesAll(t *testing.T) {
	b, db := setupTestBroker(t)
	seedSession(t, db, "coordinator-1", "coordinator", session.StateWorking)
	seedSession(t, db, "worker-a", "builder", session.StateWorking)
	seedSession(t, db, "worker-b", "reviewer", session.StateWorking)
	seedSession(t, db, "worker-c", "scout", session.StateWorking)

	ids, err := b.Send("coordinator-1", "@workers", "go", "start work", mailmodel.TypeDispatch, mailmodel.PriorityHigh, nil, nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("got %d ids, want 3 (sender excluded)", len(ids))
	}

	for _, recipient := range []string{"worker-a", "worker-b", "worker-c"} {
		msgs, err := b.Check(recipient)
		if err != nil {
			t.Fatalf("check %s: %v", recipient, err)
		}
		if len(msgs) != 1 {
			t.Errorf("%s inbox has %d messages, want exactly 1", recipient, len(msgs))
		}
		marker, err := b.nudges.ReadAndClearNudge(recipient)
		if err != nil {
			t.Fatalf("read nudge %s: %v", recipient, err)
		}
		if marker == nil {
			t.Errorf("expected pending-nudge marker for %s", recipient)
		}
	}

	// The sender (coordinator) must never receive its own broadcast.
	msgs, err := b.Check("coordinator-1")
	if err != nil {
		t.Fatalf("check coordinator: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("coordinator inbox has %d messages, want 0", len(msgs))
	}
}

func TestGroupAddressesAreNeverPersisted(t *testing.T) {
	b, db := setupTestBroker(t)
	seedSession(t, db, "coordinator-1", "coordinator", session.StateWorking)
	seedSession(t, db, "worker-a", "builder", session.StateWorking)

	if _, err := b.Send("coordinator-1", "@workers", "go", "body", mailmodel.TypeDispatch, mailmodel.PriorityNormal, nil, nil); err != nil {
		t.Fatalf("send: %v", err)
	}

	all, err := b.List(store.MailFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, m := range all {
		if m.To == "@workers" {
			t.Errorf("found persisted group address %q; groups must be expanded before storage", m.To)
		}
	}
}

func TestForceSendBypassesValidationOfActiveSessionButWritesNudge(t *testing.T) {
	b, _ := setupTestBroker(t)
	id, err := b.ForceSend("watchdog", "builder-1", "status check", "report in", mailmodel.TypeStatus, mailmodel.PriorityLow)
	if err != nil {
		t.Fatalf("force send: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty id")
	}
	marker, err := b.nudges.ReadAndClearNudge("builder-1")
	if err != nil {
		t.Fatalf("read nudge: %v", err)
	}
	if marker == nil {
		t.Fatal("expected force send to always write a nudge marker")
	}
}

func TestSendProjectsMergeProtocolMailIntoMergeQueue(t *testing.T) {
	b, db := setupTestBroker(t)
	seedSession(t, db, "coordinator-1", "coordinator", session.StateWorking)

	now := time.Now()
	merger := &session.Session{
		ID: "merger-1-id", AgentName: "merger-1", Capability: "merger",
		BranchName: "feature/x", EscalationLevel: 0,
		State: session.StateWorking, StartedAt: now, LastActivity: now,
	}
	if err := db.UpsertSession(merger); err != nil {
		t.Fatalf("seed merger: %v", err)
	}

	if _, err := b.Send("merger-1", "coordinator-1", "ready to merge", "", mailmodel.TypeMergeReady, mailmodel.PriorityNormal, nil, nil); err != nil {
		t.Fatalf("send merge_ready: %v", err)
	}

	entries, err := db.ListMergeQueue()
	if err != nil {
		t.Fatalf("list merge queue: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d merge queue entries, want 1", len(entries))
	}
	if entries[0].Branch != "feature/x" || entries[0].Status != "pending" {
		t.Errorf("got %+v, want branch=feature/x status=pending", entries[0])
	}

	if _, err := b.Send("merger-1", "coordinator-1", "merged", "", mailmodel.TypeMerged, mailmodel.PriorityNormal, nil, nil); err != nil {
		t.Fatalf("send merged: %v", err)
	}

	entries, err = db.ListMergeQueue()
	if err != nil {
		t.Fatalf("list merge queue again: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d merge queue entries after merged, want 1 (upsert, not a new row)", len(entries))
	}
	if entries[0].Status != "merged" {
		t.Errorf("status = %q, want merged", entries[0].Status)
	}
}

func TestSendIgnoresMergeQueueProjectionForNonMergeMail(t *testing.T) {
	b, db := setupTestBroker(t)
	seedSession(t, db, "coordinator-1", "coordinator", session.StateWorking)
	seedSession(t, db, "scout-1", "scout", session.StateWorking)

	if _, err := b.Send("scout-1", "coordinator-1", "status", "still working", mailmodel.TypeStatus, mailmodel.PriorityNormal, nil, nil); err != nil {
		t.Fatalf("send: %v", err)
	}

	entries, err := db.ListMergeQueue()
	if err != nil {
		t.Fatalf("list merge queue: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no merge queue entries for non-merge-protocol mail, got %d", len(entries))
	}
}
