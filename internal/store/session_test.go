package store

import (
	"testing"
	"time"

	"github.com/jayminwest/overstory/internal/session"
)

func newTestSession(name string) *session.Session {
	now := time.Now()
	return &session.Session{
		ID:           name + "-id",
		AgentName:    name,
		Capability:   "builder",
		WorktreePath: "/tmp/" + name,
		BranchName:   "session/" + name,
		TmuxSession:  "tmux-" + name,
		State:        session.StateBooting,
		StartedAt:    now,
		LastActivity: now,
	}
}

func TestUpsertAndGetByName(t *testing.T) {
	db := setupTestDB(t)
	s := newTestSession("builder-1")

	if err := db.UpsertSession(s); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := db.GetByName("builder-1")
	if err != nil {
		t.Fatalf("get by name: %v", err)
	}
	if got == nil {
		t.Fatal("expected session, got nil")
	}
	if got.State != session.StateBooting {
		t.Errorf("state = %v, want booting", got.State)
	}
}

func TestUpsertSessionReplacesByAgentName(t *testing.T) {
	db := setupTestDB(t)
	s := newTestSession("builder-1")
	if err := db.UpsertSession(s); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	s.State = session.StateWorking
	s.EscalationLevel = 2
	if err := db.UpsertSession(s); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}

	got, err := db.GetByName("builder-1")
	if err != nil {
		t.Fatalf("get by name: %v", err)
	}
	if got.State != session.StateWorking || got.EscalationLevel != 2 {
		t.Errorf("got state=%v level=%d, want working/2", got.State, got.EscalationLevel)
	}
}

func TestGetByNameMissing(t *testing.T) {
	db := setupTestDB(t)
	got, err := db.GetByName("nope")
	if err != nil {
		t.Fatalf("get by name: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing session, got %+v", got)
	}
}

func TestGetActiveExcludesTerminalStates(t *testing.T) {
	db := setupTestDB(t)

	active := newTestSession("active-1")
	active.State = session.StateWorking
	stalled := newTestSession("stalled-1")
	stalled.State = session.StateStalled
	completed := newTestSession("completed-1")
	completed.State = session.StateCompleted
	zombie := newTestSession("zombie-1")
	zombie.State = session.StateZombie

	for _, s := range []*session.Session{active, stalled, completed, zombie} {
		if err := db.UpsertSession(s); err != nil {
			t.Fatalf("upsert %s: %v", s.AgentName, err)
		}
	}

	got, err := db.GetActive()
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d active sessions, want 2", len(got))
	}
	names := map[string]bool{}
	for _, s := range got {
		names[s.AgentName] = true
	}
	if !names["active-1"] || !names["stalled-1"] {
		t.Errorf("unexpected active set: %+v", names)
	}
}

func TestGetByRun(t *testing.T) {
	db := setupTestDB(t)
	run := "run-1"

	a := newTestSession("worker-a")
	a.RunID = &run
	b := newTestSession("worker-b")
	b.RunID = &run
	other := newTestSession("worker-c")

	for _, s := range []*session.Session{a, b, other} {
		if err := db.UpsertSession(s); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	got, err := db.GetByRun(run)
	if err != nil {
		t.Fatalf("get by run: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d sessions for run, want 2", len(got))
	}
}

func TestUpdateStateLastActivityEscalation(t *testing.T) {
	db := setupTestDB(t)
	s := newTestSession("builder-1")
	if err := db.UpsertSession(s); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := db.UpdateState("builder-1", session.StateWorking); err != nil {
		t.Fatalf("update state: %v", err)
	}

	when := time.Now().Add(time.Hour)
	if err := db.UpdateLastActivity("builder-1", when); err != nil {
		t.Fatalf("update last activity: %v", err)
	}

	stalledSince := time.Now()
	if err := db.UpdateEscalation("builder-1", 2, &stalledSince); err != nil {
		t.Fatalf("update escalation: %v", err)
	}

	got, err := db.GetByName("builder-1")
	if err != nil {
		t.Fatalf("get by name: %v", err)
	}
	if got.State != session.StateWorking {
		t.Errorf("state = %v, want working", got.State)
	}
	if got.EscalationLevel != 2 {
		t.Errorf("escalation level = %d, want 2", got.EscalationLevel)
	}
	if got.StalledSince == nil {
		t.Error("expected stalledSince to be set")
	}
}
