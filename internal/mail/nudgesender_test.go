package mail

import (
	"context"
	"testing"

	"github.com/jayminwest/overstory/internal/session"
)

func TestSenderForceDeliversUrgentMail(t *testing.T) {
	b, db := setupTestBroker(t)
	seedSession(t, db, "scout-1", "scout", session.StateWorking)

	s := NewSender(b)
	res, err := s.Send(context.Background(), "/repo", "scout-1", "check your inbox", true)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !res.Delivered {
		t.Fatalf("expected delivered=true, got %+v", res)
	}

	msgs, err := b.Check("scout-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Priority != "urgent" {
		t.Errorf("priority = %q, want urgent", msgs[0].Priority)
	}
}

func TestSenderNonForceGoesThroughNormalSend(t *testing.T) {
	b, db := setupTestBroker(t)
	seedSession(t, db, "scout-1", "scout", session.StateWorking)

	s := NewSender(b)
	res, err := s.Send(context.Background(), "/repo", "scout-1", "fyi", false)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !res.Delivered {
		t.Fatalf("expected delivered=true, got %+v", res)
	}

	msgs, err := b.Check("scout-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Priority != "high" {
		t.Errorf("priority = %q, want high", msgs[0].Priority)
	}
}

func TestSenderReturnsUndeliveredWhenGroupHasNoRecipients(t *testing.T) {
	b, _ := setupTestBroker(t)

	s := NewSender(b)
	res, err := s.Send(context.Background(), "/repo", "@empty-group", "hi", false)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Delivered {
		t.Error("expected delivered=false when the group resolves to no recipients")
	}
}
