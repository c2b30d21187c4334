package main

import (
	"testing"
	"time"
)

func TestParseDurationFlagUsesDefaultWhenEmpty(t *testing.T) {
	got, err := parseDurationFlag("", 5*time.Minute)
	if err != nil {
		t.Fatalf("parseDurationFlag: %v", err)
	}
	if got != 5*time.Minute {
		t.Errorf("got %v, want 5m", got)
	}
}

func TestParseDurationFlagParsesExplicitValue(t *testing.T) {
	got, err := parseDurationFlag("90s", time.Minute)
	if err != nil {
		t.Fatalf("parseDurationFlag: %v", err)
	}
	if got != 90*time.Second {
		t.Errorf("got %v, want 90s", got)
	}
}

func TestParseDurationFlagRejectsGarbage(t *testing.T) {
	if _, err := parseDurationFlag("not-a-duration", time.Minute); err == nil {
		t.Fatal("expected an error for an unparseable duration")
	}
}
