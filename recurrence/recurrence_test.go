package recurrence_test

import (
	"testing"
	"time"

	"github.com/quorumhq/steward/recurrence"
)

func TestParse(t *testing.T) {
	valid := []string{"* * * * *", "*/5 * * * *", "0 9 * * MON-FRI", "@every 30s", "@hourly"}
	for _, expr := range valid {
		if _, err := recurrence.Parse(expr); err != nil {
			t.Errorf("Parse(%q) = %v, want nil", expr, err)
		}
	}

	invalid := []string{"", "not a cron", "99 * * * *", "* * * *"}
	for _, expr := range invalid {
		if _, err := recurrence.Parse(expr); err == nil {
			t.Errorf("Parse(%q) = nil, want error", expr)
		}
	}
}

func TestNext(t *testing.T) {
	after := time.Date(2026, 3, 10, 14, 30, 30, 0, time.UTC)

	next, err := recurrence.Next("*/5 * * * *", "", after)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	want := time.Date(2026, 3, 10, 14, 35, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}
}

func TestNext_TimeZone(t *testing.T) {
	// 9am daily in New York: 14:00 UTC is 10:00 EDT on 2026-03-10, so
	// today's run has passed and the next is 9am the following day.
	after := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	next, err := recurrence.Next("0 9 * * *", "America/New_York", after)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}

	loc, _ := time.LoadLocation("America/New_York")
	want := time.Date(2026, 3, 11, 9, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}
}

func TestNext_BadZone(t *testing.T) {
	_, err := recurrence.Next("* * * * *", "Not/AZone", time.Now())
	if err == nil {
		t.Error("expected error for unknown time zone")
	}
}

func TestNextInWindow_StartClamp(t *testing.T) {
	after := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	start := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	next, err := recurrence.NextInWindow("0 12 * * *", "", after, &start, nil)
	if err != nil {
		t.Fatalf("NextInWindow: %v", err)
	}
	if next == nil {
		t.Fatal("expected next occurrence, got nil")
	}
	want := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestNextInWindow_PastEnd(t *testing.T) {
	after := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	// Daily at noon: next run is tomorrow, past the window end.
	next, err := recurrence.NextInWindow("0 12 * * *", "", after, nil, &end)
	if err != nil {
		t.Fatalf("NextInWindow: %v", err)
	}
	if next != nil {
		t.Errorf("next = %v, want nil (window expired)", next)
	}
}

func TestNextInWindow_NoWindow(t *testing.T) {
	after := time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC)

	next, err := recurrence.NextInWindow("0 12 * * *", "", after, nil, nil)
	if err != nil {
		t.Fatalf("NextInWindow: %v", err)
	}
	if next == nil {
		t.Fatal("expected next occurrence, got nil")
	}
	want := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}
