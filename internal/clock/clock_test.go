package clock

import (
	"testing"
	"time"
)

func TestNewDefaultsToUTC(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Location() != time.UTC {
		t.Errorf("expected UTC, got %v", c.Location())
	}
}

func TestNewInvalidZone(t *testing.T) {
	if _, err := New("Not/AZone"); err == nil {
		t.Fatal("expected error for invalid IANA zone")
	}
}

func TestDayKey(t *testing.T) {
	loc, _ := time.LoadLocation("America/Lima")
	c := Fixed{At: time.Date(2026, 7, 30, 23, 30, 0, 0, time.UTC), Loc: loc}

	got := DayKey(c, c.Now())
	want := "20260730"
	if got != want {
		t.Errorf("DayKey() = %q, want %q", got, want)
	}
}
