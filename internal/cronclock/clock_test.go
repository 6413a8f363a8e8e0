package cronclock_test

import (
	"errors"
	"testing"
	"time"

	"github.com/Datahenge/btu-scheduler/internal/cronclock"
	"github.com/Datahenge/btu-scheduler/internal/domain"
)

func mustParseUTC(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return ts
}

// TestNextRuntimes_SpringForward exercises the literal boundary scenario
// from the testable-properties section: 30 2 * * * in America/New_York,
// starting 2025-03-08T00:00:00Z, skips the non-existent 2025-03-09 02:30
// local instant and fires next at 2025-03-10T06:30:00Z (clocks are UTC-5
// before the spring-forward, UTC-4 after).
func TestNextRuntimes_SpringForward(t *testing.T) {
	from := mustParseUTC(t, "2025-03-08T00:00:00Z")

	got, err := cronclock.NextRuntimes("30 2 * * *", "America/New_York", from, 2)
	if err != nil {
		t.Fatalf("NextRuntimes: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 firings, got %d", len(got))
	}

	want := []time.Time{
		mustParseUTC(t, "2025-03-08T07:30:00Z"),
		mustParseUTC(t, "2025-03-10T06:30:00Z"),
	}
	for i, w := range want {
		if !got[i].Equal(w) {
			t.Errorf("firing[%d] = %s, want %s", i, got[i], w)
		}
	}
}

func TestNextRuntimes_InvalidCron(t *testing.T) {
	_, err := cronclock.NextRuntimes("not a cron", "UTC", time.Now(), 1)
	if !errors.Is(err, domain.ErrInvalidCronExpr) {
		t.Fatalf("expected ErrInvalidCronExpr, got %v", err)
	}
}

func TestNextRuntimes_UnknownZone(t *testing.T) {
	_, err := cronclock.NextRuntimes("* * * * *", "Nowhere/Imaginary", time.Now(), 1)
	if !errors.Is(err, domain.ErrUnknownZone) {
		t.Fatalf("expected ErrUnknownZone, got %v", err)
	}
}

func TestNextRuntimes_ZeroOrNegativeN(t *testing.T) {
	got, err := cronclock.NextRuntimes("* * * * *", "UTC", time.Now(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no results, got %d", len(got))
	}
}

func TestValidate_RoundTripsWithNextRuntimes(t *testing.T) {
	if err := cronclock.Validate("*/5 * * * *", "Europe/Berlin"); err != nil {
		t.Fatalf("expected valid expression, got %v", err)
	}
	if err := cronclock.Validate("*/5 * * * *", "Europe/Berlin"); err == nil {
		_, rerr := cronclock.NextRuntimes("*/5 * * * *", "Europe/Berlin", time.Now(), 1)
		if rerr != nil {
			t.Fatalf("Validate accepted an expression NextRuntimes rejects: %v", rerr)
		}
	}
}
