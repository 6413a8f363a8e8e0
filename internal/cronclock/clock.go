// Package cronclock implements the daemon's Clock & Cron Evaluator: it
// turns a cron expression plus an IANA time zone into a sequence of future
// UTC firing instants.
package cronclock

import (
	"fmt"
	"time"

	"github.com/Datahenge/btu-scheduler/internal/domain"
	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// horizonYears bounds the search for unsatisfiable expressions (e.g. a
// day-of-month that never occurs) so NextRuntimes never loops forever.
const horizonYears = 5

// NextRuntimes returns the next n UTC instants, strictly after from, at
// which cronExpr fires when read in the named IANA zone's local wall
// clock. Evaluation happens in local time first and is converted to UTC
// only on return: a local instant skipped by a spring-forward transition
// never appears in the result, and a local instant doubled by a fall-back
// transition appears exactly once, at its first (pre-transition) UTC
// occurrence — both properties fall out of robfig/cron's Next, which
// advances by absolute duration and tests the resulting wall clock.
func NextRuntimes(cronExpr, zone string, from time.Time, n int) ([]time.Time, error) {
	if n <= 0 {
		return nil, nil
	}

	sched, err := parser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", domain.ErrInvalidCronExpr, cronExpr, err)
	}

	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", domain.ErrUnknownZone, zone, err)
	}

	cursor := from.In(loc)
	horizon := cursor.AddDate(horizonYears, 0, 0)

	results := make([]time.Time, 0, n)
	for len(results) < n {
		next := sched.Next(cursor)
		if next.IsZero() || next.After(horizon) {
			return nil, fmt.Errorf("%w: %q in %s after %s", domain.ErrNoFutureFiring, cronExpr, zone, from)
		}
		results = append(results, next.UTC())
		cursor = next
	}
	return results, nil
}

// Validate reports whether cronExpr parses and zone resolves, without
// computing any firing instants — used to validate schedule rows as they
// are read back from the store.
func Validate(cronExpr, zone string) error {
	if _, err := parser.Parse(cronExpr); err != nil {
		return fmt.Errorf("%w: %q: %v", domain.ErrInvalidCronExpr, cronExpr, err)
	}
	if _, err := time.LoadLocation(zone); err != nil {
		return fmt.Errorf("%w: %q: %v", domain.ErrUnknownZone, zone, err)
	}
	return nil
}
