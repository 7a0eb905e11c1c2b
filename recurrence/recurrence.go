// Package recurrence computes next-run times for recurring jobs from cron
// expressions. It is purely computational: the job orchestrator owns the
// timers, so there is no tick loop here.
package recurrence

import (
	"fmt"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Parse validates a cron expression.
func Parse(expr string) (cronlib.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("recurrence: parse %q: %w", expr, err)
	}
	return sched, nil
}

// Next returns the first occurrence of expr strictly after the given time,
// evaluated in the named time zone. An empty zone means UTC.
func Next(expr, timeZoneID string, after time.Time) (time.Time, error) {
	sched, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}

	loc := time.UTC
	if timeZoneID != "" {
		loc, err = time.LoadLocation(timeZoneID)
		if err != nil {
			return time.Time{}, fmt.Errorf("recurrence: load zone %q: %w", timeZoneID, err)
		}
	}

	return sched.Next(after.In(loc)), nil
}

// NextInWindow returns the first occurrence of expr after the given time,
// clamped to an optional [start, end] window. It returns nil when the next
// occurrence falls past end — the recurrence has run its course.
func NextInWindow(expr, timeZoneID string, after time.Time, start, end *time.Time) (*time.Time, error) {
	from := after
	if start != nil && start.After(from) {
		from = *start
	}

	next, err := Next(expr, timeZoneID, from)
	if err != nil {
		return nil, err
	}

	if end != nil && next.After(*end) {
		return nil, nil
	}

	next = next.UTC()
	return &next, nil
}
