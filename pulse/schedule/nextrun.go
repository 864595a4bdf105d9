package schedule

import (
	"fmt"
	"time"
)

// maxLookaheadDays covers a full week plus today
const maxLookaheadDays = 7

// LoadLocation resolves an IANA zone name.
// "Local" and "" are rejected: a job's zone must not depend on the host.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return nil, &InvalidScheduleError{Field: "timezone", Reason: fmt.Sprintf("%q is not an IANA zone", name)}
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, &InvalidScheduleError{Field: "timezone", Reason: fmt.Sprintf("unknown zone %q", name)}
	}
	return loc, nil
}

// NextRun returns the first UTC instant strictly after now at which a schedule fires.
//
// Local wall times that do not exist (spring-forward gap) shift forward by the
// gap length; wall times that occur twice (fall-back) resolve to the first
// occurrence.
func NextRun(scheduleType ScheduleType, at TimeOfDay, days []time.Weekday, timezone string, now time.Time) (time.Time, error) {
	matches, loc, err := checkSchedule(scheduleType, at, days, timezone)
	if err != nil {
		return time.Time{}, err
	}

	local := now.In(loc)
	y, m, d := local.Date()

	for offset := 0; offset <= maxLookaheadDays; offset++ {
		// time.Date normalizes day overflow across months and years
		date := time.Date(y, m, d+offset, 0, 0, 0, 0, time.UTC)
		if !matches(date.Weekday()) {
			continue
		}
		candidate := resolveWallTime(date.Year(), date.Month(), date.Day(), at, loc)
		if candidate.After(now) {
			return candidate.UTC(), nil
		}
	}

	// Unreachable for valid input: a matching weekday always occurs within 8 days
	return time.Time{}, &InvalidScheduleError{Field: "schedule_days", Reason: "no firing within a week"}
}

// checkSchedule validates the inputs of NextRun and returns the weekday filter
// and zone it fires in
func checkSchedule(scheduleType ScheduleType, at TimeOfDay, days []time.Weekday, timezone string) (func(time.Weekday) bool, *time.Location, error) {
	if err := at.Validate(); err != nil {
		return nil, nil, err
	}

	var matches func(time.Weekday) bool
	switch scheduleType {
	case ScheduleDaily:
		matches = func(time.Weekday) bool { return true }
	case ScheduleWeekly:
		if len(days) == 0 {
			return nil, nil, &InvalidScheduleError{Field: "schedule_days", Reason: "must not be empty for weekly schedules"}
		}
		set := Weekdays(days)
		for _, d := range set {
			if d < time.Sunday || d > time.Saturday {
				return nil, nil, &InvalidScheduleError{Field: "schedule_days", Reason: fmt.Sprintf("invalid weekday %d", d)}
			}
		}
		matches = set.Contains
	default:
		return nil, nil, &InvalidScheduleError{Field: "schedule_type", Reason: fmt.Sprintf("must be daily or weekly, got %q", scheduleType)}
	}

	loc, err := LoadLocation(timezone)
	if err != nil {
		return nil, nil, err
	}
	return matches, loc, nil
}

// resolveWallTime converts a local wall time on a date into an instant.
//
// The two offsets in effect a day before and after the wall time bracket any
// transition on that date. Each yields a candidate; a candidate is valid when it
// reads back as the requested wall time. Two valid candidates mean an ambiguous
// time (take the earlier); none means a gap (apply the pre-transition offset,
// which lands past the gap by its length).
func resolveWallTime(year int, month time.Month, day int, at TimeOfDay, loc *time.Location) time.Time {
	wall := time.Date(year, month, day, at.Hour, at.Minute, 0, 0, time.UTC)

	_, before := wall.Add(-24 * time.Hour).In(loc).Zone()
	_, after := wall.Add(24 * time.Hour).In(loc).Zone()

	var best time.Time
	for _, off := range []int{before, after} {
		c := wall.Add(-time.Duration(off) * time.Second)
		lc := c.In(loc)
		if lc.Hour() != at.Hour || lc.Minute() != at.Minute || lc.Day() != day {
			continue
		}
		if best.IsZero() || c.Before(best) {
			best = c
		}
	}
	if !best.IsZero() {
		return best
	}

	return wall.Add(-time.Duration(before) * time.Second)
}
