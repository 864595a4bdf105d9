package schedule

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // IANA zones available without system tzdata
)

// ScheduleType selects daily or weekly firing
type ScheduleType string

const (
	ScheduleDaily  ScheduleType = "daily"
	ScheduleWeekly ScheduleType = "weekly"
)

// TimeOfDay is a local wall-clock time with minute precision
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (24-hour)
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return TimeOfDay{}, &InvalidScheduleError{Field: "schedule_time", Reason: fmt.Sprintf("%q is not HH:MM", s)}
	}
	hour, errH := strconv.Atoi(h)
	minute, errM := strconv.Atoi(m)
	if errH != nil || errM != nil || len(m) != 2 {
		return TimeOfDay{}, &InvalidScheduleError{Field: "schedule_time", Reason: fmt.Sprintf("%q is not HH:MM", s)}
	}
	t := TimeOfDay{Hour: hour, Minute: minute}
	if err := t.Validate(); err != nil {
		return TimeOfDay{}, err
	}
	return t, nil
}

// Validate checks hour and minute ranges
func (t TimeOfDay) Validate() error {
	if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 {
		return &InvalidScheduleError{Field: "schedule_time", Reason: fmt.Sprintf("%02d:%02d is out of range", t.Hour, t.Minute)}
	}
	return nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Weekdays is a set of weekdays, serialized as lowercase names
type Weekdays []time.Weekday

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// ParseWeekday accepts full or abbreviated English names, or 0-6 (Sunday = 0)
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if d, ok := weekdayNames[s]; ok {
		return d, nil
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 && n <= 6 {
		return time.Weekday(n), nil
	}
	return 0, &InvalidScheduleError{Field: "schedule_days", Reason: fmt.Sprintf("unknown weekday %q", s)}
}

// ParseWeekdays parses a list of weekday names
func ParseWeekdays(names []string) (Weekdays, error) {
	days := make(Weekdays, 0, len(names))
	for _, n := range names {
		d, err := ParseWeekday(n)
		if err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return days.Normalize(), nil
}

// Contains reports whether d is in the set
func (w Weekdays) Contains(d time.Weekday) bool {
	for _, x := range w {
		if x == d {
			return true
		}
	}
	return false
}

// Normalize returns the set sorted Sunday-first without duplicates
func (w Weekdays) Normalize() Weekdays {
	seen := make(map[time.Weekday]bool, len(w))
	out := make(Weekdays, 0, len(w))
	for _, d := range w {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Names returns the lowercase weekday names
func (w Weekdays) Names() []string {
	names := make([]string, len(w))
	for i, d := range w {
		names[i] = strings.ToLower(d.String())
	}
	return names
}

func (w Weekdays) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.Names())
}

func (w *Weekdays) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return &InvalidScheduleError{Field: "schedule_days", Reason: "must be a list of weekdays"}
	}
	days := make(Weekdays, 0, len(raw))
	for _, r := range raw {
		var name string
		if err := json.Unmarshal(r, &name); err != nil {
			var n int
			if err := json.Unmarshal(r, &n); err != nil {
				return &InvalidScheduleError{Field: "schedule_days", Reason: fmt.Sprintf("invalid weekday %s", r)}
			}
			name = strconv.Itoa(n)
		}
		d, err := ParseWeekday(name)
		if err != nil {
			return err
		}
		days = append(days, d)
	}
	*w = days
	return nil
}

// Spec is the when-to-fire part of a job
type Spec struct {
	Type     ScheduleType `json:"schedule_type"`
	Time     TimeOfDay    `json:"schedule_time"`
	Days     Weekdays     `json:"schedule_days,omitempty"`
	Timezone string       `json:"timezone"`
}

// Validate checks the schedule without computing a firing time
func (s Spec) Validate() error {
	_, _, err := checkSchedule(s.Type, s.Time, s.Days, s.Timezone)
	return err
}

// Next returns the first firing instant strictly after now
func (s Spec) Next(now time.Time) (time.Time, error) {
	return NextRun(s.Type, s.Time, s.Days, s.Timezone, now)
}

// Normalized returns a copy with days deduplicated and sorted, and dropped for daily schedules
func (s Spec) Normalized() Spec {
	if s.Type == ScheduleDaily {
		s.Days = nil
	} else {
		s.Days = s.Days.Normalize()
	}
	return s
}

// Describe renders the schedule for humans, e.g. "weekly mon,thu at 10:00 (UTC)"
func (s Spec) Describe() string {
	if s.Type == ScheduleWeekly {
		short := make([]string, len(s.Days))
		for i, d := range s.Days {
			short[i] = strings.ToLower(d.String()[:3])
		}
		return fmt.Sprintf("weekly %s at %s (%s)", strings.Join(short, ","), s.Time, s.Timezone)
	}
	return fmt.Sprintf("daily at %s (%s)", s.Time, s.Timezone)
}
