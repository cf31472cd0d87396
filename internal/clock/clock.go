// Package clock implements the wall-clock arithmetic behind reminders:
// next occurrence of a recurring event, fixed minute offsets with day borrow,
// and remaining-time decomposition. All functions are pure.
package clock

import (
	"fmt"
	"time"

	"l9alerts/internal/event"
)

// NextOccurrence returns the next instant def applies at or after now, in
// now's location.
//
// A candidate equal to now is returned as-is; a candidate even one second
// in the past rolls to the next day (Everyday) or the next week.
func NextOccurrence(def event.Definition, now time.Time) time.Time {
	loc := now.Location()
	candidate := time.Date(now.Year(), now.Month(), now.Day(), def.Hour, def.Minute, 0, 0, loc)

	target, weekly := def.Recurrence.Weekday()
	if !weekly {
		if candidate.Before(now) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		return candidate
	}

	daysAhead := (int(target) - int(now.Weekday()) + 7) % 7
	candidate = candidate.AddDate(0, 0, daysAhead)
	if daysAhead == 0 && candidate.Before(now) {
		candidate = candidate.AddDate(0, 0, 7)
	}
	return candidate
}

// SubtractMinutes moves a trigger n minutes earlier. Borrowing past midnight
// rolls a named weekday back one day; Everyday stays Everyday.
func SubtractMinutes(hour, minute int, day event.Recurrence, n int) (int, int, event.Recurrence) {
	minute -= n
	for minute < 0 {
		minute += 60
		hour--
	}
	for hour < 0 {
		hour += 24
		day = day.Prev()
	}
	return hour, minute, day
}

// Remaining is a whole-minute countdown.
type Remaining struct {
	Days    int
	Hours   int
	Minutes int
}

func (r Remaining) String() string {
	return fmt.Sprintf("%dd %dh %dm", r.Days, r.Hours, r.Minutes)
}

// Duration converts back to a time.Duration, truncated to the minute.
func (r Remaining) Duration() time.Duration {
	return time.Duration(r.Days)*24*time.Hour + time.Duration(r.Hours)*time.Hour + time.Duration(r.Minutes)*time.Minute
}

// RemainingTime decomposes occurrence-now in whole seconds. Occurrences in
// the past clamp to zero.
func RemainingTime(occurrence, now time.Time) Remaining {
	s := int64(occurrence.Sub(now) / time.Second)
	if s < 0 {
		s = 0
	}
	return Remaining{
		Days:    int(s / 86400),
		Hours:   int((s % 86400) / 3600),
		Minutes: int((s % 3600) / 60),
	}
}

// Until is RemainingTime(NextOccurrence(def, now), now).
func Until(def event.Definition, now time.Time) Remaining {
	return RemainingTime(NextOccurrence(def, now), now)
}

// FormatClock12h renders a 24h wall-clock time as "h:mm AM|PM".
func FormatClock12h(hour, minute int) string {
	suffix := "PM"
	if hour < 12 || hour == 24 {
		suffix = "AM"
	}
	h := hour % 12
	if h == 0 {
		h = 12
	}
	return fmt.Sprintf("%d:%02d %s", h, minute, suffix)
}
