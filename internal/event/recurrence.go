package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Recurrence is the day pattern an event repeats on: one named weekday or
// every day.
type Recurrence int

const (
	Unknown Recurrence = iota
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
	Everyday
)

var recurrenceNames = [...]string{
	Unknown:   "",
	Monday:    "Monday",
	Tuesday:   "Tuesday",
	Wednesday: "Wednesday",
	Thursday:  "Thursday",
	Friday:    "Friday",
	Saturday:  "Saturday",
	Sunday:    "Sunday",
	Everyday:  "Everyday",
}

// Weekdays lists the named weekdays in Monday-first order.
var Weekdays = []Recurrence{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

func (r Recurrence) String() string {
	if r < Unknown || r > Everyday {
		return fmt.Sprintf("Recurrence(%d)", int(r))
	}
	return recurrenceNames[r]
}

// Valid reports whether r is one of the eight known patterns.
func (r Recurrence) Valid() bool { return r >= Monday && r <= Everyday }

// IsWeekday reports whether r names a concrete day.
func (r Recurrence) IsWeekday() bool { return r >= Monday && r <= Sunday }

// Weekday converts a named day to time.Weekday. ok is false for Everyday.
func (r Recurrence) Weekday() (wd time.Weekday, ok bool) {
	if !r.IsWeekday() {
		return 0, false
	}
	// Monday=1..Saturday=6 line up with time.Weekday; Sunday wraps to 0.
	return time.Weekday(int(r) % 7), true
}

// Prev returns the day before r. Everyday has no previous day and is returned
// unchanged.
func (r Recurrence) Prev() Recurrence {
	if !r.IsWeekday() {
		return r
	}
	if r == Monday {
		return Sunday
	}
	return r - 1
}

// CronDOW renders r as a cron day-of-week field.
func (r Recurrence) CronDOW() string {
	wd, ok := r.Weekday()
	if !ok {
		return "*"
	}
	return fmt.Sprintf("%d", int(wd))
}

// FromWeekday maps a time.Weekday to its named recurrence.
func FromWeekday(wd time.Weekday) Recurrence {
	if wd == time.Sunday {
		return Sunday
	}
	return Recurrence(int(wd))
}

// ParseRecurrence accepts full day names, three-letter abbreviations and
// "everyday"/"daily"/"*", case-insensitively.
func ParseRecurrence(s string) (Recurrence, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	switch key {
	case "everyday", "daily", "*":
		return Everyday, nil
	case "":
		return Unknown, fmt.Errorf("empty recurrence")
	}
	for _, r := range Weekdays {
		name := strings.ToLower(r.String())
		if key == name || (len(key) == 3 && strings.HasPrefix(name, key)) {
			return r, nil
		}
	}
	return Unknown, fmt.Errorf("unknown recurrence %q", s)
}

func (r Recurrence) MarshalJSON() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid recurrence %d", int(r))
	}
	return json.Marshal(r.String())
}

func (r *Recurrence) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("recurrence must be a string: %w", err)
	}
	v, err := ParseRecurrence(s)
	if err != nil {
		return err
	}
	*r = v
	return nil
}
