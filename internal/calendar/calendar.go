// Package calendar expands the event list into concrete occurrences with
// RRULEs and exports it as an iCalendar feed.
package calendar

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"l9alerts/internal/clock"
	"l9alerts/internal/event"
	"l9alerts/internal/reminder"
)

// EventDuration is the nominal length written to DTEND.
const EventDuration = time.Hour

var byDay = map[time.Weekday]rrule.Weekday{
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
	time.Sunday:    rrule.SU,
}

// Rule builds the recurrence rule of def anchored at its first occurrence
// at or after from.
func Rule(def event.Definition, from time.Time) (*rrule.RRule, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	opt := rrule.ROption{
		Freq:    rrule.DAILY,
		Dtstart: clock.NextOccurrence(def, from),
	}
	if wd, ok := def.Recurrence.Weekday(); ok {
		opt.Freq = rrule.WEEKLY
		opt.Byweekday = []rrule.Weekday{byDay[wd]}
	}
	return rrule.NewRRule(opt)
}

// RRuleString is the RRULE value for def.
func RRuleString(def event.Definition) string {
	wd, ok := def.Recurrence.Weekday()
	if !ok {
		return "FREQ=DAILY"
	}
	return "FREQ=WEEKLY;BYDAY=" + strings.ToUpper(wd.String()[:2])
}

// Occurrence is one event instance with the trigger that announces it.
type Occurrence struct {
	Index int
	Event event.Definition
	Label string
	// At is the event start; Fire is when the trigger goes off.
	At   time.Time
	Fire time.Time
}

// Occurrences lists every trigger firing in [from, to), both the lead
// reminder and the start, ordered by fire time.
func Occurrences(events []event.Definition, from, to time.Time, lead int) ([]Occurrence, error) {
	if to.Before(from) {
		return nil, errors.New("calendar: range end before start")
	}
	if lead <= 0 {
		lead = reminder.DefaultLead
	}
	leadDur := time.Duration(lead) * time.Minute

	var out []Occurrence
	for i, def := range events {
		// Starts inside [from, to+lead) can have a lead trigger in range.
		r, err := Rule(def, from)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i+1, err)
		}
		for _, at := range r.Between(from, to.Add(leadDur), true) {
			if fire := at.Add(-leadDur); !fire.Before(from) && fire.Before(to) {
				out = append(out, Occurrence{Index: i, Event: def, Label: reminder.LeadLabel(lead), At: at, Fire: fire})
			}
			if at.Before(to) {
				out = append(out, Occurrence{Index: i, Event: def, Label: reminder.LabelStart, At: at, Fire: at})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Fire.Before(out[j].Fire) })
	return out, nil
}

// Export builds a calendar with one recurring VEVENT per event and a
// display alarm lead minutes before each start.
func Export(events []event.Definition, now time.Time, lead int, zoneLabel string) (*ical.Calendar, error) {
	if lead <= 0 {
		lead = reminder.DefaultLead
	}
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//l9alerts//reminders//EN")
	cal.SetName("Lord Nine events")
	cal.SetXWRCalName("Lord Nine events")

	for i, def := range events {
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("event %d: %w", i+1, err)
		}
		start := clock.NextOccurrence(def, now)
		ev := cal.AddEvent(fmt.Sprintf("l9alerts-%d-%s-%s@l9alerts", i+1, def.Recurrence, def.Clock()))
		ev.SetDtStampTime(now)
		ev.SetStartAt(start)
		ev.SetEndAt(start.Add(EventDuration))
		ev.SetSummary(def.Name)
		ev.SetDescription(fmt.Sprintf("%s at %s %s", def.Recurrence, clock.FormatClock12h(def.Hour, def.Minute), zoneLabel))
		ev.AddRrule(RRuleString(def))

		alarm := ev.AddAlarm()
		alarm.SetAction(ical.ActionDisplay)
		alarm.SetTrigger(fmt.Sprintf("-PT%dM", lead))
		alarm.SetProperty(ical.ComponentPropertyDescription, fmt.Sprintf("%s Reminder (%s)", def.Name, reminder.LeadLabel(lead)))
	}
	return cal, nil
}

// WriteICS serializes Export to w.
func WriteICS(w io.Writer, events []event.Definition, now time.Time, lead int, zoneLabel string) error {
	cal, err := Export(events, now, lead, zoneLabel)
	if err != nil {
		return err
	}
	return cal.SerializeTo(w)
}
