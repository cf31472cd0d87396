// Package reminder turns event definitions into armed reminder jobs and
// owns the registry that edits them.
package reminder

import (
	"fmt"
	"time"

	"l9alerts/internal/clock"
	"l9alerts/internal/event"
)

// DefaultLead is the advance warning in minutes.
const DefaultLead = 15

// LabelStart marks the at-time reminder.
const LabelStart = "Start"

// LeadLabel names the advance reminder, e.g. "15 min before".
func LeadLabel(lead int) string { return fmt.Sprintf("%d min before", lead) }

type Kind int

const (
	AtTime Kind = iota
	Before
)

// Trigger is one reminder job derived from an event. Jobs carry no identity
// across reschedules.
type Trigger struct {
	Index      int
	Event      event.Definition
	Kind       Kind
	Offset     int // minutes before the event, 0 for AtTime
	Label      string
	Recurrence event.Recurrence
	Hour       int
	Minute     int
}

// Name is unique within one plan; event names alone are not.
func (t Trigger) Name() string {
	return fmt.Sprintf("reminder:%d:%s", t.Index, t.Label)
}

// Spec is the cron expression "M H * * DOW" in the scheduler zone.
func (t Trigger) Spec() string {
	return fmt.Sprintf("%d %d * * %s", t.Minute, t.Hour, t.Recurrence.CronDOW())
}

// Next is the next instant this trigger fires, in now's location.
func (t Trigger) Next(now time.Time) time.Time {
	return clock.NextOccurrence(event.Definition{Recurrence: t.Recurrence, Hour: t.Hour, Minute: t.Minute}, now)
}

// Plan derives the lead and at-time triggers of every event, in index
// order, two per event.
func Plan(events []event.Definition, lead int) []Trigger {
	if lead <= 0 {
		lead = DefaultLead
	}
	out := make([]Trigger, 0, 2*len(events))
	for i, def := range events {
		h, m, day := clock.SubtractMinutes(def.Hour, def.Minute, def.Recurrence, lead)
		out = append(out,
			Trigger{Index: i, Event: def, Kind: Before, Offset: lead, Label: LeadLabel(lead), Recurrence: day, Hour: h, Minute: m},
			Trigger{Index: i, Event: def, Kind: AtTime, Label: LabelStart, Recurrence: def.Recurrence, Hour: def.Hour, Minute: def.Minute},
		)
	}
	return out
}
