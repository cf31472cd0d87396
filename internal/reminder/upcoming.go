package reminder

import (
	"strings"
	"time"

	"l9alerts/internal/clock"
	"l9alerts/internal/event"
)

// DefaultWindow is the look-ahead of the upcoming query.
const DefaultWindow = 15 * time.Minute

// UpcomingEntry is the earliest occurrence of a boss inside the window.
type UpcomingEntry struct {
	Boss       string
	Event      event.Definition
	Occurrence time.Time
	Remaining  clock.Remaining
}

// Upcoming returns, per boss in bosses order, the earliest event whose name
// contains the boss and whose next occurrence is within [0, window] of now.
// Bosses without such an event are omitted.
func Upcoming(events []event.Definition, bosses []string, now time.Time, window time.Duration) []UpcomingEntry {
	if window <= 0 {
		window = DefaultWindow
	}
	var out []UpcomingEntry
	for _, boss := range bosses {
		var best *UpcomingEntry
		for _, def := range events {
			if !strings.Contains(def.Name, boss) {
				continue
			}
			occ := clock.NextOccurrence(def, now)
			delta := occ.Sub(now)
			if delta < 0 || delta > window {
				continue
			}
			if best == nil || occ.Before(best.Occurrence) {
				best = &UpcomingEntry{Boss: boss, Event: def, Occurrence: occ, Remaining: clock.RemainingTime(occ, now)}
			}
		}
		if best != nil {
			out = append(out, *best)
		}
	}
	return out
}
