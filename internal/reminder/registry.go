package reminder

import (
	"context"
	"fmt"
	"sync"

	"l9alerts/internal/event"
	logx "l9alerts/pkg/logx"
)

// Persister stores the event list. It is called before an edit is
// committed.
type Persister interface {
	SaveEvents(ctx context.Context, events []event.Definition) error
}

// Rescheduler re-arms jobs from a full event list.
type Rescheduler interface {
	Reschedule(events []event.Definition) error
}

// Registry is the ordered list of event definitions. Indices are stable:
// events are edited in place and never added or removed at runtime.
type Registry struct {
	mu     sync.Mutex
	events []event.Definition
	store  Persister
	sched  Rescheduler
	log    logx.Logger
}

// NewRegistry validates events and takes a private copy. store may be nil.
func NewRegistry(events []event.Definition, store Persister, sched Rescheduler, log logx.Logger) (*Registry, error) {
	if err := event.ValidateAll(events); err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		events: append([]event.Definition(nil), events...),
		store:  store,
		sched:  sched,
		log:    log.With(logx.String("comp", "registry")),
	}, nil
}

// Arm reschedules from the current list. Used at startup and after a
// timezone or lead change.
func (r *Registry) Arm() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sched.Reschedule(r.snapshotLocked())
}

// List returns a copy in index order.
func (r *Registry) List() []event.Definition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *Registry) Get(index int) (event.Definition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index < 0 || index >= len(r.events) {
		return event.Definition{}, fmt.Errorf("%w: index %d", ErrNotFound, index)
	}
	return r.events[index], nil
}

// Edit changes the clock and optionally the weekday of one event, persists
// the list and reschedules before returning. A nil day keeps the
// recurrence. Only weekly events may change day, and only to a named
// weekday.
func (r *Registry) Edit(ctx context.Context, index, hour, minute int, day *event.Recurrence) (event.Definition, error) {
	if err := event.ValidateClock(hour, minute); err != nil {
		return event.Definition{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if index < 0 || index >= len(r.events) {
		return event.Definition{}, &ValidationError{Field: "index", Reason: fmt.Sprintf("%d out of range 1-%d", index+1, len(r.events))}
	}
	updated := r.events[index]
	updated.Hour, updated.Minute = hour, minute
	if day != nil {
		if !day.IsWeekday() {
			return event.Definition{}, &ValidationError{Field: "day", Reason: "must be one of Monday..Sunday"}
		}
		if !updated.Recurrence.IsWeekday() {
			return event.Definition{}, &ValidationError{Field: "day", Reason: fmt.Sprintf("%s runs %s; its day cannot be changed", updated.Name, updated.Recurrence)}
		}
		updated.Recurrence = *day
	}

	next := r.snapshotLocked()
	next[index] = updated
	if err := r.sched.Reschedule(next); err != nil {
		return event.Definition{}, err
	}
	if r.store != nil {
		if err := r.store.SaveEvents(ctx, next); err != nil {
			if rerr := r.sched.Reschedule(r.snapshotLocked()); rerr != nil {
				r.log.Error("restoring reminders after failed save", logx.Err(rerr))
			}
			return event.Definition{}, fmt.Errorf("persist events: %w", err)
		}
	}
	r.events = next
	r.log.Info("event edited", logx.Int("index", index), logx.String("name", updated.Name), logx.String("day", updated.Recurrence.String()), logx.String("at", updated.Clock()))
	return updated, nil
}

func (r *Registry) snapshotLocked() []event.Definition {
	return append([]event.Definition(nil), r.events...)
}
