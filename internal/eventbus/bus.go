// Package eventbus carries lifecycle signals between components: reminders
// firing, notifications leaving, tasks finishing. Nothing here persists.
package eventbus

import (
	"sync"
	"time"
)

const (
	ReminderFired     = "reminder.fired"
	ReminderSkipped   = "reminder.skipped"
	ScheduleReplaced  = "schedule.replaced"
	NotifierQueued    = "notifier.queued"
	NotifierSent      = "notifier.sent"
	NotifierFailed    = "notifier.failed"
	NotifierDropped   = "notifier.dropped"
	NotifierDeduped   = "notifier.deduped"
	TaskStarted       = "task.started"
	TaskFinished      = "task.finished"
	TaskFailed        = "task.failed"
	TaskDropped       = "task.dropped"
	TaskSkipped       = "task.skipped"
	ConfigReloaded    = "config.reloaded"
	ConfigReloadError = "config.reload_error"
)

const defaultBuffer = 8

type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus is fire-and-forget: Publish never waits, and an event that does not
// fit a subscriber's buffer is lost for that subscriber only.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus { return &fanout{} }

type fanout struct {
	mu   sync.RWMutex
	subs []chan Event
}

func (f *fanout) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	f.mu.RLock()
	for _, ch := range f.subs {
		select {
		case ch <- e:
		default:
		}
	}
	f.mu.RUnlock()
}

// Subscribe registers a listener. unsubscribe closes ch and may be called
// more than once.
func (f *fanout) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan Event, buffer)
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()
	return ch, func() { f.drop(ch) }
}

func (f *fanout) drop(ch chan Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.subs {
		if c == ch {
			f.subs = append(f.subs[:i:i], f.subs[i+1:]...)
			close(ch)
			return
		}
	}
}
