package reminder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"l9alerts/internal/event"
	"l9alerts/internal/eventbus"
	"l9alerts/internal/task/scheduler"
	logx "l9alerts/pkg/logx"
)

// Group is the timer group holding reminder jobs.
const Group = "reminders"

// Dispatcher delivers one reminder. It runs on a task engine worker.
type Dispatcher interface {
	Notify(ctx context.Context, def event.Definition, label string) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, def event.Definition, label string) error

func (f DispatcherFunc) Notify(ctx context.Context, def event.Definition, label string) error {
	return f(ctx, def, label)
}

// Timer is the cron driver the scheduler arms jobs on.
type Timer interface {
	ReplaceGroup(group string, jobs []scheduler.Job) error
	RemoveGroup(group string) int
	Entries(group string) []scheduler.ScheduleInfo
}

type Options struct {
	// Lead is the advance warning in minutes. Default 15.
	Lead int
	// Timeout bounds one dispatch.
	Timeout time.Duration
}

// FiredEvent is the payload of reminder.fired and reminder.skipped.
type FiredEvent struct {
	Name  string    `json:"name"`
	Label string    `json:"label"`
	At    time.Time `json:"at"`
	Error string    `json:"error,omitempty"`
}

// Scheduler keeps the set of armed reminder jobs in sync with a list of
// events. Reschedule is the only writer.
type Scheduler struct {
	mu    sync.Mutex
	timer Timer
	disp  Dispatcher
	log   logx.Logger
	bus   eventbus.Bus
	opts  Options
	armed []Trigger
}

func NewScheduler(timer Timer, disp Dispatcher, log logx.Logger, bus eventbus.Bus, opts Options) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Lead <= 0 {
		opts.Lead = DefaultLead
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Scheduler{timer: timer, disp: disp, log: log.With(logx.String("comp", "reminder")), bus: bus, opts: opts}
}

// SetLead changes the advance warning for the next Reschedule.
func (s *Scheduler) SetLead(lead int) {
	if lead <= 0 {
		lead = DefaultLead
	}
	s.mu.Lock()
	s.opts.Lead = lead
	s.mu.Unlock()
}

func (s *Scheduler) Lead() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.Lead
}

// Reschedule cancels every armed job and arms two per event. Observers
// never see a mix of old and new jobs. On error the previous jobs stay.
func (s *Scheduler) Reschedule(events []event.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan := Plan(events, s.opts.Lead)
	jobs := make([]scheduler.Job, 0, len(plan))
	for _, t := range plan {
		jobs = append(jobs, scheduler.Job{
			Name:    t.Name(),
			Spec:    t.Spec(),
			Timeout: s.opts.Timeout,
			Opt:     scheduler.TaskOptions{Overlap: scheduler.OverlapSkipIfRunning, RetryMax: -1},
			Run:     func(ctx context.Context) error { return s.fire(ctx, t) },
		})
	}
	if err := s.timer.ReplaceGroup(Group, jobs); err != nil {
		return fmt.Errorf("arm reminders: %w", err)
	}
	s.armed = plan
	s.log.Info("reminders armed", logx.Int("events", len(events)), logx.Int("jobs", len(plan)), logx.Int("lead_min", s.opts.Lead))
	return nil
}

// Cancel disarms every job.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timer.RemoveGroup(Group)
	s.armed = nil
}

// Armed is 2×len(events) of the last completed Reschedule.
func (s *Scheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.armed)
}

// ArmedJob is an armed trigger with its next fire time.
type ArmedJob struct {
	Trigger
	Next time.Time
}

// Jobs lists armed jobs ordered by next fire time.
func (s *Scheduler) Jobs() []ArmedJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	byName := make(map[string]Trigger, len(s.armed))
	for _, t := range s.armed {
		byName[t.Name()] = t
	}
	out := make([]ArmedJob, 0, len(s.armed))
	for _, e := range s.timer.Entries(Group) {
		if t, ok := byName[e.Name]; ok {
			out = append(out, ArmedJob{Trigger: t, Next: e.Next})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Next.Before(out[j].Next) })
	return out
}

func (s *Scheduler) fire(ctx context.Context, t Trigger) error {
	now := time.Now()
	log := s.log.With(logx.String("event", t.Event.Name), logx.String("label", t.Label))
	err := s.disp.Notify(ctx, t.Event, t.Label)
	ev := FiredEvent{Name: t.Event.Name, Label: t.Label, At: now}
	if err != nil {
		ev.Error = err.Error()
		if errors.Is(err, ErrNotConfigured) {
			log.Warn("reminder skipped", logx.Err(err))
			s.publish(eventbus.ReminderSkipped, ev)
			return nil
		}
		log.Warn("reminder dispatch failed", logx.Err(err))
		s.publish(eventbus.ReminderSkipped, ev)
		return err
	}
	log.Info("reminder fired")
	s.publish(eventbus.ReminderFired, ev)
	return nil
}

func (s *Scheduler) publish(topic string, ev FiredEvent) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: topic, Data: ev})
	}
}
