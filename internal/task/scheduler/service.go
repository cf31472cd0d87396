package scheduler

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/robfig/cron/v3"

	"l9alerts/internal/eventbus"
	"l9alerts/internal/task/engine"
	logx "l9alerts/pkg/logx"
)

const (
	// Interval jobs start up to this much later than one period after
	// registration.
	maxFirstDelay = 30 * time.Second

	enqueueWarnGap = 5 * time.Second
)

func New(cfg Config, eng *engine.Service, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		log:    log,
		loc:    loc,
		bus:    bus,
		engine: eng,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		warned: map[string]time.Time{},
	}
}

func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

// SetLocation moves every job to loc. Next triggers are recomputed from now.
func (s *Service) SetLocation(loc *time.Location) {
	if loc == nil {
		loc = time.Local
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loc == loc {
		return
	}
	s.loc = loc
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	s.armLocked()
	s.log.Info("trigger location changed", logx.String("tz", loc.String()), logx.Int("schedules", len(s.defs)))
}

// Start arms every registered job.
func (s *Service) Start(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.armLocked()
	s.log.Info("trigger service started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop halts triggering and waits for running cron callbacks until ctx is
// done. Jobs stay registered for a later Start.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	for i := range s.defs {
		s.defs[i].id = 0
	}
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
		s.log.Info("trigger service stopped")
	case <-ctx.Done():
		s.log.Warn("trigger service stop timed out", logx.Err(ctx.Err()))
	}
}

func (s *Service) armLocked() {
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for i := range s.defs {
		s.scheduleLocked(&s.defs[i])
	}
	s.c.Start()
}

func (s *Service) scheduleLocked(d *entry) {
	def := *d
	sched := d.sched
	if every, ok := sched.(cron.ConstantDelaySchedule); ok {
		sched, _ = offsetInterval(every, time.Now().In(s.loc))
	}
	d.id = s.c.Schedule(sched, cron.FuncJob(func() { s.fire(def) }))
}

// fire only enqueues; the engine runs the job.
func (s *Service) fire(d entry) {
	err := s.enqueue(d)
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrOverlapSkip):
		s.log.Debug("trigger skipped", logx.String("job", d.job.Name))
	case s.shouldWarn(d.job.Name):
		s.log.Warn("trigger not enqueued", logx.String("job", d.job.Name), logx.Err(err))
	}
}

func (s *Service) enqueue(d entry) error {
	if s.engine == nil {
		return engine.ErrStopped
	}
	return s.engine.Enqueue(engine.Task{
		Name:    d.job.Name,
		Timeout: d.job.Timeout,
		Run:     d.job.Run,
		Opt:     d.job.Opt,
		State:   d.state,
	})
}

func (s *Service) shouldWarn(name string) bool {
	now := time.Now()
	s.warnMu.Lock()
	defer s.warnMu.Unlock()
	if last, ok := s.warned[name]; ok && now.Sub(last) < enqueueWarnGap {
		return false
	}
	s.warned[name] = now
	return true
}

func (s *Service) publish(topic string, data any) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: topic, Data: data})
	}
}

// offsetFirst delays only the first trigger of an interval schedule.
type offsetFirst struct {
	cron.ConstantDelaySchedule
	first time.Time
}

func (o offsetFirst) Next(t time.Time) time.Time {
	if t.Before(o.first) {
		return o.first
	}
	return o.ConstantDelaySchedule.Next(t)
}

// offsetInterval shifts the first run by a random amount below
// min(every, maxFirstDelay) so restarted processes do not line up.
func offsetInterval(every cron.ConstantDelaySchedule, now time.Time) (cron.Schedule, time.Duration) {
	limit := min(every.Delay, maxFirstDelay)
	if limit <= 0 {
		return every, 0
	}
	off := rand.N(limit)
	return offsetFirst{ConstantDelaySchedule: every, first: now.Add(every.Delay + off)}, off
}
