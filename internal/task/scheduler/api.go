package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"l9alerts/internal/eventbus"
	"l9alerts/internal/task/engine"
	logx "l9alerts/pkg/logx"
)

// ReplaceGroup swaps every job of group for jobs as one step. All specs are
// parsed first; on any error the group is left untouched. Jobs fire only
// after this returns, in the order cron computes.
func (s *Service) ReplaceGroup(group string, jobs []Job) error {
	group = strings.TrimSpace(group)
	if group == "" {
		return errors.New("group required")
	}
	defs := make([]entry, 0, len(jobs))
	seen := make(map[string]struct{}, len(jobs))
	for _, j := range jobs {
		j.Name = strings.TrimSpace(j.Name)
		if j.Name == "" {
			return errors.New("job name required")
		}
		if _, dup := seen[j.Name]; dup {
			return fmt.Errorf("duplicate job name %q", j.Name)
		}
		seen[j.Name] = struct{}{}
		if j.Run == nil {
			return fmt.Errorf("job %q: Run is nil", j.Name)
		}
		sched, err := s.parser.Parse(j.Spec)
		if err != nil {
			return fmt.Errorf("job %q: invalid spec %q: %w", j.Name, j.Spec, err)
		}
		defs = append(defs, entry{group: group, job: j, sched: sched, state: &engine.RunState{}})
	}

	s.mu.Lock()
	removed := s.removeGroupLocked(group)
	for _, d := range defs {
		s.defs = append(s.defs, d)
		if s.c != nil {
			s.scheduleLocked(&s.defs[len(s.defs)-1])
		}
	}
	running := s.c != nil
	s.mu.Unlock()

	s.log.Debug("group replaced",
		logx.String("group", group),
		logx.Int("removed", removed),
		logx.Int("added", len(defs)),
		logx.Bool("running", running),
	)
	s.publish(eventbus.ScheduleReplaced, ScheduleReplacedEvent{Group: group, Removed: removed, Added: len(defs)})
	return nil
}

// ScheduleReplacedEvent is the payload of schedule.replaced.
type ScheduleReplacedEvent struct {
	Group   string `json:"group"`
	Removed int    `json:"removed"`
	Added   int    `json:"added"`
}

// AddInterval registers a single repeating job under group. The first run
// is spread by up to 30s so restarts do not align maintenance work.
func (s *Service) AddInterval(group, name string, every, timeout time.Duration, run func(ctx context.Context) error) error {
	if every <= 0 {
		return errors.New("interval must be > 0")
	}
	return s.ReplaceGroup(group, []Job{{
		Name:    name,
		Spec:    "@every " + every.String(),
		Timeout: timeout,
		Opt:     TaskOptions{Overlap: OverlapSkipIfRunning},
		Run:     run,
	}})
}

// ErrNoJob is returned by FireNow for an unknown group or name.
var ErrNoJob = errors.New("scheduler: no such job")

// FireNow enqueues a registered job outside its schedule, exactly as its
// trigger would, and returns the enqueue result.
func (s *Service) FireNow(group, name string) error {
	s.mu.Lock()
	var (
		d     entry
		found bool
	)
	for _, e := range s.defs {
		if e.group == group && e.job.Name == name {
			d, found = e, true
			break
		}
	}
	s.mu.Unlock()
	if !found {
		return fmt.Errorf("%w: %s/%s", ErrNoJob, group, name)
	}
	return s.enqueue(d)
}

// RemoveGroup drops every job of group and reports how many were removed.
func (s *Service) RemoveGroup(group string) int {
	s.mu.Lock()
	n := s.removeGroupLocked(strings.TrimSpace(group))
	s.mu.Unlock()
	if n > 0 {
		s.log.Debug("group removed", logx.String("group", group), logx.Int("removed", n))
	}
	return n
}

// Count reports how many jobs group holds.
func (s *Service) Count(group string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.defs {
		if d.group == group {
			n++
		}
	}
	return n
}

// Entries lists group's jobs ordered by next trigger time. An empty group
// lists everything. Next is computed from now when the service is stopped.
func (s *Service) Entries(group string) []ScheduleInfo {
	s.mu.Lock()
	c, loc := s.c, s.loc
	out := make([]ScheduleInfo, 0, len(s.defs))
	now := time.Now().In(loc)
	for _, d := range s.defs {
		if group != "" && d.group != group {
			continue
		}
		it := ScheduleInfo{Group: d.group, Name: d.job.Name, Spec: d.job.Spec}
		if c != nil && d.id != 0 {
			e := c.Entry(d.id)
			it.Next, it.Prev = e.Next, e.Prev
		}
		if it.Next.IsZero() {
			it.Next = d.sched.Next(now)
		}
		out = append(out, it)
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Next.Before(out[j].Next) })
	return out
}

func (s *Service) removeGroupLocked(group string) int {
	n := 0
	removed := 0
	for _, d := range s.defs {
		if d.group == group {
			if s.c != nil && d.id != 0 {
				s.c.Remove(d.id)
			}
			removed++
			continue
		}
		s.defs[n] = d
		n++
	}
	clear(s.defs[n:])
	s.defs = s.defs[:n]
	return removed
}
