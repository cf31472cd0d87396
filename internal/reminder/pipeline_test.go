package reminder

import (
	"context"
	"testing"
	"time"

	"l9alerts/internal/event"
	"l9alerts/internal/eventbus"
	"l9alerts/internal/task/engine"
	"l9alerts/internal/task/scheduler"
	logx "l9alerts/pkg/logx"
)

// Every trigger of an armed job must reach the dispatcher through the real
// trigger service and task engine.
func TestFiresReachDispatcher(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	finished, unsub := bus.Subscribe(64)
	defer unsub()

	eng := engine.New(engine.Config{Enabled: true, Workers: 2, QueueSize: 64}, logx.Nop(), bus)
	triggers := scheduler.New(scheduler.Config{Location: gmt8}, eng, logx.Nop(), nil)
	eng.Start(context.Background())
	triggers.Start(context.Background())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		triggers.Stop(ctx)
		eng.Stop(ctx)
	}()

	rec := &recorder{}
	s := NewScheduler(triggers, rec, logx.Nop(), nil, Options{})
	if err := s.Reschedule([]event.Definition{{Name: "Guild Boss", Recurrence: event.Saturday, Hour: 20}}); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	jobs := s.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("want 2 armed jobs, got %d", len(jobs))
	}

	const fires = 50
	for i := range fires {
		job := jobs[i%2]
		if err := triggers.FireNow(Group, job.Name()); err != nil {
			t.Fatalf("fire %d (%s): %v", i, job.Label, err)
		}
		waitFinished(t, finished, job.Name())
	}

	rec.mu.Lock()
	calls := append([]string(nil), rec.calls...)
	rec.mu.Unlock()
	if len(calls) != fires {
		t.Fatalf("dispatcher saw %d of %d fires", len(calls), fires)
	}
	for i, j := range jobs {
		if want := j.Event.Name + "|" + j.Label; calls[i] != want {
			t.Fatalf("call %d = %q, want %q", i, calls[i], want)
		}
	}
	if st := eng.Stats(); st.DropFull != 0 || st.DropStale != 0 {
		t.Fatalf("engine dropped work: %+v", st)
	}
	if s.Armed() != 2 {
		t.Fatalf("jobs should stay armed, got %d", s.Armed())
	}
}

func waitFinished(t *testing.T, ch <-chan eventbus.Event, name string) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case e := <-ch:
			if r, ok := e.Data.(engine.Record); ok && r.Name == name && (e.Type == eventbus.TaskFinished || e.Type == eventbus.TaskFailed) {
				return
			}
		case <-deadline:
			t.Fatalf("%s never finished", name)
		}
	}
}
