package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"l9alerts/internal/eventbus"
	logx "l9alerts/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) (*Service, <-chan eventbus.Event) {
	t.Helper()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(32)
	cfg.Enabled = true
	s := New(cfg, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
		unsub()
	})
	return s, events
}

func waitTopic(t *testing.T, ch <-chan eventbus.Event, topic string) Record {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == topic {
				return e.Data.(Record)
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", topic)
		}
	}
}

func noop(context.Context) error { return nil }

func TestEnqueueRunsTask(t *testing.T) {
	t.Parallel()

	s, events := startEngine(t, Config{Workers: 1})
	var ran atomic.Bool
	if err := s.Enqueue(Task{Name: "reminder:0:start", Run: func(context.Context) error {
		ran.Store(true)
		return nil
	}}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	rec := waitTopic(t, events, eventbus.TaskFinished)
	if !ran.Load() || rec.Attempts != 1 || rec.Name != "reminder:0:start" {
		t.Fatalf("unexpected finish %+v ran=%v", rec, ran.Load())
	}
	if runs := s.Stats().RecentRuns; len(runs) != 1 || runs[0].ID != rec.ID {
		t.Fatalf("history = %+v", runs)
	}
}

type rejected struct{}

func (rejected) Error() string   { return "channel gone" }
func (rejected) Permanent() bool { return true }

func TestRetryStopsOnPermanentError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		terminal error
		wantErr  string
	}{
		{name: "final wrapper", terminal: Final(errors.New("bad request")), wantErr: "bad request"},
		{name: "permanent type", terminal: rejected{}, wantErr: "channel gone"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s, events := startEngine(t, Config{Workers: 1, RetryMax: 5})
			var calls atomic.Int32
			err := s.Enqueue(Task{
				Name: "flaky",
				Opt:  TaskOptions{RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond},
				Run: func(context.Context) error {
					if calls.Add(1) < 2 {
						return errors.New("timeout")
					}
					return tc.terminal
				},
			})
			if err != nil {
				t.Fatalf("enqueue: %v", err)
			}
			rec := waitTopic(t, events, eventbus.TaskFailed)
			if rec.Attempts != 2 || rec.Error != tc.wantErr {
				t.Fatalf("want 2 attempts ending in %q, got %+v", tc.wantErr, rec)
			}
		})
	}
}

func TestRetriesExhausted(t *testing.T) {
	t.Parallel()

	s, events := startEngine(t, Config{Workers: 1, RetryMax: 2})
	_ = s.Enqueue(Task{
		Name: "down",
		Opt:  TaskOptions{RetryBase: time.Millisecond, RetryMaxDelay: time.Millisecond},
		Run:  func(context.Context) error { return errors.New("unreachable") },
	})
	if rec := waitTopic(t, events, eventbus.TaskFailed); rec.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", rec.Attempts)
	}
}

func TestPanicBecomesFailure(t *testing.T) {
	t.Parallel()

	s, events := startEngine(t, Config{Workers: 1})
	_ = s.Enqueue(Task{Name: "boom", Opt: TaskOptions{RetryMax: -1}, Run: func(context.Context) error { panic("bad") }})
	if rec := waitTopic(t, events, eventbus.TaskFailed); rec.Error != "panic: bad" {
		t.Fatalf("unexpected error %q", rec.Error)
	}

	// The worker survives.
	_ = s.Enqueue(Task{Name: "after", Run: noop})
	waitTopic(t, events, eventbus.TaskFinished)
}

func TestOverlapSkip(t *testing.T) {
	t.Parallel()

	s, events := startEngine(t, Config{Workers: 1})
	release := make(chan struct{})

	task := Task{Name: "slow", Opt: TaskOptions{Overlap: OverlapSkipIfRunning}, Run: func(ctx context.Context) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}}
	if err := s.Enqueue(task); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := s.Enqueue(task); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("second enqueue: want ErrOverlapSkip, got %v", err)
	}
	close(release)
	waitTopic(t, events, eventbus.TaskFinished)
	if err := s.Enqueue(task); err != nil {
		t.Fatalf("enqueue after finish: %v", err)
	}
}

func TestEnqueueStates(t *testing.T) {
	t.Parallel()

	off := New(Config{}, logx.Nop(), nil)
	if err := off.Enqueue(Task{Name: "x", Run: noop}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled: got %v", err)
	}

	idle := New(Config{Enabled: true}, logx.Nop(), nil)
	if err := idle.Enqueue(Task{Name: "x", Run: noop}); !errors.Is(err, ErrStopped) {
		t.Fatalf("not started: got %v", err)
	}
	if err := idle.Enqueue(Task{Name: " ", Run: noop}); err == nil {
		t.Fatalf("blank name should be rejected")
	}
	if err := idle.Enqueue(Task{Name: "x"}); err == nil {
		t.Fatalf("nil Run should be rejected")
	}
}

func TestQueueFull(t *testing.T) {
	t.Parallel()

	s, _ := startEngine(t, Config{Workers: 1, QueueSize: 1})
	block := make(chan struct{})
	defer close(block)
	started := make(chan struct{}, 1)

	run := func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	}
	_ = s.Enqueue(Task{Name: "a", Run: run})
	<-started
	_ = s.Enqueue(Task{Name: "b", Run: run})
	if err := s.Enqueue(Task{Name: "c", Run: run}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("want ErrQueueFull, got %v", err)
	}
	if st := s.Stats(); st.DropFull != 1 || !st.Running || st.Queued != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestEnqueueWithRoomNeverDrops(t *testing.T) {
	t.Parallel()

	const n = 200
	s, _ := startEngine(t, Config{Workers: 1, QueueSize: 1000})
	for i := range n {
		if err := s.Enqueue(Task{Name: fmt.Sprintf("reminder:%d:start", i), Run: noop}); err != nil {
			t.Fatalf("enqueue %d into a queue with room: %v", i, err)
		}
	}
	if st := s.Stats(); st.DropFull != 0 {
		t.Fatalf("DropFull = %d, want 0", st.DropFull)
	}
}

func TestApplyRestartsOnResize(t *testing.T) {
	t.Parallel()

	s, events := startEngine(t, Config{Workers: 1})
	s.Apply(context.Background(), Config{Enabled: true, Workers: 3})
	if st := s.Stats(); !st.Running || st.Workers != 3 {
		t.Fatalf("after resize: %+v", st)
	}
	_ = s.Enqueue(Task{Name: "after.resize", Run: noop})
	waitTopic(t, events, eventbus.TaskFinished)

	s.Apply(context.Background(), Config{Enabled: false})
	if err := s.Enqueue(Task{Name: "x", Run: noop}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled by apply: got %v", err)
	}
}

func TestRetryDelay(t *testing.T) {
	t.Parallel()

	opt := TaskOptions{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second, RetryJitter: 0.2}
	tests := []struct {
		name     string
		failed   int
		err      error
		min, max time.Duration
	}{
		{"first", 1, errors.New("x"), 80 * time.Millisecond, 120 * time.Millisecond},
		{"second", 2, errors.New("x"), 160 * time.Millisecond, 240 * time.Millisecond},
		{"capped", 10, errors.New("x"), 800 * time.Millisecond, time.Second},
		{"hint capped", 1, Backoff(errors.New("429"), time.Hour), 800 * time.Millisecond, time.Second},
		{"hint", 5, Backoff(errors.New("429"), 300*time.Millisecond), 240 * time.Millisecond, 360 * time.Millisecond},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if d := retryDelay(opt, tc.failed, tc.err); d < tc.min || d > tc.max {
				t.Fatalf("%s outside [%s, %s]", d, tc.min, tc.max)
			}
		})
	}
}
