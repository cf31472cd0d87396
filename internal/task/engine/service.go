// Package engine runs reminder dispatches and maintenance jobs on a small
// supervised worker pool with per-job overlap control, bounded retries and
// stale-trigger dropping.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"l9alerts/internal/eventbus"
	rtsup "l9alerts/internal/runtime/supervisor"
	logx "l9alerts/pkg/logx"
)

const dropWarnEvery = 5 * time.Second

type Service struct {
	log logx.Logger
	bus eventbus.Bus

	mu   sync.Mutex
	cfg  Config
	pool *pool

	states sync.Map // name -> *RunState

	histMu  sync.Mutex
	history []Record

	seq       atomic.Uint64
	busy      atomic.Int32
	dropFull  atomic.Uint64
	dropStale atomic.Uint64

	fullWarn  warnGate
	staleWarn warnGate
}

// pool is one generation of workers. A non-nil drained means Stop is
// tearing it down.
type pool struct {
	queue   chan pending
	quit    chan struct{}
	sup     *rtsup.Supervisor
	drained chan struct{}
}

type pending struct {
	task    Task
	opt     TaskOptions
	timeout time.Duration
	queued  time.Time
	state   *RunState
	held    bool
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg.normalized(), log: log, bus: bus}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

func (s *Service) running() *pool {
	if s.pool == nil || s.pool.drained != nil {
		return nil
	}
	return s.pool
}

// Apply installs cfg. Resizing a running pool restarts it, which drops
// whatever the old queue still held.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	cfg = cfg.normalized()
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	live := s.running() != nil
	s.mu.Unlock()

	resized := prev.Workers != cfg.Workers || prev.QueueSize != cfg.QueueSize
	switch {
	case live && !cfg.Enabled:
		s.Stop(ctx)
	case live && resized:
		s.log.Info("task engine resizing", logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize))
		s.Stop(ctx)
		s.Start(ctx)
	case !live && cfg.Enabled:
		s.Start(ctx)
	}
}

// Start launches the workers. It is a no-op while running and waits for a
// teardown in progress.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	for s.pool != nil {
		if s.pool.drained == nil {
			s.mu.Unlock()
			return
		}
		drained := s.pool.drained
		s.mu.Unlock()
		select {
		case <-drained:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	cfg := s.cfg
	if !cfg.Enabled {
		s.mu.Unlock()
		return
	}
	p := &pool{
		queue: make(chan pending, cfg.QueueSize),
		quit:  make(chan struct{}),
		// Workers live until Stop, not until the caller's context ends.
		sup: rtsup.New(context.WithoutCancel(ctx), rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false)),
	}
	s.pool = p
	s.mu.Unlock()

	for i := range cfg.Workers {
		p.sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			return s.work(c, p)
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Info("task engine started", logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize))
}

// Stop ends the workers and waits for them until ctx is done. A slow
// teardown keeps going in the background.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	p := s.pool
	if p == nil {
		s.mu.Unlock()
		return
	}
	drained := p.drained
	if drained == nil {
		drained = make(chan struct{})
		p.drained = drained
		close(p.quit)
		p.sup.Cancel()
		go func() {
			_ = p.sup.Wait(context.Background())
			s.mu.Lock()
			if s.pool == p {
				s.pool = nil
			}
			s.mu.Unlock()
			close(drained)
		}()
	}
	s.mu.Unlock()

	select {
	case <-drained:
		s.log.Info("task engine stopped")
	case <-ctx.Done():
		s.log.Warn("task engine stop timed out", logx.Err(ctx.Err()))
	}
}

// Enqueue hands t to the pool without blocking.
func (s *Service) Enqueue(t Task) error {
	return s.enqueue(context.Background(), t, false)
}

// Submit waits for queue space until ctx is done or the pool stops.
func (s *Service) Submit(ctx context.Context, t Task) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.enqueue(ctx, t, true)
}

func (s *Service) enqueue(ctx context.Context, t Task, wait bool) error {
	t.Name = strings.TrimSpace(t.Name)
	switch {
	case t.Name == "":
		return errors.New("engine: task name required")
	case t.Run == nil:
		return fmt.Errorf("engine: task %q has no Run", t.Name)
	}
	now := time.Now()
	if t.ID == "" {
		t.ID = fmt.Sprintf("tsk-%x-%x", now.UnixNano(), s.seq.Add(1))
	}

	s.mu.Lock()
	cfg, p := s.cfg, s.pool
	s.mu.Unlock()
	switch {
	case !cfg.Enabled:
		return ErrDisabled
	case p == nil:
		return ErrStopped
	case p.drained != nil:
		return ErrStopping
	}

	pd := pending{task: t, opt: t.Opt.resolve(cfg), timeout: t.Timeout, queued: now, state: t.State}
	if pd.timeout <= 0 {
		pd.timeout = cfg.DefaultTimeout
	}
	if pd.state == nil {
		st, _ := s.states.LoadOrStore(t.Name, &RunState{})
		pd.state = st.(*RunState)
	}
	if pd.opt.Overlap == OverlapSkipIfRunning {
		if !pd.state.claim() {
			s.publish(eventbus.TaskSkipped, Record{ID: t.ID, Name: t.Name, Started: now, Error: "overlap"})
			s.log.Debug("task skipped: previous run active", logx.String("task", t.Name))
			return ErrOverlapSkip
		}
		pd.held = true
	}

	if !wait {
		select {
		case p.queue <- pd:
			return nil
		case <-p.quit:
			pd.release()
			return ErrStopping
		default:
			pd.release()
			s.dropped(&s.dropFull, &s.fullWarn, Record{ID: t.ID, Name: t.Name, Started: now, Error: "queue_full"},
				logx.Int("queue_cap", cap(p.queue)))
			return ErrQueueFull
		}
	}
	select {
	case p.queue <- pd:
		return nil
	case <-ctx.Done():
		pd.release()
		return ctx.Err()
	case <-p.quit:
		pd.release()
		return ErrStopping
	}
}

func (pd pending) release() {
	if pd.held {
		pd.state.free()
	}
}

func (s *Service) Stats() Stats {
	s.mu.Lock()
	cfg, p := s.cfg, s.running()
	s.mu.Unlock()

	st := Stats{
		Running:   p != nil,
		Workers:   cfg.Workers,
		Busy:      int(s.busy.Load()),
		DropFull:  s.dropFull.Load(),
		DropStale: s.dropStale.Load(),
	}
	if p != nil {
		st.Queued, st.QueueCap = len(p.queue), cap(p.queue)
	}
	s.histMu.Lock()
	st.RecentRuns = append([]Record(nil), s.history...)
	s.histMu.Unlock()
	return st
}

func (s *Service) remember(r Record) {
	s.mu.Lock()
	keep := s.cfg.HistorySize
	s.mu.Unlock()

	s.histMu.Lock()
	s.history = append(s.history, r)
	if over := len(s.history) - keep; over > 0 {
		s.history = append(s.history[:0], s.history[over:]...)
	}
	s.histMu.Unlock()
}

func (s *Service) publish(topic string, r Record) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: topic, Data: r})
	}
}

func (s *Service) dropped(counter *atomic.Uint64, gate *warnGate, r Record, extra ...logx.Field) {
	n := counter.Add(1)
	s.publish(eventbus.TaskDropped, r)
	if gate.open(time.Now()) {
		fields := append([]logx.Field{
			logx.String("task", r.Name),
			logx.String("reason", r.Error),
			logx.Uint64("dropped", n),
		}, extra...)
		s.log.Warn("task dropped", fields...)
	}
}

// warnGate lets one warning through per dropWarnEvery.
type warnGate struct{ last atomic.Int64 }

func (g *warnGate) open(now time.Time) bool {
	prev := g.last.Load()
	if prev != 0 && now.UnixNano()-prev < int64(dropWarnEvery) {
		return false
	}
	return g.last.CompareAndSwap(prev, now.UnixNano())
}
