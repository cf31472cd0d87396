package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"l9alerts/internal/eventbus"
	rtsup "l9alerts/internal/runtime/supervisor"
	"l9alerts/internal/storage"
	kit "l9alerts/internal/transport"
	logx "l9alerts/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier: disabled")
	ErrQueueFull = errors.New("notifier: queue full")
	ErrStopped   = errors.New("notifier: not running")
	ErrNoAdapter = errors.New("notifier: no adapter for channel")
	ErrDuplicate = errors.New("notifier: duplicate suppressed")
	errEmpty     = errors.New("notifier: nothing to send")
)

type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	Burst           int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	SendTimeout     time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

func (c Config) normalized() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	if c.Burst <= 0 {
		c.Burst = c.RatePerSec
	}
	c.RetryMax = max(c.RetryMax, 0)
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 15 * time.Second
	}
	c.DedupWindow = max(c.DedupWindow, 0)
	if c.DedupMaxEntries <= 0 {
		c.DedupMaxEntries = 2000
	}
	return c
}

// NotificationEvent is the bus payload for notifier topics.
type NotificationEvent struct {
	Channel string    `json:"channel"`
	ChatID  int64     `json:"chat_id"`
	Key     string    `json:"key"`
	At      time.Time `json:"at"`
	Error   string    `json:"error,omitempty"`
}

type queued struct {
	n   kit.Notification
	key string
}

// Service sits in front of the adapters. Send and the queue share one rate
// limiter and one dedup cache.
type Service struct {
	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store
	dedup *dedupCache

	adapters map[string]kit.Adapter
	primary  string

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	run     *intake
}

// intake is the queue of one Start..Stop cycle.
type intake struct {
	queue     chan queued
	sup       *rtsup.Supervisor
	senders   sync.WaitGroup // Notify calls between the check and the send
	closing   bool
	drained   chan struct{}
	stopWrite func()
}

// New routes by Notification.Channel; an empty channel goes to the first
// adapter.
func New(cfg Config, adapters []kit.Adapter, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:      log,
		bus:      bus,
		store:    store,
		dedup:    newDedupCache(log),
		adapters: make(map[string]kit.Adapter, len(adapters)),
	}
	for _, a := range adapters {
		if a == nil {
			continue
		}
		if s.primary == "" {
			s.primary = a.Name()
		}
		s.adapters[a.Name()] = a
	}
	s.Apply(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply updates limits in place. Worker and queue sizes apply on the next
// Start.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.normalized()
	var persist storage.Store
	if cfg.PersistDedup {
		persist = s.store
	}
	s.dedup.configure(cfg.DedupWindow, cfg.DedupMaxEntries, persist)

	s.mu.Lock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)
	s.mu.Unlock()
}

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	for s.run != nil {
		if !s.run.closing {
			s.mu.Unlock()
			return
		}
		drained := s.run.drained
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
	in := &intake{
		queue:   make(chan queued, cfg.QueueSize),
		sup:     rtsup.New(context.WithoutCancel(ctx), rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false)),
		drained: make(chan struct{}),
	}
	persist, stopWrite := s.dedup.persistAsync()
	in.stopWrite = stopWrite
	s.run = in
	s.mu.Unlock()

	if persist != nil {
		in.sup.GoRestart("dedup.persist", persist, rtsup.WithPublishFirstError(true))
	}
	for i := range cfg.Workers {
		in.sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			for q := range in.queue {
				_, _ = s.deliver(c, q)
			}
			return nil
		}, rtsup.WithPublishFirstError(true))
	}
}

// Stop refuses new work and drains the queue until ctx is done, then
// cancels in-flight sends.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	in := s.run
	if in == nil {
		s.mu.Unlock()
		return
	}
	first := !in.closing
	in.closing = true
	s.mu.Unlock()

	if first {
		go func() {
			in.senders.Wait()
			close(in.queue)
			in.stopWrite()
			_ = in.sup.Wait(context.Background())
			s.mu.Lock()
			if s.run == in {
				s.run = nil
			}
			s.mu.Unlock()
			close(in.drained)
		}()
	}

	select {
	case <-in.drained:
	case <-ctx.Done():
		in.sup.Cancel()
	}
}

// Notify queues n and returns. A suppressed duplicate returns nil.
func (s *Service) Notify(ctx context.Context, n kit.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	enabled, in := s.cfg.Enabled, s.run
	if !enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if in == nil || in.closing {
		s.mu.Unlock()
		return ErrStopped
	}
	in.senders.Add(1)
	s.mu.Unlock()
	defer in.senders.Done()

	key := dedupKey(n)
	if !s.dedup.claim(ctx, key) {
		s.publish(eventbus.NotifierDeduped, n, key, nil)
		return nil
	}
	select {
	case in.queue <- queued{n: n, key: key}:
		s.publish(eventbus.NotifierQueued, n, key, nil)
		return nil
	default:
		s.dedup.release(key)
		s.publish(eventbus.NotifierDropped, n, key, ErrQueueFull)
		return ErrQueueFull
	}
}

// Send delivers n on the caller's goroutine and returns the final adapter
// error once retries are spent. A suppressed duplicate returns ErrDuplicate.
func (s *Service) Send(ctx context.Context, n kit.Notification) (kit.MessageRef, error) {
	if !s.Enabled() {
		return kit.MessageRef{}, ErrDisabled
	}
	key := dedupKey(n)
	if !s.dedup.claim(ctx, key) {
		s.publish(eventbus.NotifierDeduped, n, key, nil)
		return kit.MessageRef{}, ErrDuplicate
	}
	return s.deliver(ctx, queued{n: n, key: key})
}

func (s *Service) publish(topic string, n kit.Notification, key string, err error) {
	if s.bus == nil {
		return
	}
	ev := NotificationEvent{Channel: n.Channel, ChatID: n.Target.ChatID, Key: key, At: time.Now()}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: topic, Time: ev.At, Data: ev})
}
