package engine

import (
	"context"
	"sync/atomic"
	"time"
)

const (
	defaultWorkers   = 2
	defaultQueueSize = 64
	defaultHistory   = 100

	defaultRetryBase  = 500 * time.Millisecond
	defaultRetryCap   = 15 * time.Second
	defaultRetryNoise = 0.2
)

// Config sizes the worker pool. internal/app fills it from task_engine.
type Config struct {
	Enabled   bool
	Workers   int
	QueueSize int

	// DefaultTimeout bounds a task whose own Timeout is 0.
	DefaultTimeout time.Duration
	// MaxQueueDelay drops tasks that waited longer before a worker took
	// them. A reminder that is minutes late is worse than none. 0 keeps all.
	MaxQueueDelay time.Duration

	HistorySize int
	RetryMax    int
}

func (c Config) normalized() Config {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.HistorySize <= 0 {
		c.HistorySize = defaultHistory
	}
	c.RetryMax = max(c.RetryMax, 0)
	return c
}

type OverlapPolicy uint8

const (
	OverlapAllow OverlapPolicy = iota
	// OverlapSkipIfRunning refuses a trigger while the previous run of the
	// same job is queued or executing.
	OverlapSkipIfRunning
)

// TaskOptions tunes one task. RetryMax < 0 disables retries and 0 inherits
// Config.RetryMax.
type TaskOptions struct {
	Overlap       OverlapPolicy
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	// RetryJitter spreads each delay by this fraction either way.
	RetryJitter float64
}

func (o TaskOptions) resolve(cfg Config) TaskOptions {
	if o.RetryMax == 0 {
		o.RetryMax = cfg.RetryMax
	}
	o.RetryMax = max(o.RetryMax, 0)
	if o.RetryBase <= 0 {
		o.RetryBase = defaultRetryBase
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = defaultRetryCap
	}
	if o.RetryJitter <= 0 {
		o.RetryJitter = defaultRetryNoise
	}
	if o.Overlap > OverlapSkipIfRunning {
		o.Overlap = OverlapAllow
	}
	return o
}

// RunState is shared by every trigger of one job. It is held from enqueue
// until the last attempt returns.
type RunState struct{ busy atomic.Bool }

func (s *RunState) claim() bool { return s == nil || s.busy.CompareAndSwap(false, true) }

func (s *RunState) free() {
	if s != nil {
		s.busy.Store(false)
	}
}

// Task is one unit of work. With a nil State, overlap is tracked per Name.
type Task struct {
	ID      string
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
	Opt     TaskOptions
	State   *RunState
}

// Record describes one finished, failed or dropped task. It is kept in the
// history ring and is the payload of task.* bus events.
type Record struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Started  time.Time     `json:"started"`
	Waited   time.Duration `json:"waited"`
	Took     time.Duration `json:"took"`
	Attempts int           `json:"attempts"`
	Error    string        `json:"error,omitempty"`
}

// Stats is a point-in-time view for status output and tests.
type Stats struct {
	Running    bool
	Workers    int
	Queued     int
	QueueCap   int
	Busy       int
	DropFull   uint64
	DropStale  uint64
	RecentRuns []Record
}
