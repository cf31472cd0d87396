package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"l9alerts/internal/eventbus"
	"l9alerts/internal/task/engine"
	logx "l9alerts/pkg/logx"
)

// Config sets where cron expressions are evaluated; nil is time.Local.
type Config struct {
	Location *time.Location
}

type TaskOptions = engine.TaskOptions

const (
	OverlapAllow         = engine.OverlapAllow
	OverlapSkipIfRunning = engine.OverlapSkipIfRunning
)

// Job pairs a trigger with the work it enqueues. Spec takes five cron fields
// (minute hour dom month dow) or a descriptor like "@every 1h".
type Job struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Opt     TaskOptions
	Run     func(ctx context.Context) error
}

// ScheduleInfo describes one registered job. Prev is zero until it fires.
type ScheduleInfo struct {
	Group string
	Name  string
	Spec  string
	Next  time.Time
	Prev  time.Time
}

// Service turns cron triggers into engine tasks. Registrations outlive
// Stop and are re-armed by the next Start.
type Service struct {
	log    logx.Logger
	bus    eventbus.Bus
	engine *engine.Service
	parser cron.Parser

	mu   sync.Mutex
	loc  *time.Location
	c    *cron.Cron // nil while stopped
	defs []entry

	warnMu sync.Mutex
	warned map[string]time.Time
}

// entry is a parsed Job. id is set only while armed; state is shared by every
// trigger of the job so overlap detection spans fires.
type entry struct {
	group string
	job   Job
	sched cron.Schedule
	id    cron.EntryID
	state *engine.RunState
}
