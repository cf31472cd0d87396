// Package app wires the reminder engine together: config, logging,
// storage, the task pipeline, the chat transport and the command router.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"l9alerts/internal/alert"
	"l9alerts/internal/commands"
	"l9alerts/internal/config"
	"l9alerts/internal/event"
	"l9alerts/internal/eventbus"
	"l9alerts/internal/notifier"
	"l9alerts/internal/reminder"
	"l9alerts/internal/runtime/supervisor"
	"l9alerts/internal/storage"
	"l9alerts/internal/task/engine"
	"l9alerts/internal/task/scheduler"
	kit "l9alerts/internal/transport"
	logx "l9alerts/pkg/logx"
)

// Maintenance jobs live in their own scheduler group so reminder
// reschedules never touch them.
const (
	maintenanceGroup = "maintenance"
	dedupPruneEvery  = 10 * time.Minute
)

type Option func(*options)

type options struct {
	in     io.Reader
	out    io.Writer
	notify func(state string) error
}

// WithConsole sets the streams used by the console transport.
func WithConsole(in io.Reader, out io.Writer) Option {
	return func(o *options) { o.in, o.out = in, out }
}

// WithServiceNotifier replaces the systemd readiness hook.
func WithServiceNotifier(fn func(state string) error) Option {
	return func(o *options) { o.notify = fn }
}

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   storage.Store
	adapter kit.Adapter

	engine    *engine.Service
	sched     *scheduler.Service
	notif     *notifier.Service
	alerts    *alert.Dispatcher
	reminders *reminder.Scheduler
	registry  *reminder.Registry
	router    *commands.Router

	timing atomic.Value // timing

	updates chan kit.Update
	notify  func(state string) error
}

// New loads cfgPath and builds every component. Nothing runs until Start.
func New(ctx context.Context, cfgPath string, opts ...Option) (*App, error) {
	o := options{in: os.Stdin, out: os.Stdout, notify: sdNotify}
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(validateConfig)
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, err
	}

	logCfg, logTarget, _ := mapLogging(cfg)
	logSvc, log := logx.New(logCfg, nil)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     eventbus.New(),
		updates: make(chan kit.Update, 256),
		notify:  o.notify,
	}
	ok := false
	defer func() {
		if !ok {
			a.closePartial()
		}
	}()

	sc, _ := mapStorageConfig(cfg)
	if a.store, err = storage.Open(sc, log); err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	events, seeded, err := storage.LoadOrSeed(ctx, a.store, event.Defaults())
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	if seeded {
		a.log.Info("event list seeded with defaults", logx.Int("events", len(events)))
	}

	engCfg, _ := mapTaskEngineConfig(cfg)
	a.engine = engine.New(engCfg, log.With(logx.String("comp", "taskengine")), a.bus)

	t, _ := mapTiming(cfg)
	a.timing.Store(t)
	a.sched = scheduler.New(scheduler.Config{Location: t.Location}, a.engine, log.With(logx.String("comp", "scheduler")), a.bus)

	if a.adapter, err = buildAdapter(cfg, o, log); err != nil {
		return nil, err
	}

	ncfg, _ := mapNotifierConfig(cfg)
	a.notif = notifier.New(ncfg, []kit.Adapter{a.adapter}, log.With(logx.String("comp", "notifier")), a.bus, a.store)
	a.setLogSink(logTarget)

	acfg, _ := mapAlertConfig(cfg, t)
	a.alerts = alert.New(acfg, t.Location, a.store, a.notif, log)

	a.reminders = reminder.NewScheduler(a.sched, a.alerts, log, a.bus, reminder.Options{
		Lead:    t.Lead,
		Timeout: engCfg.DefaultTimeout,
	})
	if a.registry, err = reminder.NewRegistry(events, a.store, a.reminders, log); err != nil {
		return nil, fmt.Errorf("events: %w", err)
	}

	ccfg, _ := mapCommandsConfig(cfg)
	a.router = commands.New(ccfg, a.store, log, a.adapter)
	a.router.Register(commands.Handlers(commands.Deps{
		Events:    a.registry,
		Jobs:      a.reminders,
		Settings:  a.store,
		Sampler:   a.alerts,
		ZoneLabel: func() string { return a.currentTiming().ZoneLabel },
		Location:  func() *time.Location { return a.currentTiming().Location },
	})...)

	ok = true
	return a, nil
}

func (a *App) currentTiming() timing {
	t, _ := a.timing.Load().(timing)
	return t
}

// setLogSink routes forwarded log lines to chatID on the active transport.
// 0 detaches the sink.
func (a *App) setLogSink(chatID int64) {
	if chatID == 0 {
		a.logs.SetSink(nil)
		return
	}
	a.logs.SetSink(notifier.LogSink{Service: a.notif, Channel: a.adapter.Name(), ChatID: chatID})
}

func (a *App) closePartial() {
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

// Registry exposes the event list for the CLI.
func (a *App) Registry() *reminder.Registry { return a.registry }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	run := a.sup.Context()

	a.engine.Start(run)
	a.sched.Start(run)
	if a.notif.Enabled() {
		a.notif.Start(run)
	}
	if err := a.adapter.Start(run, a.updates); err != nil {
		return fmt.Errorf("%s: %w", a.adapter.Name(), err)
	}

	if err := a.registry.Arm(); err != nil {
		return fmt.Errorf("arm reminders: %w", err)
	}
	if err := a.sched.AddInterval(maintenanceGroup, "dedup.prune", dedupPruneEvery, 30*time.Second, a.pruneDedup); err != nil {
		a.log.Warn("dedup prune not scheduled", logx.Err(err))
	}

	a.router.PublishMenu(run)
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	if err := a.notify(sdReady); err != nil {
		a.log.Debug("service readiness not sent", logx.Err(err))
	}
	t := a.currentTiming()
	a.log.Info("app started",
		logx.String("transport", a.adapter.Name()),
		logx.Int("events", a.registry.Len()),
		logx.Int("armed", a.reminders.Armed()),
		logx.String("zone", t.ZoneLabel),
		logx.Int("lead_minutes", t.Lead),
	)
	return nil
}

func (a *App) pruneDedup(ctx context.Context) error {
	n, err := a.store.PruneDedup(ctx, time.Now())
	if err != nil {
		return err
	}
	if n > 0 {
		a.log.Debug("dedup marks pruned", logx.Int("count", n))
	}
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closePartial()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if err := a.notify(sdStopping); err != nil {
		a.log.Debug("service stopping not sent", logx.Err(err))
	}

	a.sup.Cancel()

	a.step(ctx, "reminders", time.Second, func(context.Context) error { a.reminders.Cancel(); return nil })
	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "taskengine", 2*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	a.step(ctx, "notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.step(ctx, "adapter", 3*time.Second, a.adapter.Stop)
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one shutdown step bounded by max and the caller's deadline.
// A step that overruns is left running and logged when it returns.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			err := <-done
			a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", time.Since(start)), logx.Err(err))
		}()
	}
}
