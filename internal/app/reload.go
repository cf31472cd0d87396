package app

import (
	"context"
	"strings"

	"l9alerts/internal/config"
	"l9alerts/internal/eventbus"
	logx "l9alerts/pkg/logx"
)

// reloadLoop applies published configs until ctx is done. Bursts are
// coalesced to the newest config.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			if next == nil {
				continue
			}
			a.applyConfig(ctx, last, next)
			last = next
		}
	}
}

// applyConfig pushes the live sections of next into the running
// components. Transport and storage need a restart.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	ch := config.SummarizeChange(prev, next)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
	a.log.Debug("config change summary", fields...)
	for _, s := range ch.Restart {
		a.log.Warn(s+" config changed; restart required for changes to take effect", logx.String("section", s))
	}

	failed := false
	fail := func(section string, err error) {
		failed = true
		a.log.Warn("invalid "+section+" config; keeping previous", logx.Err(err))
		a.publish(eventbus.ConfigReloadError, section)
	}

	if lc, target, err := mapLogging(next); err != nil {
		fail("logging", err)
	} else {
		if lc.Chat.Enabled {
			a.setLogSink(target)
		} else {
			a.setLogSink(0)
		}
		a.logs.Apply(lc)
	}

	if ec, err := mapTaskEngineConfig(next); err != nil {
		fail("task_engine", err)
	} else {
		a.engine.Apply(ctx, ec)
	}

	if nc, err := mapNotifierConfig(next); err != nil {
		fail("notifier", err)
	} else {
		wasEnabled := a.notif.Enabled()
		a.notif.Apply(nc)
		switch {
		case wasEnabled && !nc.Enabled:
			a.log.Info("notifier disabled via config")
			a.notif.Stop(ctx)
		case !wasEnabled && nc.Enabled:
			a.log.Info("notifier enabled via config")
			a.notif.Start(ctx)
		}
	}

	if t, err := mapTiming(next); err != nil {
		fail("scheduler", err)
	} else {
		a.applyTiming(t)
		if ac, err := mapAlertConfig(next, t); err != nil {
			fail("reminders", err)
		} else {
			a.alerts.Apply(ac, t.Location)
		}
	}

	if cc, err := mapCommandsConfig(next); err != nil {
		fail("commands", err)
	} else {
		a.router.SetPrefix(cc.Prefix)
	}

	if !failed {
		a.publish(eventbus.ConfigReloaded, ch.Sections)
	}
	a.log.Info("config reloaded", fields...)
}

// applyTiming re-arms every reminder when the zone or lead changed.
func (a *App) applyTiming(t timing) {
	cur := a.currentTiming()
	a.timing.Store(t)
	if cur.Location != nil && cur.Location.String() == t.Location.String() && cur.Lead == t.Lead {
		return
	}
	a.sched.SetLocation(t.Location)
	a.reminders.SetLead(t.Lead)
	if err := a.registry.Arm(); err != nil {
		a.log.Error("re-arm after scheduler change failed; previous reminders kept", logx.Err(err))
		return
	}
	a.log.Info("reminders re-armed",
		logx.String("zone", t.ZoneLabel),
		logx.Int("lead_minutes", t.Lead),
		logx.Int("armed", a.reminders.Armed()),
	)
}

func (a *App) publish(topic string, data any) {
	if a.bus != nil {
		a.bus.Publish(eventbus.Event{Type: topic, Data: data})
	}
}
