package config

import (
	"reflect"
	"sort"
	"strings"

	logx "l9alerts/pkg/logx"
)

// Sections that only take effect after a restart.
var restartSections = map[string]bool{"transport": true, "storage": true}

// Change summarises a reload. Attrs never include tokens or URLs with
// credentials.
type Change struct {
	Sections []string
	Attrs    []logx.Field
	// Restart lists changed sections that are not applied live.
	Restart []string
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// SummarizeChange compares two configs section by section.
func SummarizeChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, attrs ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		ch.Attrs = append(ch.Attrs, attrs...)
		if restartSections[section] {
			ch.Restart = append(ch.Restart, section)
		}
	}

	ot, nt := oldCfg.Transport, newCfg.Transport
	if ot.DriverName() != nt.DriverName() ||
		!reflect.DeepEqual(ot.Discord, nt.Discord) ||
		!reflect.DeepEqual(ot.Telegram, nt.Telegram) {
		mark("transport",
			logx.String("transport.driver", nt.DriverName()),
			logx.Int("transport.discord.admin_roles", len(nt.Discord.AdminRoleIDs)),
			logx.Int("transport.telegram.admins", len(nt.Telegram.AdminIDs)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		mark("logging",
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat_enabled", newCfg.Logging.Chat.Enabled),
		)
	}

	if strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) ||
		oldCfg.Scheduler.LeadMinutes != newCfg.Scheduler.LeadMinutes {
		mark("scheduler",
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.Int("scheduler.lead_minutes", newCfg.Scheduler.LeadMinutes),
		)
	}

	if !reflect.DeepEqual(oldCfg.Reminders, newCfg.Reminders) {
		mark("reminders",
			logx.Int("reminders.quotes", len(newCfg.Reminders.Quotes)),
			logx.Int("reminders.banners", len(newCfg.Reminders.Banners)),
			logx.Int("reminders.sections", len(newCfg.Reminders.Sections)),
		)
	}

	if !reflect.DeepEqual(derefTaskEngine(oldCfg.TaskEngine), derefTaskEngine(newCfg.TaskEngine)) {
		te := derefTaskEngine(newCfg.TaskEngine)
		mark("task_engine",
			logx.Int("task_engine.workers", te.Workers),
			logx.Int("task_engine.queue_size", te.QueueSize),
			logx.Int("task_engine.retry_max", te.RetryMax),
		)
	}

	on, nn := oldCfg.Notifier, newCfg.Notifier
	if (on == nil) != (nn == nil) || (on != nil && !reflect.DeepEqual(*on, *nn)) {
		attrs := []logx.Field{logx.Bool("notifier.present", nn != nil)}
		if nn != nil {
			attrs = append(attrs,
				logx.Bool("notifier.enabled", nn.Enabled),
				logx.Int("notifier.rate_per_sec", nn.RatePerSec),
				logx.Bool("notifier.persist_dedup", nn.PersistDedup),
			)
		}
		mark("notifier", attrs...)
	}

	if storageKey(oldCfg.Storage) != storageKey(newCfg.Storage) {
		driver := ""
		if newCfg.Storage != nil {
			driver = strings.TrimSpace(newCfg.Storage.Driver)
		}
		mark("storage", logx.String("storage.driver", driver))
	}

	if oldCfg.Commands != newCfg.Commands {
		mark("commands", logx.String("commands.prefix", newCfg.Commands.Prefix))
	}

	sort.Strings(ch.Sections)
	sort.Strings(ch.Restart)
	return ch
}

func derefTaskEngine(te *TaskEngineConfig) TaskEngineConfig {
	if te == nil {
		return TaskEngineConfig{}
	}
	return *te
}

func storageKey(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	out := *s
	out.Driver = strings.ToLower(strings.TrimSpace(out.Driver))
	out.Path = strings.TrimSpace(out.Path)
	return out
}
