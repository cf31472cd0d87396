package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"l9alerts/internal/alert"
	"l9alerts/internal/clock"
	"l9alerts/internal/commands"
	"l9alerts/internal/config"
	"l9alerts/internal/notifier"
	"l9alerts/internal/reminder"
	"l9alerts/internal/storage"
	"l9alerts/internal/task/engine"
	logx "l9alerts/pkg/logx"
)

// timing is the resolved scheduler section.
type timing struct {
	Location  *time.Location
	ZoneLabel string
	Lead      int
}

func mapTiming(cfg *config.Config) (timing, error) {
	loc, err := clock.LoadZone(cfg.Scheduler.Timezone)
	if err != nil {
		return timing{}, fmt.Errorf("scheduler.timezone: %w", err)
	}
	lead := cfg.Scheduler.LeadMinutes
	switch {
	case lead < 0 || lead >= 24*60:
		return timing{}, fmt.Errorf("scheduler.lead_minutes: %d out of range 0-1439", lead)
	case lead == 0:
		lead = reminder.DefaultLead
	}
	label := strings.TrimSpace(cfg.Reminders.ZoneLabel)
	if label == "" {
		_, off := time.Now().In(loc).Zone()
		label = clock.ZoneLabel(off)
	}
	return timing{Location: loc, ZoneLabel: label, Lead: lead}, nil
}

func mapLogging(cfg *config.Config) (logx.Config, int64, error) {
	lc := cfg.Logging
	if !logx.ValidLevel(lc.Level) {
		return logx.Config{}, 0, fmt.Errorf("logging.level: unknown level %q", lc.Level)
	}
	if !logx.ValidLevel(lc.Chat.MinLevel) {
		return logx.Config{}, 0, fmt.Errorf("logging.chat.min_level: unknown level %q", lc.Chat.MinLevel)
	}
	if lc.Chat.RatePerMin < 0 {
		return logx.Config{}, 0, fmt.Errorf("logging.chat.rate_per_min must be >= 0")
	}
	var target int64
	if t := strings.TrimSpace(lc.Chat.Target); t != "" {
		id, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return logx.Config{}, 0, fmt.Errorf("logging.chat.target: invalid id %q", t)
		}
		target = id
	}
	if lc.Chat.Enabled && target == 0 {
		return logx.Config{}, 0, fmt.Errorf("logging.chat.target is required when logging.chat.enabled is true")
	}
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    lc.Chat.Enabled,
			MinLevel:   lc.Chat.MinLevel,
			RatePerMin: lc.Chat.RatePerMin,
		},
	}, target, nil
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	out := engine.Config{
		Enabled:        true,
		Workers:        2,
		QueueSize:      64,
		DefaultTimeout: 30 * time.Second,
		HistorySize:    100,
		RetryMax:       2,
	}
	te := cfg.TaskEngine
	if te == nil {
		return out, nil
	}
	if te.Workers < 0 {
		return engine.Config{}, fmt.Errorf("task_engine.workers must be >= 0")
	}
	if te.QueueSize < 0 {
		return engine.Config{}, fmt.Errorf("task_engine.queue_size must be >= 0")
	}
	if te.HistorySize < 0 {
		return engine.Config{}, fmt.Errorf("task_engine.history_size must be >= 0")
	}
	if te.RetryMax < 0 {
		return engine.Config{}, fmt.Errorf("task_engine.retry_max must be >= 0")
	}
	if te.Workers != 0 {
		out.Workers = te.Workers
	}
	if te.QueueSize != 0 {
		out.QueueSize = te.QueueSize
	}
	if te.HistorySize != 0 {
		out.HistorySize = te.HistorySize
	}
	if te.RetryMax != 0 {
		out.RetryMax = te.RetryMax
	}
	var err error
	if out.DefaultTimeout, err = config.ParseDurationOrDefault("task_engine.default_timeout", te.DefaultTimeout, out.DefaultTimeout); err != nil {
		return engine.Config{}, err
	}
	if out.MaxQueueDelay, err = config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay); err != nil {
		return engine.Config{}, err
	}
	return out, nil
}

// mapNotifierConfig fills defaults for an omitted section. An explicit
// section is taken as written, including enabled=false.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	out := notifier.Config{
		Enabled:         true,
		Workers:         2,
		QueueSize:       256,
		RatePerSec:      3,
		Burst:           3,
		RetryMax:        3,
		RetryBase:       500 * time.Millisecond,
		RetryMaxDelay:   10 * time.Second,
		SendTimeout:     15 * time.Second,
		DedupWindow:     2 * time.Minute,
		DedupMaxEntries: 2000,
	}
	n := cfg.Notifier
	if n == nil {
		return out, nil
	}
	for path, v := range map[string]int{
		"notifier.workers":           n.Workers,
		"notifier.queue_size":        n.QueueSize,
		"notifier.rate_per_sec":      n.RatePerSec,
		"notifier.burst":             n.Burst,
		"notifier.retry_max":         n.RetryMax,
		"notifier.dedup_max_entries": n.DedupMaxEntries,
	} {
		if v < 0 {
			return notifier.Config{}, fmt.Errorf("%s must be >= 0", path)
		}
	}
	out.Enabled = n.Enabled
	out.PersistDedup = n.PersistDedup
	if n.Workers != 0 {
		out.Workers = n.Workers
	}
	if n.QueueSize != 0 {
		out.QueueSize = n.QueueSize
	}
	if n.RatePerSec != 0 {
		out.RatePerSec = n.RatePerSec
	}
	if n.Burst != 0 {
		out.Burst = n.Burst
	}
	if n.RetryMax != 0 {
		out.RetryMax = n.RetryMax
	}
	if n.DedupMaxEntries != 0 {
		out.DedupMaxEntries = n.DedupMaxEntries
	}

	var err error
	if out.RetryBase, err = config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, out.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, out.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if out.SendTimeout, err = config.ParseDurationOrDefault("notifier.send_timeout", n.SendTimeout, out.SendTimeout); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationOrDefault("notifier.dedup_window", n.DedupWindow, out.DedupWindow); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay < out.RetryBase {
		return notifier.Config{}, fmt.Errorf("notifier.retry_max_delay must be >= notifier.retry_base")
	}
	return out, nil
}

// mapStorageConfig defaults to the file driver under ./l9alerts_store.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	if sc == nil {
		return storage.Config{Driver: "file", Path: "./l9alerts_store"}, nil
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "file":
		if path == "" {
			path = "./l9alerts_store"
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "memory", "none":
		return storage.Config{Driver: "memory"}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "redis":
		if strings.TrimSpace(sc.RedisURL) == "" {
			return storage.Config{}, fmt.Errorf("storage.redis_url is required when storage.driver=redis")
		}
		return storage.Config{Driver: "redis", RedisURL: strings.TrimSpace(sc.RedisURL), KeyPrefix: strings.TrimSpace(sc.KeyPrefix)}, nil
	default:
		return storage.Config{}, fmt.Errorf("storage.driver: unknown driver %q", sc.Driver)
	}
}

func mapAlertConfig(cfg *config.Config, t timing) (alert.Config, error) {
	rc := cfg.Reminders
	out := alert.Config{
		Channel:   strings.TrimSpace(rc.Channel),
		ZoneLabel: t.ZoneLabel,
		Quotes:    rc.Quotes,
		WorldBoss: strings.TrimSpace(rc.WorldBoss),
		Bosses:    rc.Bosses,
	}
	if c := strings.TrimSpace(rc.Color); c != "" {
		c = strings.TrimPrefix(c, "#")
		if !strings.HasPrefix(strings.ToLower(c), "0x") {
			c = "0x" + c
		}
		v, err := strconv.ParseInt(c, 0, 32)
		if err != nil || v < 0 || v > 0xffffff {
			return alert.Config{}, fmt.Errorf("reminders.color: invalid color %q", rc.Color)
		}
		out.Color = int(v)
	}
	for i, b := range rc.Banners {
		if strings.TrimSpace(b.Match) == "" || strings.TrimSpace(b.URL) == "" {
			return alert.Config{}, fmt.Errorf("reminders.banners[%d]: match and url are required", i)
		}
		out.Banners = append(out.Banners, alert.Banner{Match: b.Match, URL: b.URL})
	}
	for i, s := range rc.Sections {
		if strings.TrimSpace(s.Title) == "" || strings.TrimSpace(s.Match) == "" {
			return alert.Config{}, fmt.Errorf("reminders.sections[%d]: title and match are required", i)
		}
		out.Sections = append(out.Sections, alert.Section{Title: s.Title, Match: s.Match})
	}
	w, err := config.ParseDurationField("reminders.window", rc.Window)
	if err != nil {
		return alert.Config{}, err
	}
	out.Window = w
	return out, nil
}

func mapCommandsConfig(cfg *config.Config) (commands.Config, error) {
	cc := cfg.Commands
	if strings.ContainsAny(strings.TrimSpace(cc.Prefix), " \t\n") {
		return commands.Config{}, fmt.Errorf("commands.prefix must not contain whitespace")
	}
	if cc.Workers < 0 || cc.QueueSize < 0 {
		return commands.Config{}, fmt.Errorf("commands.workers and commands.queue_size must be >= 0")
	}
	timeout, err := config.ParseDurationField("commands.timeout", cc.Timeout)
	if err != nil {
		return commands.Config{}, err
	}
	return commands.Config{Prefix: cc.Prefix, Workers: cc.Workers, QueueSize: cc.QueueSize, Timeout: timeout}, nil
}
