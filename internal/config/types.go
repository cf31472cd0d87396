package config

// Config is the on-disk configuration. Every section may be omitted; the
// runtime mappers in internal/app fill defaults.
type Config struct {
	Transport TransportConfig `json:"transport"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Reminders RemindersConfig `json:"reminders"`

	// TaskEngine controls the workers that run reminder dispatches.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	// Notifier is enabled with defaults when omitted.
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	Commands CommandsConfig  `json:"commands"`
}

// TransportConfig selects the chat platform. Only the section matching
// Driver is read.
//
// Tokens may be given inline or through the environment variable named by
// token_env. The inline value wins.
type TransportConfig struct {
	Driver   string         `json:"driver"` // discord | telegram | console
	Discord  DiscordConfig  `json:"discord"`
	Telegram TelegramConfig `json:"telegram"`
}

type DiscordConfig struct {
	Token        string  `json:"token"`
	TokenEnv     string  `json:"token_env,omitempty"`
	AdminRoleIDs []int64 `json:"admin_role_ids,omitempty"`
	GuildID      int64   `json:"guild_id,omitempty"`
}

type TelegramConfig struct {
	Token    string  `json:"token"`
	TokenEnv string  `json:"token_env,omitempty"`
	AdminIDs []int64 `json:"admin_ids,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat forwards warnings to an operator channel on the active
// transport.
type LoggingChat struct {
	Enabled bool `json:"enabled"`
	// Target is the channel or chat ID.
	Target     string `json:"target"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerMin int    `json:"rate_per_min,omitempty"`
}

// SchedulerConfig controls when reminders fire.
//
// Timezone accepts an IANA name ("Asia/Manila") or a fixed offset
// ("+08:00"). Empty means GMT+8. LeadMinutes defaults to 15.
type SchedulerConfig struct {
	Timezone    string `json:"timezone,omitempty"`
	LeadMinutes int    `json:"lead_minutes,omitempty"`
}

// RemindersConfig is the presentation of reminder messages and the sample
// alert. Empty lists keep the built-in defaults.
type RemindersConfig struct {
	// Channel names the adapter reminders go out on. Empty means the
	// active transport.
	Channel   string          `json:"channel,omitempty"`
	ZoneLabel string          `json:"zone_label,omitempty"`
	Color     string          `json:"color,omitempty"` // "0x00ff99" or "#00ff99"
	Quotes    []string        `json:"quotes,omitempty"`
	Banners   []BannerConfig  `json:"banners,omitempty"`
	Sections  []SectionConfig `json:"sections,omitempty"`
	WorldBoss string          `json:"world_boss,omitempty"`
	Bosses    []string        `json:"bosses,omitempty"`
	// Window is how far ahead the sample alert looks for world bosses.
	Window string `json:"window,omitempty"`
}

type BannerConfig struct {
	Match string `json:"match"`
	URL   string `json:"url"`
}

type SectionConfig struct {
	Title string `json:"title"`
	Match string `json:"match"`
}

// TaskEngineConfig controls the task execution engine.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 64
//   - default_timeout: "30s"
//   - history_size: 100
//   - retry_max: 2
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
}

// NotifierConfig controls the delivery pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	Burst           int    `json:"burst,omitempty"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
}

// StorageConfig controls persistence of events and alert settings.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./l9alerts.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	RedisURL    string `json:"redis_url,omitempty"`    // never logged
	KeyPrefix   string `json:"key_prefix,omitempty"`
}

type CommandsConfig struct {
	Prefix    string `json:"prefix,omitempty"`
	Workers   int    `json:"workers,omitempty"`
	QueueSize int    `json:"queue_size,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
}
