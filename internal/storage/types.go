package storage

import (
	"context"
	"errors"
	"time"

	"l9alerts/internal/event"
)

var (
	ErrUnknownDriver = errors.New("unknown storage driver")
	ErrClosed        = errors.New("storage closed")
)

type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means 5s
	RedisURL    string
	KeyPrefix   string // redis only; default "l9alerts:"
	AuditMax    int    // redis only; newest entries kept, default 5000
}

// Settings is where and whom reminders address. Zero means unset.
type Settings struct {
	ReminderChannelID int64 `json:"reminder_channel_id"`
	MentionRoleID     int64 `json:"mention_role_id"`
}

// AuditEntry records one operator command.
type AuditEntry struct {
	At        time.Time `json:"at"`
	ActorID   string    `json:"actor_id"`
	ActorName string    `json:"actor_name,omitempty"`
	ChatID    string    `json:"chat_id,omitempty"`
	Transport string    `json:"transport,omitempty"`
	Action    string    `json:"action"`
	Target    string    `json:"target,omitempty"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
	TookMS    int64     `json:"took_ms"`
	MetaJSON  string    `json:"meta,omitempty"`
}

// Store is the persistence API used by the registry, the command handlers
// and the notifier.
type Store interface {
	// LoadEvents reports ok=false when nothing was saved yet.
	LoadEvents(ctx context.Context) (events []event.Definition, ok bool, err error)
	SaveEvents(ctx context.Context, events []event.Definition) error

	LoadSettings(ctx context.Context) (Settings, error)
	SaveSettings(ctx context.Context, s Settings) error

	AppendAudit(ctx context.Context, e AuditEntry) error

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
	// PruneDedup drops marks that expired before now.
	PruneDedup(ctx context.Context, now time.Time) (int, error)

	Close() error
}

// LoadOrSeed returns the stored events or, when none exist, saves and
// returns seed.
func LoadOrSeed(ctx context.Context, st Store, seed []event.Definition) ([]event.Definition, bool, error) {
	evs, ok, err := st.LoadEvents(ctx)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return evs, false, nil
	}
	if err := st.SaveEvents(ctx, seed); err != nil {
		return nil, false, err
	}
	return append([]event.Definition(nil), seed...), true, nil
}
