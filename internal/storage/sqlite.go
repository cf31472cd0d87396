package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"l9alerts/internal/event"
	logx "l9alerts/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection serializes writers and keeps pragmas in effect.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, p := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(p); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}
	if _, err := db.Exec(migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) LoadEvents(ctx context.Context) ([]event.Definition, bool, error) {
	var seeded string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'events_seeded'`).Scan(&seeded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT name, day, hour, minute FROM events ORDER BY idx`)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var out []event.Definition
	for rows.Next() {
		var (
			d   event.Definition
			day string
		)
		if err := rows.Scan(&d.Name, &day, &d.Hour, &d.Minute); err != nil {
			return nil, false, err
		}
		if d.Recurrence, err = event.ParseRecurrence(day); err != nil {
			return nil, false, fmt.Errorf("event %q: %w", d.Name, err)
		}
		out = append(out, d)
	}
	return out, true, rows.Err()
}

// SaveEvents rewrites the table in one transaction.
func (s *sqliteStore) SaveEvents(ctx context.Context, evs []event.Definition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM events`); err != nil {
		return err
	}
	for i, d := range evs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO events(idx, name, day, hour, minute) VALUES(?,?,?,?,?)`,
			i, d.Name, d.Recurrence.String(), d.Hour, d.Minute,
		); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta(key, value) VALUES('events_seeded', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) LoadSettings(ctx context.Context) (Settings, error) {
	var st Settings
	err := s.db.QueryRowContext(ctx,
		`SELECT reminder_channel_id, mention_role_id FROM settings WHERE id = 1`,
	).Scan(&st.ReminderChannelID, &st.MentionRoleID)
	if errors.Is(err, sql.ErrNoRows) {
		return Settings{}, nil
	}
	return st, err
}

func (s *sqliteStore) SaveSettings(ctx context.Context, st Settings) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(id, reminder_channel_id, mention_role_id) VALUES(1,?,?)
		 ON CONFLICT(id) DO UPDATE SET reminder_channel_id = excluded.reminder_channel_id, mention_role_id = excluded.mention_role_id`,
		st.ReminderChannelID, st.MentionRoleID,
	)
	return err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, actor_name, chat_id, transport, action, target, ok, err, took_ms, meta)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.ActorID, nullStr(e.ActorName), nullStr(e.ChatID), nullStr(e.Transport),
		e.Action, nullStr(e.Target), e.OK, nullStr(e.Error), e.TookMS, nullStr(e.MetaJSON),
	)
	return err
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until = excluded.until`,
		key, until.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) PruneDedup(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
