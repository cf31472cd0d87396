package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleJSON = `{
  "transport": {"driver": "discord", "discord": {"token_env": "MY_TOKEN", "admin_role_ids": [42]}},
  "logging": {"level": "info", "console": true},
  "scheduler": {"timezone": "+08:00", "lead_minutes": 15},
  "reminders": {"banners": [{"match": "Ratan", "url": "https://example.invalid/r.png"}]},
  "storage": {"driver": "sqlite", "path": "./l9.db"}
}`

const sampleYAML = `
transport:
  driver: telegram
  telegram:
    admin_ids: [7, 8]
    poll_timeout: 20s
scheduler:
  lead_minutes: 10
commands:
  prefix: "!boss"
`

func TestParseBytes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		file    string
		data    string
		wantErr string
		check   func(t *testing.T, c *Config)
	}{
		{
			name: "json",
			file: "config.json",
			data: sampleJSON,
			check: func(t *testing.T, c *Config) {
				if c.Transport.DriverName() != "discord" || c.Transport.Discord.AdminRoleIDs[0] != 42 {
					t.Fatalf("transport: %+v", c.Transport)
				}
				if c.Storage == nil || c.Storage.Driver != "sqlite" {
					t.Fatalf("storage: %+v", c.Storage)
				}
				if len(c.Reminders.Banners) != 1 || c.Reminders.Banners[0].Match != "Ratan" {
					t.Fatalf("banners: %+v", c.Reminders.Banners)
				}
			},
		},
		{
			name: "yaml",
			file: "config.yml",
			data: sampleYAML,
			check: func(t *testing.T, c *Config) {
				if c.Transport.DriverName() != "telegram" || len(c.Transport.Telegram.AdminIDs) != 2 {
					t.Fatalf("transport: %+v", c.Transport)
				}
				if c.Scheduler.LeadMinutes != 10 || c.Commands.Prefix != "!boss" {
					t.Fatalf("scheduler/commands: %+v %+v", c.Scheduler, c.Commands)
				}
			},
		},
		{
			name: "empty yaml",
			file: "config.yaml",
			data: "",
			check: func(t *testing.T, c *Config) {
				if c.Transport.DriverName() != "discord" {
					t.Fatalf("default driver: %q", c.Transport.DriverName())
				}
			},
		},
		{name: "unknown field", file: "c.json", data: `{"plugins": {}}`, wantErr: "unknown field"},
		{name: "unknown yaml field", file: "c.yaml", data: "scheduler:\n  tz: UTC\n", wantErr: "unknown field"},
		{name: "trailing", file: "c.json", data: `{} {}`, wantErr: "trailing"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c, err := ParseBytes(tc.file, []byte(tc.data))
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			tc.check(t, c)
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()

	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: %v %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "", 3*time.Second); err != nil || d != 3*time.Second {
		t.Fatalf("default: %v %v", d, err)
	}
	_, err := ParseDurationField("notifier.retry_base", "soon")
	if err == nil || !strings.HasPrefix(err.Error(), "notifier.retry_base:") {
		t.Fatalf("error should name the path, got %v", err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatalf("negative duration accepted")
	}
}

func TestResolveToken(t *testing.T) {
	t.Setenv("L9_TEST_TOKEN", " abc ")

	if got := (DiscordConfig{Token: "inline", TokenEnv: "L9_TEST_TOKEN"}).ResolveToken(); got != "inline" {
		t.Fatalf("inline should win, got %q", got)
	}
	if got := (DiscordConfig{TokenEnv: "L9_TEST_TOKEN"}).ResolveToken(); got != "abc" {
		t.Fatalf("env token: %q", got)
	}
	t.Setenv(TelegramTokenEnv, "tg")
	if got := (TelegramConfig{}).ResolveToken(); got != "tg" {
		t.Fatalf("fallback env: %q", got)
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()

	oldCfg, err := ParseBytes("a.json", []byte(sampleJSON))
	if err != nil {
		t.Fatal(err)
	}
	same, _ := ParseBytes("a.json", []byte(sampleJSON))
	if ch := SummarizeChange(oldCfg, same); !ch.Empty() {
		t.Fatalf("identical configs reported %v", ch.Sections)
	}

	newCfg, _ := ParseBytes("a.json", []byte(sampleJSON))
	newCfg.Scheduler.LeadMinutes = 5
	newCfg.Storage.Path = "./other.db"
	newCfg.Transport.Discord.Token = "secret"

	ch := SummarizeChange(oldCfg, newCfg)
	if got := strings.Join(ch.Sections, ","); got != "scheduler,storage,transport" {
		t.Fatalf("sections = %s", got)
	}
	if got := strings.Join(ch.Restart, ","); got != "storage,transport" {
		t.Fatalf("restart = %s", got)
	}
	for _, f := range ch.Attrs {
		if strings.Contains(fmt.Sprint(f), "secret") {
			t.Fatalf("attrs leak token: %v", f)
		}
	}
}

func TestLoadRunsValidator(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(sampleJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	m := NewConfigManager(path)
	bad := errors.New("nope")
	m.SetValidator(func(context.Context, *Config) error { return bad })
	if _, err := m.Load(context.Background()); !errors.Is(err, bad) {
		t.Fatalf("expected validator error, got %v", err)
	}
	if m.Get() != nil {
		t.Fatalf("rejected config must not be committed")
	}

	m.SetValidator(nil)
	if _, err := m.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.Get() == nil {
		t.Fatalf("config not committed")
	}
}

func TestWatchPublishesChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(sampleJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	m := NewConfigManager(path)
	if _, err := m.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	updated := strings.Replace(sampleJSON, `"lead_minutes": 15`, `"lead_minutes": 5`, 1)
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-sub:
			if cfg.Scheduler.LeadMinutes != 5 {
				t.Fatalf("published stale config: %+v", cfg.Scheduler)
			}
			if m.Get().Scheduler.LeadMinutes != 5 {
				t.Fatalf("published config not committed")
			}
			return
		case <-tick.C:
			// The watcher may not be registered yet; keep touching the file.
			if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
				t.Fatal(err)
			}
		case <-deadline:
			t.Fatalf("no config published")
		}
	}
}
