package app

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"l9alerts/internal/config"
)

func parse(t *testing.T, js string) *config.Config {
	t.Helper()
	cfg, err := config.ParseBytes("config.json", []byte(js))
	if err != nil {
		t.Fatalf("parse %s: %v", js, err)
	}
	return cfg
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		js      string
		wantErr string
	}{
		{name: "console", js: `{"transport":{"driver":"console"}}`},
		{name: "inline token", js: `{"transport":{"discord":{"token":"x"}}}`},
		{name: "missing token", js: `{"transport":{"discord":{"token_env":"L9_UNSET_FOR_TEST"}}}`, wantErr: "transport.discord.token"},
		{name: "unknown driver", js: `{"transport":{"driver":"irc"}}`, wantErr: "transport.driver"},
		{name: "bad timezone", js: `{"transport":{"driver":"console"},"scheduler":{"timezone":"Mars/Olympus"}}`, wantErr: "scheduler.timezone"},
		{name: "bad lead", js: `{"transport":{"driver":"console"},"scheduler":{"lead_minutes":-5}}`, wantErr: "scheduler.lead_minutes"},
		{name: "bad color", js: `{"transport":{"driver":"console"},"reminders":{"color":"green"}}`, wantErr: "reminders.color"},
		{name: "bad banner", js: `{"transport":{"driver":"console"},"reminders":{"banners":[{"match":"Ratan"}]}}`, wantErr: "reminders.banners[0]"},
		{name: "chat without target", js: `{"transport":{"driver":"console"},"logging":{"chat":{"enabled":true}}}`, wantErr: "logging.chat.target"},
		{name: "bad level", js: `{"transport":{"driver":"console"},"logging":{"level":"loud"}}`, wantErr: "logging.level"},
		{name: "bad duration", js: `{"transport":{"driver":"console"},"notifier":{"enabled":true,"retry_base":"fast"}}`, wantErr: "notifier.retry_base"},
		{name: "negative workers", js: `{"transport":{"driver":"console"},"task_engine":{"workers":-1}}`, wantErr: "task_engine.workers"},
		{name: "sqlite needs path", js: `{"transport":{"driver":"console"},"storage":{"driver":"sqlite"}}`, wantErr: "storage.path"},
		{name: "redis needs url", js: `{"transport":{"driver":"console"},"storage":{"driver":"redis"}}`, wantErr: "storage.redis_url"},
		{name: "prefix with space", js: `{"transport":{"driver":"console"},"commands":{"prefix":"! l9"}}`, wantErr: "commands.prefix"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := validateConfig(context.Background(), parse(t, tc.js))
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error naming %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestMapTiming(t *testing.T) {
	t.Parallel()

	tm, err := mapTiming(parse(t, `{}`))
	if err != nil {
		t.Fatal(err)
	}
	if tm.ZoneLabel != "GMT+8" || tm.Lead != 15 {
		t.Fatalf("defaults: %+v", tm)
	}
	if _, off := time.Date(2025, 1, 1, 0, 0, 0, 0, tm.Location).Zone(); off != 8*3600 {
		t.Fatalf("default offset %d", off)
	}

	tm, err = mapTiming(parse(t, `{"scheduler":{"timezone":"-05:30","lead_minutes":10},"reminders":{"zone_label":"Server"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if tm.ZoneLabel != "Server" || tm.Lead != 10 {
		t.Fatalf("override: %+v", tm)
	}
}

func TestMapAlertConfig(t *testing.T) {
	t.Parallel()

	cfg := parse(t, `{"reminders":{"color":"#ff0000","sections":[{"title":"Guild Boss","match":"Guild"}],"window":"30m"}}`)
	tm, _ := mapTiming(cfg)
	ac, err := mapAlertConfig(cfg, tm)
	if err != nil {
		t.Fatal(err)
	}
	if ac.Color != 0xff0000 || len(ac.Sections) != 1 || ac.Window != 30*time.Minute || ac.ZoneLabel != "GMT+8" {
		t.Fatalf("alert config: %+v", ac)
	}
}

func TestMapNotifierConfig(t *testing.T) {
	t.Parallel()

	def, err := mapNotifierConfig(parse(t, `{}`))
	if err != nil || !def.Enabled || def.Workers != 2 {
		t.Fatalf("defaults: %+v %v", def, err)
	}
	off, err := mapNotifierConfig(parse(t, `{"notifier":{"enabled":false}}`))
	if err != nil || off.Enabled || off.RetryMax != 3 {
		t.Fatalf("explicit disable: %+v %v", off, err)
	}
	if _, err := mapNotifierConfig(parse(t, `{"notifier":{"enabled":true,"retry_base":"20s","retry_max_delay":"1s"}}`)); err == nil {
		t.Fatalf("retry_max_delay < retry_base accepted")
	}
}

// lockedBuffer collects console output from the adapter goroutine.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitFor(t *testing.T, out *lockedBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(out.String(), want) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("output never contained %q; got:\n%s", want, out.String())
}

func TestAppConsoleRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	cfg := `{"transport":{"driver":"console"},"logging":{"level":"error"},"storage":{"driver":"memory"}}`
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	var (
		stateMu sync.Mutex
		states  []string
	)
	notify := func(s string) error {
		stateMu.Lock()
		states = append(states, s)
		stateMu.Unlock()
		return nil
	}

	inR, inW := io.Pipe()
	defer inW.Close()
	out := &lockedBuffer{}

	ctx := context.Background()
	a, err := New(ctx, path, WithConsole(inR, out), WithServiceNotifier(notify))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	if got := a.reminders.Armed(); got != 2*a.registry.Len() {
		t.Fatalf("armed %d, want %d", got, 2*a.registry.Len())
	}

	if _, err := io.WriteString(inW, "!l9 schedule\n"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, out, "1. Guild Boss: Saturday at 8:00 PM GMT+8")

	if _, err := io.WriteString(inW, "!l9 edit 1 21:30\n"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, out, "Updated Guild Boss to 21:30")
	if def := a.registry.List()[0]; def.Hour != 21 || def.Minute != 30 {
		t.Fatalf("edit not applied: %+v", def)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.Stop(stopCtx, StopSIGTERM); err != nil {
		t.Fatalf("stop: %v", err)
	}

	stateMu.Lock()
	defer stateMu.Unlock()
	if strings.Join(states, ",") != sdReady+","+sdStopping {
		t.Fatalf("service states = %v", states)
	}
}
