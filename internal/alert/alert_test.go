package alert

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"l9alerts/internal/clock"
	"l9alerts/internal/event"
	"l9alerts/internal/notifier"
	"l9alerts/internal/reminder"
	"l9alerts/internal/storage"
	kit "l9alerts/internal/transport"
	logx "l9alerts/pkg/logx"
)

type fakeSender struct {
	sent []kit.Notification
	err  error
}

func (f *fakeSender) Send(_ context.Context, n kit.Notification) (kit.MessageRef, error) {
	if f.err != nil {
		return kit.MessageRef{}, f.err
	}
	f.sent = append(f.sent, n)
	return kit.MessageRef{ChatID: n.Target.ChatID}, nil
}

func at(day, hour, minute, sec int) time.Time {
	// 2024-06-01 is a Saturday.
	return time.Date(2024, 6, day, hour, minute, sec, 0, clock.DefaultZone)
}

func newTestDispatcher(t *testing.T, st storage.Settings, now time.Time) (*Dispatcher, *fakeSender) {
	t.Helper()
	mem := storage.NewMemory()
	if err := mem.SaveSettings(context.Background(), st); err != nil {
		t.Fatalf("save settings: %v", err)
	}
	snd := &fakeSender{}
	d := New(Config{}, clock.DefaultZone, mem, snd, logx.Nop())
	d.now = func() time.Time { return now }
	d.pick = func(int) int { return 0 }
	return d, snd
}

func TestNotifyRendersReminder(t *testing.T) {
	t.Parallel()

	// Fires a few hundred ms after the minute, as cron does.
	d, snd := newTestDispatcher(t, storage.Settings{ReminderChannelID: 10, MentionRoleID: 20}, at(1, 19, 45, 0).Add(300*time.Millisecond))
	def := event.Definition{Name: "World Boss: Ratan, Parto, Nedra", Recurrence: event.Saturday, Hour: 20, Minute: 0}
	if err := d.Notify(context.Background(), def, reminder.LeadLabel(15)); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(snd.sent) != 1 {
		t.Fatalf("sent %d", len(snd.sent))
	}
	n := snd.sent[0]
	if n.Target.ChatID != 10 || n.Options.MentionRoleID != 20 {
		t.Fatalf("target %+v opts %+v", n.Target, n.Options)
	}
	e := n.Options.Embed
	if e.Title != "World Boss: Ratan, Parto, Nedra Reminder (15 min before)" {
		t.Fatalf("title %q", e.Title)
	}
	if e.Description != "Scheduled for 8:00 PM GMT+8\nTime Remaining: 0d 0h 15m" {
		t.Fatalf("description %q", e.Description)
	}
	if e.Color != DefaultColor || e.Footer != DefaultQuotes[0] || e.ImageURL != DefaultBanners[0].URL {
		t.Fatalf("embed %+v", e)
	}
}

func TestNotifyStartHasZeroRemaining(t *testing.T) {
	t.Parallel()

	d, snd := newTestDispatcher(t, storage.Settings{ReminderChannelID: 10}, at(1, 20, 0, 0).Add(800*time.Millisecond))
	def := event.Definition{Name: "Guild Boss", Recurrence: event.Saturday, Hour: 20}
	if err := d.Notify(context.Background(), def, reminder.LabelStart); err != nil {
		t.Fatalf("notify: %v", err)
	}
	e := snd.sent[0].Options.Embed
	if !strings.HasSuffix(e.Description, "Time Remaining: 0d 0h 0m") {
		t.Fatalf("description %q", e.Description)
	}
	if e.ImageURL != "" {
		t.Fatalf("guild boss has no banner, got %q", e.ImageURL)
	}
}

func TestNotifyNotConfigured(t *testing.T) {
	t.Parallel()

	d, snd := newTestDispatcher(t, storage.Settings{}, at(1, 19, 45, 0))
	err := d.Notify(context.Background(), event.Definition{Name: "Guild Boss", Recurrence: event.Saturday, Hour: 20}, reminder.LabelStart)
	if !errors.Is(err, reminder.ErrNotConfigured) {
		t.Fatalf("want ErrNotConfigured, got %v", err)
	}
	if len(snd.sent) != 0 {
		t.Fatalf("nothing should be sent")
	}
}

func TestNotifyDuplicateIsSuccess(t *testing.T) {
	t.Parallel()

	d, snd := newTestDispatcher(t, storage.Settings{ReminderChannelID: 1}, at(1, 19, 45, 0))
	snd.err = notifier.ErrDuplicate
	if err := d.Notify(context.Background(), event.Definition{Name: "Guild Boss", Recurrence: event.Saturday, Hour: 20}, reminder.LabelStart); err != nil {
		t.Fatalf("duplicate should be swallowed, got %v", err)
	}
	snd.err = errors.New("gateway down")
	if err := d.Notify(context.Background(), event.Definition{Name: "Guild Boss", Recurrence: event.Saturday, Hour: 20}, reminder.LabelStart); err == nil {
		t.Fatalf("send errors must surface")
	}
}

func TestSampleEmbed(t *testing.T) {
	t.Parallel()

	now := at(1, 19, 50, 0)
	d, snd := newTestDispatcher(t, storage.Settings{ReminderChannelID: 77}, now)
	ch, err := d.SendSample(context.Background(), event.Defaults())
	if err != nil || ch != 77 {
		t.Fatalf("send sample: %d %v", ch, err)
	}
	e := snd.sent[0].Options.Embed
	if e.Title != SampleTitle || e.ImageURL != DefaultBanners[0].URL {
		t.Fatalf("embed %+v", e)
	}
	want := "📢 **ATTENTION**📢\n\n" +
		"**Guild Boss Schedule**:\nSaturday at 8:00 PM GMT+8 (Time Remaining: 0d 0h 10m)\n" +
		"**Garbana Rally Schedule**:\nSaturday at 8:00 PM GMT+8 (Time Remaining: 0d 0h 10m)\n" +
		"\n---------------------------------------------\n\n**World Boss Timer**\n" +
		"- World Boss: Ratan, Parto, Nedra : Everyday at 8:00 PM GMT+8 (Time Remaining: 0d 0h 10m)\n" +
		"\n" + DefaultQuotes[0]
	if e.Description != want {
		t.Fatalf("description\n got %q\nwant %q", e.Description, want)
	}
}

func TestSampleEmbedEmpty(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher(t, storage.Settings{}, at(3, 9, 0, 0))
	cfg, now := d.snapshot()
	e := d.SampleEmbed(cfg, []event.Definition{{Name: "World Boss: Ratan, Parto, Nedra", Recurrence: event.Everyday, Hour: 20}}, now)
	for _, want := range []string{"Guild Boss Schedule: Not set\n", "Garbana Rally Schedule: Not set\n", "No world boss event is within the next 15 minutes.\n"} {
		if !strings.Contains(e.Description, want) {
			t.Fatalf("description %q missing %q", e.Description, want)
		}
	}
	if _, err := d.SendSample(context.Background(), nil); !errors.Is(err, reminder.ErrNotConfigured) {
		t.Fatalf("want ErrNotConfigured, got %v", err)
	}
}
