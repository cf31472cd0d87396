// Package alert turns reminder triggers into chat messages: it resolves the
// configured channel and role, renders the embed and hands it to the
// notifier.
package alert

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"l9alerts/internal/clock"
	"l9alerts/internal/event"
	"l9alerts/internal/notifier"
	"l9alerts/internal/reminder"
	"l9alerts/internal/storage"
	kit "l9alerts/internal/transport"
	logx "l9alerts/pkg/logx"
)

const DefaultColor = 0x00ff99

// SampleTitle heads the on-demand summary alert.
const SampleTitle = "Daily Guild & World Boss Reminder (Sample)"

var DefaultQuotes = []string{
	"Min-maxing: because every stat point counts!",
	"A true hero knows the value of optimization.",
	"Why settle for average when you can be legendary?",
	"In Lord Nine, min-maxing is the path to glory.",
	"The difference between good and great is in the details.",
}

// Banner maps a boss name fragment to an image.
type Banner struct {
	Match string
	URL   string
}

// Section is one highlighted block of the summary alert.
type Section struct {
	Title string
	Match string
}

var DefaultSections = []Section{
	{Title: "Guild Boss", Match: "Guild Boss"},
	{Title: "Garbana Rally", Match: "Garbana"},
}

var DefaultBanners = []Banner{
	{Match: "Ratan, Parto, Nedra", URL: "https://cdn.discordapp.com/attachments/1262911795333566465/1420453316898459831/image.png"},
}

type Config struct {
	// Channel is the adapter name reminders go out on. Empty means the
	// notifier's primary adapter.
	Channel   string
	ZoneLabel string
	Color     int
	Quotes    []string
	Banners   []Banner
	Sections  []Section
	// WorldBoss selects the events listed under the world boss timer.
	WorldBoss string
	// Bosses are the names the timer groups by. Defaults to banner keys.
	Bosses []string
	Window time.Duration
}

func (c Config) withDefaults() Config {
	if c.ZoneLabel == "" {
		c.ZoneLabel = "GMT+8"
	}
	if c.Color == 0 {
		c.Color = DefaultColor
	}
	if len(c.Quotes) == 0 {
		c.Quotes = DefaultQuotes
	}
	if c.Banners == nil {
		c.Banners = DefaultBanners
	}
	if c.Sections == nil {
		c.Sections = DefaultSections
	}
	if c.WorldBoss == "" {
		c.WorldBoss = "World Boss"
	}
	if len(c.Bosses) == 0 {
		for _, b := range c.Banners {
			c.Bosses = append(c.Bosses, b.Match)
		}
	}
	if c.Window <= 0 {
		c.Window = reminder.DefaultWindow
	}
	return c
}

// SettingsStore is the part of storage.Store the dispatcher reads.
type SettingsStore interface {
	LoadSettings(ctx context.Context) (storage.Settings, error)
}

// Sender is the synchronous delivery path of notifier.Service.
type Sender interface {
	Send(ctx context.Context, n kit.Notification) (kit.MessageRef, error)
}

type Dispatcher struct {
	mu       sync.RWMutex
	cfg      Config
	loc      *time.Location
	settings SettingsStore
	sender   Sender
	log      logx.Logger

	now  func() time.Time
	pick func(n int) int
}

func New(cfg Config, loc *time.Location, settings SettingsStore, sender Sender, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = clock.DefaultZone
	}
	return &Dispatcher{
		cfg:      cfg.withDefaults(),
		loc:      loc,
		settings: settings,
		sender:   sender,
		log:      log.With(logx.String("comp", "alert")),
		now:      time.Now,
		pick:     rand.IntN,
	}
}

// Apply swaps presentation settings. Used on config reload.
func (d *Dispatcher) Apply(cfg Config, loc *time.Location) {
	d.mu.Lock()
	d.cfg = cfg.withDefaults()
	if loc != nil {
		d.loc = loc
	}
	d.mu.Unlock()
}

func (d *Dispatcher) snapshot() (Config, time.Time) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	// Triggers fire on the minute. Truncating keeps a Start reminder at
	// zero remaining instead of rolling to the next occurrence.
	return d.cfg, d.now().In(d.loc).Truncate(time.Minute)
}

// target loads the alert settings. A zero channel is ErrNotConfigured.
func (d *Dispatcher) target(ctx context.Context) (storage.Settings, error) {
	st, err := d.settings.LoadSettings(ctx)
	if err != nil {
		return storage.Settings{}, fmt.Errorf("load alert settings: %w", err)
	}
	if st.ReminderChannelID == 0 {
		return st, reminder.ErrNotConfigured
	}
	return st, nil
}

// Notify implements reminder.Dispatcher.
func (d *Dispatcher) Notify(ctx context.Context, def event.Definition, label string) error {
	st, err := d.target(ctx)
	if err != nil {
		return err
	}
	cfg, now := d.snapshot()
	embed := d.ReminderEmbed(cfg, def, label, now)

	_, err = d.sender.Send(ctx, kit.Notification{
		Channel:  cfg.Channel,
		Priority: 5,
		Target:   kit.ChatTarget{ChatID: st.ReminderChannelID},
		Options:  &kit.SendOptions{Embed: &embed, MentionRoleID: st.MentionRoleID},
		DedupKey: fmt.Sprintf("reminder|%s|%02d:%02d|%s|%s|%d", def.Name, def.Hour, def.Minute, def.Recurrence, label, now.Unix()),
	})
	if errors.Is(err, notifier.ErrDuplicate) {
		d.log.Debug("reminder already sent", logx.String("event", def.Name), logx.String("label", label))
		return nil
	}
	return err
}

// ReminderEmbed renders the per-trigger card.
func (d *Dispatcher) ReminderEmbed(cfg Config, def event.Definition, label string, now time.Time) kit.Embed {
	return kit.Embed{
		Title: fmt.Sprintf("%s Reminder (%s)", def.Name, label),
		Description: fmt.Sprintf("Scheduled for %s %s\nTime Remaining: %s",
			clock.FormatClock12h(def.Hour, def.Minute), cfg.ZoneLabel, clock.Until(def, now)),
		Color:    cfg.Color,
		Footer:   d.quote(cfg),
		ImageURL: bannerFor(cfg.Banners, def.Name),
	}
}

// SendSample posts the summary alert and returns the channel it went to.
func (d *Dispatcher) SendSample(ctx context.Context, events []event.Definition) (int64, error) {
	st, err := d.target(ctx)
	if err != nil {
		return 0, err
	}
	cfg, now := d.snapshot()
	embed := d.SampleEmbed(cfg, events, now)
	_, err = d.sender.Send(ctx, kit.Notification{
		Channel: cfg.Channel,
		Target:  kit.ChatTarget{ChatID: st.ReminderChannelID},
		Options: &kit.SendOptions{Embed: &embed, MentionRoleID: st.MentionRoleID},
		// Each request is delivered.
		DedupKey: fmt.Sprintf("sample|%d", d.now().UnixNano()),
	})
	if err != nil {
		return 0, err
	}
	return st.ReminderChannelID, nil
}

// SampleEmbed renders the summary: highlighted sections, then the world
// bosses starting within the window.
func (d *Dispatcher) SampleEmbed(cfg Config, events []event.Definition, now time.Time) kit.Embed {
	var b strings.Builder
	b.WriteString("📢 **ATTENTION**📢\n\n")
	for _, sec := range cfg.Sections {
		def, ok := firstMatch(events, sec.Match)
		if !ok {
			fmt.Fprintf(&b, "%s Schedule: Not set\n", sec.Title)
			continue
		}
		fmt.Fprintf(&b, "**%s Schedule**:\n%s at %s %s (Time Remaining: %s)\n",
			sec.Title, def.Recurrence, clock.FormatClock12h(def.Hour, def.Minute), cfg.ZoneLabel, clock.Until(def, now))
	}

	b.WriteString("\n---------------------------------------------\n\n**World Boss Timer**\n")
	var world []event.Definition
	for _, def := range events {
		if strings.Contains(def.Name, cfg.WorldBoss) {
			world = append(world, def)
		}
	}
	entries := reminder.Upcoming(world, cfg.Bosses, now, cfg.Window)
	if len(entries) == 0 {
		fmt.Fprintf(&b, "No world boss event is within the next %d minutes.\n", int(cfg.Window/time.Minute))
	}
	for _, e := range entries {
		fmt.Fprintf(&b, "- %s : %s at %s %s (Time Remaining: %s)\n",
			e.Event.Name, e.Event.Recurrence, clock.FormatClock12h(e.Event.Hour, e.Event.Minute), cfg.ZoneLabel, e.Remaining)
	}
	b.WriteString("\n")
	b.WriteString(d.quote(cfg))

	embed := kit.Embed{Title: SampleTitle, Description: b.String(), Color: cfg.Color}
	if len(cfg.Banners) > 0 {
		embed.ImageURL = cfg.Banners[0].URL
	}
	return embed
}

func (d *Dispatcher) quote(cfg Config) string {
	if len(cfg.Quotes) == 0 {
		return ""
	}
	return cfg.Quotes[d.pick(len(cfg.Quotes))]
}

func firstMatch(events []event.Definition, match string) (event.Definition, bool) {
	for _, def := range events {
		if strings.Contains(def.Name, match) {
			return def, true
		}
	}
	return event.Definition{}, false
}

func bannerFor(banners []Banner, name string) string {
	for _, b := range banners {
		if strings.Contains(name, b.Match) {
			return b.URL
		}
	}
	return ""
}
