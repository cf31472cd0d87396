package commands

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"l9alerts/internal/clock"
	"l9alerts/internal/event"
	"l9alerts/internal/reminder"
	"l9alerts/internal/storage"
	kit "l9alerts/internal/transport"
	logx "l9alerts/pkg/logx"
)

type chatAdapter struct {
	mu      sync.Mutex
	replies []string
	badChan int64
}

func (c *chatAdapter) Name() string                                   { return "discord" }
func (c *chatAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (c *chatAdapter) Stop(context.Context) error                     { return nil }
func (c *chatAdapter) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	c.mu.Lock()
	c.replies = append(c.replies, text)
	c.mu.Unlock()
	return kit.MessageRef{}, nil
}
func (c *chatAdapter) ChannelMention(id int64) string { return "<#" + itoa(id) + ">" }
func (c *chatAdapter) RoleMention(id int64) string    { return "<@&" + itoa(id) + ">" }
func (c *chatAdapter) ValidateChannel(_ context.Context, id int64) error {
	if id == c.badChan {
		return kit.ErrInvalidChannel
	}
	return nil
}

func (c *chatAdapter) last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.replies) == 0 {
		return ""
	}
	return c.replies[len(c.replies)-1]
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

type stubSampler struct {
	store *storage.Memory
}

func (s stubSampler) SendSample(ctx context.Context, _ []event.Definition) (int64, error) {
	st, _ := s.store.LoadSettings(ctx)
	if st.ReminderChannelID == 0 {
		return 0, reminder.ErrNotConfigured
	}
	return st.ReminderChannelID, nil
}

type stubJobs []reminder.ArmedJob

func (s stubJobs) Jobs() []reminder.ArmedJob { return s }

type harness struct {
	router *Router
	chat   *chatAdapter
	store  *storage.Memory
	reg    *reminder.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := storage.NewMemory()
	resched := reschedFunc(func([]event.Definition) error { return nil })
	reg, err := reminder.NewRegistry(event.Defaults(), store, resched, logx.Nop())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	chat := &chatAdapter{badChan: 404}
	r := New(Config{}, store, logx.Nop(), chat)
	next := time.Date(2024, 6, 1, 19, 45, 0, 0, clock.DefaultZone)
	r.Register(Handlers(Deps{
		Events:   reg,
		Jobs:     stubJobs{{Trigger: reminder.Plan(event.Defaults()[:1], 15)[0], Next: next}},
		Settings: store,
		Sampler:  stubSampler{store: store},
	})...)
	return &harness{router: r, chat: chat, store: store, reg: reg}
}

type reschedFunc func([]event.Definition) error

func (f reschedFunc) Reschedule(evs []event.Definition) error { return f(evs) }

func (h *harness) run(t *testing.T, text string, admin bool) (string, error) {
	t.Helper()
	err := h.router.Execute(context.Background(), &kit.Message{ChatID: 1, GuildID: 2, FromID: 3, FromName: "op", Text: text, IsAdmin: admin, Transport: "discord"})
	return h.chat.last(), err
}

func TestParse(t *testing.T) {
	t.Parallel()

	r := New(Config{}, nil, logx.Nop())
	tests := []struct {
		in   string
		name string
		args []string
		ok   bool
	}{
		{"!l9 schedule", "schedule", nil, true},
		{"!L9   edit 1 20:30 Sunday", "edit", []string{"1", "20:30", "Sunday"}, true},
		{"/jobs@L9Bot", "jobs", nil, true},
		{"!l9", "help", nil, true},
		{"!l9schedule", "", nil, false},
		{"hello there", "", nil, false},
	}
	for _, tc := range tests {
		name, args, ok := r.Parse(tc.in)
		if ok != tc.ok || name != tc.name || strings.Join(args, "|") != strings.Join(tc.args, "|") {
			t.Fatalf("%q: got %q %q %v", tc.in, name, args, ok)
		}
	}
}

func TestSchedule(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	got, err := h.run(t, "!l9 schedule", false)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	want := "**Event Schedule:**\n" +
		"1. **Guild Boss**: Saturday at 8:00 PM GMT+8\n" +
		"2. **Garbana Dungeon**: Saturday at 8:00 PM GMT+8\n" +
		"3. **World Boss: Ratan, Parto, Nedra**: Everyday at 11:00 AM GMT+8\n" +
		"4. **World Boss: Ratan, Parto, Nedra**: Everyday at 8:00 PM GMT+8"
	if got != want {
		t.Fatalf("got %q", got)
	}
}

func TestEdit(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	got, err := h.run(t, "!l9 edit 1 21:30 Sunday", true)
	if err != nil || got != "Updated Guild Boss to 21:30 Sunday." {
		t.Fatalf("edit: %q %v", got, err)
	}
	if def := h.reg.List()[0]; def.Recurrence != event.Sunday || def.Hour != 21 || def.Minute != 30 {
		t.Fatalf("registry not updated: %+v", def)
	}
	audit := h.store.Audit()
	if len(audit) != 1 || audit[0].Action != "edit" || !audit[0].OK || audit[0].Target != "event:1" {
		t.Fatalf("audit %+v", audit)
	}

	tests := []struct {
		in   string
		want string
	}{
		{"!l9 edit 1 25:00", MsgInvalidTime},
		{"!l9 edit 1 ab", MsgInvalidTime},
		{"!l9 edit 1 20:00 Funday", msgInvalidDay()},
		{"!l9 edit 1 20:00 Everyday", msgInvalidDay()},
		{"!l9 edit 3 12:00 Monday", "Cannot change the day: World Boss: Ratan, Parto, Nedra runs Everyday; its day cannot be changed."},
		{"!l9 edit 9 12:00", "Invalid event number: 9 out of range 1-4."},
	}
	for _, tc := range tests {
		got, err := h.run(t, tc.in, true)
		if err == nil || got != tc.want {
			t.Fatalf("%q: got %q (%v)", tc.in, got, err)
		}
	}
	// The Everyday event may still change its time.
	if got, err := h.run(t, "!l9 edit 3 12:15", true); err != nil || got != "Updated World Boss: Ratan, Parto, Nedra to 12:15 Everyday." {
		t.Fatalf("everyday time edit: %q %v", got, err)
	}
}

func TestAdminOnly(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	got, err := h.run(t, "!l9 setchannel 123", false)
	if !errors.Is(err, ErrForbidden) || got != MsgForbidden {
		t.Fatalf("got %q %v", got, err)
	}
	if st, _ := h.store.LoadSettings(context.Background()); st.ReminderChannelID != 0 {
		t.Fatalf("forbidden command changed settings")
	}
	if a := h.store.Audit(); len(a) != 1 || a[0].OK || a[0].Error != "forbidden" {
		t.Fatalf("denied command should be audited: %+v", a)
	}
}

func TestAlertSettings(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	if got, _ := h.run(t, "!l9 samplealert", false); got != MsgInvalidChannel {
		t.Fatalf("sample without channel: %q", got)
	}
	if got, err := h.run(t, "!l9 setchannel <#404>", true); err == nil || got != "Error: The selected channel is not a text channel." {
		t.Fatalf("bad channel: %q %v", got, err)
	}
	if got, err := h.run(t, "!l9 setchannel <#555>", true); err != nil || got != "Reminder channel set to <#555>" {
		t.Fatalf("setchannel: %q %v", got, err)
	}
	if got, err := h.run(t, "!l9 setrole <@&777>", true); err != nil || got != "Role to mention set to <@&777>" {
		t.Fatalf("setrole: %q %v", got, err)
	}
	if st, _ := h.store.LoadSettings(ctx); st.ReminderChannelID != 555 || st.MentionRoleID != 777 {
		t.Fatalf("settings %+v", st)
	}
	if got, _ := h.run(t, "!l9 setrole", true); got != MsgRoleRemoved {
		t.Fatalf("clear role: %q", got)
	}
	if got, err := h.run(t, "!l9 setalert 600", true); err != nil || got != "Alert channel set to <#600>. Role mention set to None." {
		t.Fatalf("setalert: %q %v", got, err)
	}
	if got, err := h.run(t, "!l9 setalert 600 888", true); err != nil || got != "Alert channel set to <#600>. Role mention set to <@&888>." {
		t.Fatalf("setalert with role: %q %v", got, err)
	}
	if got, err := h.run(t, "!l9 samplealert", false); err != nil || got != "Sample daily reminder sent to <#600>." {
		t.Fatalf("sample: %q %v", got, err)
	}
	if got, _ := h.run(t, "!l9 setchannel abc", true); got != "Error: Channel ID must be a number." {
		t.Fatalf("non-numeric channel: %q", got)
	}
}

// slowSettings widens the gap between a settings load and its save.
type slowSettings struct {
	*storage.Memory
}

func (s slowSettings) LoadSettings(ctx context.Context) (storage.Settings, error) {
	st, err := s.Memory.LoadSettings(ctx)
	time.Sleep(time.Millisecond)
	return st, err
}

func TestConcurrentSettingsKeepBothFields(t *testing.T) {
	t.Parallel()

	store := storage.NewMemory()
	chat := &chatAdapter{badChan: 404}
	r := New(Config{}, store, logx.Nop(), chat)
	r.Register(Handlers(Deps{Settings: slowSettings{store}})...)

	exec := func(text string) {
		msg := &kit.Message{ChatID: 1, GuildID: 2, FromID: 3, FromName: "op", Text: text, IsAdmin: true, Transport: "discord"}
		if err := r.Execute(context.Background(), msg); err != nil {
			t.Errorf("%s: %v", text, err)
		}
	}
	for i := 0; i < 20; i++ {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); exec("!l9 setchannel <#555>") }()
		go func() { defer wg.Done(); exec("!l9 setrole <@&777>") }()
		wg.Wait()

		st, err := store.LoadSettings(context.Background())
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if st.ReminderChannelID != 555 || st.MentionRoleID != 777 {
			t.Fatalf("round %d: settings %+v", i, st)
		}
		if err := store.SaveSettings(context.Background(), storage.Settings{}); err != nil {
			t.Fatalf("reset: %v", err)
		}
	}
}

func TestJobsAndHelp(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	got, err := h.run(t, "!l9 jobs", true)
	if err != nil || got != "**Armed reminders (1):**\n- Guild Boss (15 min before): Sat 2024-06-01 19:45 GMT+8" {
		t.Fatalf("jobs: %q %v", got, err)
	}

	got, _ = h.run(t, "!l9 help", false)
	if strings.Contains(got, "setchannel") || !strings.Contains(got, "`!l9 schedule` - show the event schedule") {
		t.Fatalf("member help: %q", got)
	}
	got, _ = h.run(t, "!l9 h", true)
	if !strings.Contains(got, "`!l9 edit <number> <HH:MM> [weekday]` - change an event time (admin)") {
		t.Fatalf("admin help: %q", got)
	}
	if got, _ := h.run(t, "!l9 dance", false); got != "Unknown command. Try `!l9 help`." {
		t.Fatalf("unknown: %q", got)
	}
}

func TestParseID(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]int64{"123": 123, "<#123>": 123, "<@&45>": 45, "<@!6>": 6, "#7": 7} {
		got, err := parseID(in)
		if err != nil || got != want {
			t.Fatalf("%q: got %d %v", in, got, err)
		}
	}
	for _, in := range []string{"", "abc", "<#>", "-5"} {
		if _, err := parseID(in); err == nil {
			t.Fatalf("%q should fail", in)
		}
	}
}
