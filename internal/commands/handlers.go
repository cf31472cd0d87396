package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"l9alerts/internal/clock"
	"l9alerts/internal/event"
	"l9alerts/internal/reminder"
	"l9alerts/internal/storage"
	kit "l9alerts/internal/transport"
)

const (
	MsgInvalidTime    = "Invalid time. Please enter valid hour (0-23) and minute (0-59)."
	MsgInvalidChannel = "Configured channel is invalid. Please set a valid text channel."
	MsgRoleRemoved    = "Role mention removed."
)

func msgInvalidDay() string {
	names := make([]string, 0, len(event.Weekdays))
	for _, d := range event.Weekdays {
		names = append(names, d.String())
	}
	return "Invalid day. Please enter one of: " + strings.Join(names, ", ") + "."
}

// Events is the registry surface the handlers use.
type Events interface {
	List() []event.Definition
	Edit(ctx context.Context, index, hour, minute int, day *event.Recurrence) (event.Definition, error)
}

type JobLister interface {
	Jobs() []reminder.ArmedJob
}

type Settings interface {
	LoadSettings(ctx context.Context) (storage.Settings, error)
	SaveSettings(ctx context.Context, s storage.Settings) error
}

type Sampler interface {
	SendSample(ctx context.Context, events []event.Definition) (int64, error)
}

type Deps struct {
	Events   Events
	Jobs     JobLister
	Settings Settings
	Sampler  Sampler
	// ZoneLabel and Location follow config reloads.
	ZoneLabel func() string
	Location  func() *time.Location

	// settingsMu serializes settings read-modify-write across handlers.
	settingsMu *sync.Mutex
}

func (d Deps) zone() string {
	if d.ZoneLabel == nil {
		return "GMT+8"
	}
	return d.ZoneLabel()
}

func (d Deps) loc() *time.Location {
	if d.Location == nil {
		return clock.DefaultZone
	}
	return d.Location()
}

// Handlers returns the reminder command set.
func Handlers(d Deps) []Command {
	if d.settingsMu == nil {
		d.settingsMu = new(sync.Mutex)
	}
	return []Command{
		{Name: "schedule", Aliases: []string{"events"}, Description: "show the event schedule", Handle: d.schedule},
		{Name: "edit", Usage: "<number> <HH:MM> [weekday]", Description: "change an event time", Access: AccessAdmin, Mutating: true, Handle: d.edit},
		{Name: "setchannel", Usage: "<#channel>", Description: "set the reminder channel", Access: AccessAdmin, Mutating: true, Handle: d.setChannel},
		{Name: "setrole", Usage: "[@role]", Description: "set or clear the role to mention", Access: AccessAdmin, Mutating: true, Handle: d.setRole},
		{Name: "setalert", Usage: "<#channel> [@role]", Description: "set channel and role together", Access: AccessAdmin, Mutating: true, Handle: d.setAlert},
		{Name: "samplealert", Aliases: []string{"sample"}, Description: "send a sample alert to the reminder channel", Handle: d.sampleAlert},
		{Name: "jobs", Description: "list armed reminders", Access: AccessAdmin, Handle: d.jobs},
	}
}

func (d Deps) schedule(ctx context.Context, req *Request) error {
	lines := []string{"**Event Schedule:**"}
	for i, def := range d.Events.List() {
		lines = append(lines, fmt.Sprintf("%d. **%s**: %s at %s %s", i+1, def.Name, def.Recurrence, clock.FormatClock12h(def.Hour, def.Minute), d.zone()))
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

func (d Deps) edit(ctx context.Context, req *Request) error {
	if len(req.Args) < 2 || len(req.Args) > 3 {
		return req.Reply(ctx, "Usage: edit <number> <HH:MM> [weekday]")
	}
	n, err := strconv.Atoi(req.Args[0])
	if err != nil {
		return replyErr(ctx, req, fmt.Sprintf("Invalid event number %q. Use `schedule` to see the list.", req.Args[0]), err)
	}
	hour, minute, err := parseClock(req.Args[1])
	if err != nil {
		return replyErr(ctx, req, MsgInvalidTime, err)
	}
	var day *event.Recurrence
	if len(req.Args) == 3 {
		r, perr := event.ParseRecurrence(req.Args[2])
		if perr != nil || !r.IsWeekday() {
			return replyErr(ctx, req, msgInvalidDay(), errors.Join(event.ErrInvalid, perr))
		}
		day = &r
	}
	req.SetTarget(fmt.Sprintf("event:%d", n))

	def, err := d.Events.Edit(ctx, n-1, hour, minute, day)
	if err != nil {
		var ve *reminder.ValidationError
		if errors.As(err, &ve) {
			return replyErr(ctx, req, validationMessage(ve), err)
		}
		if def.Name != "" {
			// Saved, but re-arming failed; the previous jobs stay armed.
			return replyErr(ctx, req, fmt.Sprintf("Updated %s to %s %s, but reminders could not be rescheduled: %v", def.Name, def.Clock(), def.Recurrence, err), err)
		}
		return replyErr(ctx, req, "Could not save the change: "+err.Error(), err)
	}
	return req.Reply(ctx, fmt.Sprintf("Updated %s to %s %s.", def.Name, def.Clock(), def.Recurrence))
}

func validationMessage(ve *reminder.ValidationError) string {
	switch ve.Field {
	case "hour", "minute":
		return MsgInvalidTime
	case "index":
		return "Invalid event number: " + ve.Reason + "."
	case "day":
		if strings.Contains(ve.Reason, "cannot be changed") {
			return "Cannot change the day: " + ve.Reason + "."
		}
		return msgInvalidDay()
	default:
		return "Invalid input: " + ve.Error()
	}
}

// parseClock accepts "H:MM"/"HH:MM".
func parseClock(s string) (int, int, error) {
	hs, ms, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, &reminder.ValidationError{Field: "minute", Reason: "expected HH:MM"}
	}
	h, err1 := strconv.Atoi(hs)
	m, err2 := strconv.Atoi(ms)
	if err1 != nil || err2 != nil {
		return 0, 0, &reminder.ValidationError{Field: "hour", Reason: "expected HH:MM"}
	}
	if err := event.ValidateClock(h, m); err != nil {
		return 0, 0, err
	}
	return h, m, nil
}

func (d Deps) setChannel(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return req.Reply(ctx, "Usage: setchannel <#channel>")
	}
	id, err := d.checkChannel(ctx, req, req.Args[0])
	if err != nil {
		return err
	}
	req.SetTarget(fmt.Sprintf("channel:%d", id))
	if err := d.updateSettings(ctx, func(s *storage.Settings) { s.ReminderChannelID = id }); err != nil {
		return replyErr(ctx, req, "Could not save the channel: "+err.Error(), err)
	}
	return req.Reply(ctx, "Reminder channel set to "+kit.ChannelMention(req.Adapter, id))
}

func (d Deps) setRole(ctx context.Context, req *Request) error {
	if len(req.Args) > 1 {
		return req.Reply(ctx, "Usage: setrole [@role]")
	}
	var id int64
	if len(req.Args) == 1 {
		var err error
		if id, err = d.checkRole(ctx, req, req.Args[0]); err != nil {
			return err
		}
	}
	req.SetTarget(fmt.Sprintf("role:%d", id))
	if err := d.updateSettings(ctx, func(s *storage.Settings) { s.MentionRoleID = id }); err != nil {
		return replyErr(ctx, req, "Could not save the role: "+err.Error(), err)
	}
	if id == 0 {
		return req.Reply(ctx, MsgRoleRemoved)
	}
	return req.Reply(ctx, "Role to mention set to "+kit.RoleMention(req.Adapter, id))
}

func (d Deps) setAlert(ctx context.Context, req *Request) error {
	if len(req.Args) < 1 || len(req.Args) > 2 {
		return req.Reply(ctx, "Usage: setalert <#channel> [@role]")
	}
	ch, err := d.checkChannel(ctx, req, req.Args[0])
	if err != nil {
		return err
	}
	var role int64
	if len(req.Args) == 2 {
		if role, err = d.checkRole(ctx, req, req.Args[1]); err != nil {
			return err
		}
	}
	req.SetTarget(fmt.Sprintf("channel:%d role:%d", ch, role))
	if err := d.updateSettings(ctx, func(s *storage.Settings) {
		s.ReminderChannelID = ch
		s.MentionRoleID = role
	}); err != nil {
		return replyErr(ctx, req, "Could not save the alert settings: "+err.Error(), err)
	}
	roleText := "None"
	if role != 0 {
		roleText = kit.RoleMention(req.Adapter, role)
	}
	return req.Reply(ctx, fmt.Sprintf("Alert channel set to %s. Role mention set to %s.", kit.ChannelMention(req.Adapter, ch), roleText))
}

func (d Deps) sampleAlert(ctx context.Context, req *Request) error {
	ch, err := d.Sampler.SendSample(ctx, d.Events.List())
	if err != nil {
		if errors.Is(err, reminder.ErrNotConfigured) || kit.IsPermanent(err) {
			return replyErr(ctx, req, MsgInvalidChannel, err)
		}
		return replyErr(ctx, req, "Could not send the sample alert: "+err.Error(), err)
	}
	return req.Reply(ctx, fmt.Sprintf("Sample daily reminder sent to %s.", kit.ChannelMention(req.Adapter, ch)))
}

func (d Deps) jobs(ctx context.Context, req *Request) error {
	jobs := d.Jobs.Jobs()
	if len(jobs) == 0 {
		return req.Reply(ctx, "No reminders are armed.")
	}
	loc := d.loc()
	lines := []string{fmt.Sprintf("**Armed reminders (%d):**", len(jobs))}
	for _, j := range jobs {
		next := "-"
		if !j.Next.IsZero() {
			next = j.Next.In(loc).Format("Mon 2006-01-02 15:04")
		}
		lines = append(lines, fmt.Sprintf("- %s (%s): %s %s", j.Event.Name, j.Label, next, d.zone()))
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}

func (d Deps) checkChannel(ctx context.Context, req *Request, arg string) (int64, error) {
	id, err := parseID(arg)
	if err != nil {
		return 0, replyErr(ctx, req, "Error: Channel ID must be a number.", err)
	}
	if v, ok := req.Adapter.(kit.ChannelValidator); ok {
		if err := v.ValidateChannel(ctx, id); err != nil {
			return 0, replyErr(ctx, req, "Error: The selected channel is not a text channel.", err)
		}
	}
	return id, nil
}

func (d Deps) checkRole(ctx context.Context, req *Request, arg string) (int64, error) {
	id, err := parseID(arg)
	if err != nil {
		return 0, replyErr(ctx, req, "Error: Role ID must be a number.", err)
	}
	if v, ok := req.Adapter.(kit.RoleValidator); ok && req.Msg.GuildID != 0 {
		if err := v.ValidateRole(ctx, req.Msg.GuildID, id); err != nil {
			return 0, replyErr(ctx, req, "Error: The selected role does not exist.", err)
		}
	}
	return id, nil
}

func (d Deps) updateSettings(ctx context.Context, fn func(*storage.Settings)) error {
	d.settingsMu.Lock()
	defer d.settingsMu.Unlock()
	st, err := d.Settings.LoadSettings(ctx)
	if err != nil {
		return err
	}
	fn(&st)
	return d.Settings.SaveSettings(ctx, st)
}

// parseID accepts a bare id or a <#id>, <@&id> or <@id> mention.
func parseID(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "<") && strings.HasSuffix(s, ">") {
		s = strings.TrimLeft(s[1:len(s)-1], "#@&!")
	} else {
		s = strings.TrimLeft(s, "#@")
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

// replyErr answers with msg and returns err for logging and audit.
func replyErr(ctx context.Context, req *Request, msg string, err error) error {
	if rerr := req.Reply(ctx, msg); rerr != nil {
		return errors.Join(err, rerr)
	}
	return err
}
