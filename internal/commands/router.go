// Package commands parses prefixed chat messages and runs the operator
// commands on a bounded worker pool.
package commands

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	rtsup "l9alerts/internal/runtime/supervisor"
	kit "l9alerts/internal/transport"
	logx "l9alerts/pkg/logx"
)

const DefaultPrefix = "!l9"

// MsgForbidden is the reply to a non-admin running an admin command.
const MsgForbidden = "You do not have permission to use this command."

var ErrForbidden = errors.New("forbidden")

type Access int

const (
	AccessEveryone Access = iota
	AccessAdmin
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	// Mutating commands are written to the audit log.
	Mutating bool
	Timeout  time.Duration
	Handle   HandlerFunc
}

type Request struct {
	Msg     kit.Message
	Chat    kit.ChatTarget
	Command string
	Args    []string
	ReqID   string
	Logger  logx.Logger
	Adapter kit.Adapter

	target string
}

// Reply answers in the chat the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	if r.Adapter == nil {
		return errors.New("no adapter for reply")
	}
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// SetTarget names the object a mutating command changed, for the audit log.
func (r *Request) SetTarget(t string) { r.target = t }

type Config struct {
	Prefix    string
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

func (c Config) withDefaults() Config {
	c.Prefix = strings.TrimSpace(c.Prefix)
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	return c
}

type Router struct {
	mu       sync.RWMutex
	cfg      Config
	cmds     map[string]*Command
	alias    map[string]*Command
	order    []string
	adapters map[string]kit.Adapter

	audit Auditor
	log   logx.Logger

	jobs chan func()
}

func New(cfg Config, audit Auditor, log logx.Logger, adapters ...kit.Adapter) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	r := &Router{
		cfg:      cfg,
		cmds:     map[string]*Command{},
		alias:    map[string]*Command{},
		adapters: map[string]kit.Adapter{},
		audit:    audit,
		log:      log.With(logx.String("comp", "commands")),
		jobs:     make(chan func(), cfg.QueueSize),
	}
	for _, a := range adapters {
		if a != nil {
			r.adapters[a.Name()] = a
		}
	}
	return r
}

// SetPrefix changes the command prefix on config reload.
func (r *Router) SetPrefix(p string) {
	p = strings.TrimSpace(p)
	if p == "" {
		p = DefaultPrefix
	}
	r.mu.Lock()
	r.cfg.Prefix = p
	r.mu.Unlock()
}

func (r *Router) Prefix() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.Prefix
}

// Register replaces the command set. help is always added.
func (r *Router) Register(cmds ...Command) {
	cmds = append(cmds, Command{
		Name:        "help",
		Aliases:     []string{"h"},
		Description: "list commands",
		Access:      AccessEveryone,
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, r.helpText(req.Msg.IsAdmin))
		},
	})

	byName := map[string]*Command{}
	alias := map[string]*Command{}
	order := make([]string, 0, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		cc := c
		cc.Name = name
		if _, dup := byName[name]; !dup {
			order = append(order, name)
		}
		byName[name] = &cc
		for _, a := range c.Aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				alias[a] = &cc
			}
		}
	}

	r.mu.Lock()
	r.cmds = byName
	r.alias = alias
	r.order = order
	r.mu.Unlock()
}

// Commands returns the registered commands in registration order.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, *r.cmds[n])
	}
	return out
}

// PublishMenu pushes the command list to adapters with a native menu.
func (r *Router) PublishMenu(ctx context.Context) {
	var menu []kit.BotCommand
	for _, c := range r.Commands() {
		menu = append(menu, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	r.mu.RLock()
	adapters := make([]kit.Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		adapters = append(adapters, a)
	}
	r.mu.RUnlock()
	for _, a := range adapters {
		if mp, ok := a.(kit.MenuPublisher); ok {
			cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := mp.UpdateMenuCommands(cctx, menu); err != nil {
				r.log.Warn("menu update failed", logx.String("transport", a.Name()), logx.Err(err))
			}
			cancel()
		}
	}
}

// Parse splits "<prefix> name args..." or "/name args...". ok is false for
// messages that are not commands.
func (r *Router) Parse(text string) (name string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	prefix := r.Prefix()

	var rest string
	switch {
	case strings.HasPrefix(text, "/"):
		rest = text[1:]
	case len(text) >= len(prefix) && strings.EqualFold(text[:len(prefix)], prefix):
		rest = text[len(prefix):]
		// "!l9schedule" is someone else's command.
		if rest != "" && !isSpace(rest[0]) {
			return "", nil, false
		}
	default:
		return "", nil, false
	}

	parts := strings.Fields(rest)
	if len(parts) == 0 {
		return "help", nil, true
	}
	name = strings.ToLower(parts[0])
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return name, parts[1:], true
}

func isSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\n' }

func (r *Router) lookup(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.cmds[name]; ok {
		return c, true
	}
	c, ok := r.alias[name]
	return c, ok
}

// Execute runs msg on the caller's goroutine. Non-command messages return
// nil without a reply.
func (r *Router) Execute(ctx context.Context, msg *kit.Message) error {
	if msg == nil {
		return nil
	}
	name, args, ok := r.Parse(msg.Text)
	if !ok {
		return nil
	}

	r.mu.RLock()
	ad := r.adapters[msg.Transport]
	timeout := r.cfg.Timeout
	r.mu.RUnlock()

	rid := newReqID()
	req := &Request{
		Msg:     *msg,
		Chat:    kit.ChatTarget{ChatID: msg.ChatID},
		Command: name,
		Args:    args,
		ReqID:   rid,
		Adapter: ad,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.String("transport", msg.Transport),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", name),
		),
	}

	cmd, ok := r.lookup(name)
	if !ok {
		// Slash text may belong to another bot.
		if strings.HasPrefix(strings.TrimSpace(msg.Text), "/") {
			return nil
		}
		return req.Reply(ctx, fmt.Sprintf("Unknown command. Try `%s help`.", r.Prefix()))
	}
	req.Command = cmd.Name

	h := cmd.Handle
	if cmd.Access == AccessAdmin {
		h = requireAdmin(h)
	}
	mws := []Middleware{Recover(), LogRequest()}
	if cmd.Mutating {
		mws = append(mws, Audit(r.audit))
	}
	if cmd.Timeout > 0 {
		timeout = cmd.Timeout
	}
	mws = append(mws, Deadline(timeout))
	return Chain(h, mws...)(ctx, req)
}

func requireAdmin(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		if !req.Msg.IsAdmin {
			_ = req.Reply(ctx, MsgForbidden)
			return ErrForbidden
		}
		return next(ctx, req)
	}
}

// Run dispatches updates to the worker pool until ctx is done or updates
// is closed.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(r.log), rtsup.WithCancelOnError(false))
	r.log.Info("command dispatcher started", logx.Int("workers", r.cfg.Workers), logx.Int("job_queue_cap", cap(r.jobs)))

	for i := 0; i < r.cfg.Workers; i++ {
		idx := i
		sup.GoRestart(fmt.Sprintf("command.worker.%d", idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					func() {
						defer func() {
							if p := recover(); p != nil {
								r.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", p), logx.Stack(string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind != kit.UpdateMessage || up.Message == nil {
				continue
			}
			if _, _, isCmd := r.Parse(up.Message.Text); !isCmd {
				continue
			}
			msg := up.Message
			select {
			case r.jobs <- func() { _ = r.Execute(sup.Context(), msg) }:
			default:
				r.log.Warn("command queue full", logx.String("transport", msg.Transport))
				r.replyBusy(ctx, msg)
			}
		}
	}
}

func (r *Router) replyBusy(ctx context.Context, msg *kit.Message) {
	r.mu.RLock()
	ad := r.adapters[msg.Transport]
	r.mu.RUnlock()
	if ad != nil {
		_, _ = ad.SendText(ctx, kit.ChatTarget{ChatID: msg.ChatID}, "Busy, try again.", nil)
	}
}

func (r *Router) helpText(admin bool) string {
	prefix := r.Prefix()
	cmds := r.Commands()
	sort.SliceStable(cmds, func(i, j int) bool { return cmds[i].Access < cmds[j].Access })

	var b strings.Builder
	b.WriteString("**Commands:**\n")
	for _, c := range cmds {
		if c.Access == AccessAdmin && !admin {
			continue
		}
		usage := c.Name
		if c.Usage != "" {
			usage = c.Name + " " + c.Usage
		}
		fmt.Fprintf(&b, "`%s %s` - %s", prefix, usage, c.Description)
		if c.Access == AccessAdmin {
			b.WriteString(" (admin)")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func newReqID() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}
