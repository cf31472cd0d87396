// Package telegram is the secondary chat transport, built on telebot. The
// reminder embeds have no Telegram equivalent and are sent as HTML text.
package telegram

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "l9alerts/internal/runtime/supervisor"
	kit "l9alerts/internal/transport"
	logx "l9alerts/pkg/logx"
)

const (
	DefaultPollTimeout = 10 * time.Second

	// stopGrace bounds how long Stop waits for an in-flight long poll.
	stopGrace = 2 * time.Second
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	AdminIDs    []int64 // may run admin commands
}

type Adapter struct {
	cfg   Config
	log   logx.Logger
	bot   *tele.Bot
	inbox kit.Inbox

	mu  sync.Mutex
	sup *rtsup.Supervisor // non-nil while started

	menuMu  sync.Mutex
	menuSum uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram: token is empty")
	}
	poll := cfg.PollTimeout
	if poll <= 0 {
		poll = DefaultPollTimeout
	}
	bot, err := tele.NewBot(tele.Settings{Token: cfg.Token, Poller: &tele.LongPoller{Timeout: poll}})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log.With(logx.String("comp", "telegram")), bot: bot}
	bot.Handle(tele.OnText, a.onText)
	return a, nil
}

func (a *Adapter) Name() string { return "telegram" }

func (a *Adapter) onText(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Chat == nil {
		return nil
	}
	msg := &kit.Message{ID: strconv.Itoa(m.ID), ChatID: m.Chat.ID, Text: m.Text, Transport: a.Name()}
	if u := m.Sender; u != nil {
		msg.FromID, msg.FromName = u.ID, u.Username
		msg.IsAdmin = isAdmin(u.ID, a.cfg.AdminIDs)
	}
	a.inbox.Put(kit.Update{Kind: kit.UpdateMessage, Message: msg})
	return nil
}

func isAdmin(id int64, admins []int64) bool { return slices.Contains(admins, id) }

// Start begins long polling. bot.Start blocks until bot.Stop, so an early
// return while ctx is live is treated as a crash and restarted.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sup != nil {
		return nil
	}
	a.inbox.Attach(out)
	sup := rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(false))
	a.sup = sup

	sup.Go0("inbox.drops", func(c context.Context) { a.inbox.ReportDrops(c, a.log) })
	sup.Go0("poll.stop", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	sup.GoRestart("poll", func(context.Context) error {
		a.log.Info("long polling")
		a.bot.Start()
		a.log.Info("long polling ended")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

// Stop cancels polling and waits at most stopGrace (or ctx) for it to end.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	sup := a.sup
	a.sup = nil
	a.inbox.Detach()
	a.mu.Unlock()
	if sup == nil {
		return nil
	}

	sup.Cancel()
	wctx, cancel := context.WithTimeout(ctx, stopGrace)
	defer cancel()
	switch err := sup.Wait(wctx); {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		a.log.Warn("polling did not stop in time", logx.Err(err))
	default:
		a.log.Debug("polling stopped with error", logx.Err(err))
	}
	return nil
}

// ValidateChannel asks Telegram whether the bot can see the chat.
func (a *Adapter) ValidateChannel(_ context.Context, chatID int64) error {
	if _, err := a.bot.ChatByID(chatID); err != nil {
		return errors.Join(kit.ErrInvalidChannel, err)
	}
	return nil
}
