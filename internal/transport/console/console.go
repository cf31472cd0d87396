// Package console is a local transport: commands are read line by line and
// messages are printed. Every console user is an admin.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"

	rtsup "l9alerts/internal/runtime/supervisor"
	kit "l9alerts/internal/transport"
	logx "l9alerts/pkg/logx"
)

// ChatID is the chat console input is attributed to.
const ChatID int64 = 1

type Adapter struct {
	in  io.Reader
	out io.Writer
	log logx.Logger

	wmu sync.Mutex
	seq atomic.Int64

	runMu sync.Mutex
	sup   *rtsup.Supervisor
}

func New(in io.Reader, out io.Writer, log logx.Logger) *Adapter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{in: in, out: out, log: log.With(logx.String("comp", "console"))}
}

func (a *Adapter) Name() string { return "console" }

func (a *Adapter) ChannelMention(id int64) string { return fmt.Sprintf("#%d", id) }
func (a *Adapter) RoleMention(id int64) string    { return fmt.Sprintf("@%d", id) }

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.sup != nil {
		return nil
	}
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(false))
	a.sup.Go0("console.read", func(c context.Context) {
		sc := bufio.NewScanner(a.in)
		for sc.Scan() {
			msg := &kit.Message{
				ID:        strconv.FormatInt(a.seq.Add(1), 10),
				ChatID:    ChatID,
				FromID:    1,
				FromName:  "console",
				Text:      sc.Text(),
				IsAdmin:   true,
				Transport: a.Name(),
			}
			select {
			case out <- kit.Update{Kind: kit.UpdateMessage, Message: msg}:
			case <-c.Done():
				return
			}
		}
		if err := sc.Err(); err != nil {
			a.log.Warn("console input closed", logx.Err(err))
		}
	})
	return nil
}

// Stop does not wait for the reader, which may be blocked on input.
func (a *Adapter) Stop(context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	a.runMu.Unlock()
	if sup != nil {
		sup.Cancel()
	}
	return nil
}

func (a *Adapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	var (
		embed   *kit.Embed
		mention string
	)
	if opt != nil {
		embed = opt.Embed
		if opt.MentionRoleID != 0 {
			mention = a.RoleMention(opt.MentionRoleID)
		}
	}
	body := kit.RenderText(kit.StripBold(text), embed, mention, false)

	a.wmu.Lock()
	defer a.wmu.Unlock()
	if _, err := fmt.Fprintf(a.out, "[%d] %s\n", to.ChatID, body); err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: strconv.FormatInt(a.seq.Add(1), 10)}, nil
}

// ValidateChannel accepts any non-zero id.
func (a *Adapter) ValidateChannel(_ context.Context, chatID int64) error {
	if chatID == 0 {
		return kit.ErrInvalidChannel
	}
	return nil
}
