package telegram

import (
	"context"
	"errors"
	"hash/fnv"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "l9alerts/internal/transport"
	logx "l9alerts/pkg/logx"
)

const (
	textLimit       = 4000
	menuLimit       = 100
	menuDescription = 256
)

// SendText sends text as one or more messages and returns the first.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	body, mode := render(text, opt)
	chat := &tele.Chat{ID: to.ChatID}
	send := &tele.SendOptions{ParseMode: mode, DisableWebPagePreview: opt.DisablePreview}

	var ref kit.MessageRef
	for _, part := range splitText(body, textLimit, mode) {
		if err := ctx.Err(); err != nil {
			return ref, err
		}
		m, err := a.bot.Send(chat, part, send)
		if err != nil {
			return ref, classify(err)
		}
		if ref.MessageID == "" {
			ref = kit.MessageRef{ChatID: to.ChatID, MessageID: strconv.Itoa(m.ID)}
		}
	}
	return ref, nil
}

// render turns an embed or a role ping into HTML. Plain text keeps the
// caller's parse mode, minus the **bold** markers Telegram would print.
func render(text string, opt *kit.SendOptions) (string, tele.ParseMode) {
	if opt.Embed == nil && opt.MentionRoleID == 0 {
		if opt.ParseMode == "" {
			return kit.StripBold(text), ""
		}
		return text, opt.ParseMode
	}
	var mention string
	if opt.MentionRoleID != 0 {
		mention = kit.RoleMention(nil, opt.MentionRoleID)
	}
	return kit.RenderText(text, opt.Embed, mention, true), tele.ModeHTML
}

// splitText cuts s into parts of at most limit runes, preferring a newline
// in the last two thirds of a part. In HTML mode a cut never lands inside a
// tag.
func splitText(s string, limit int, mode string) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	html := strings.EqualFold(mode, tele.ModeHTML)

	var parts []string
	for len(rs) > 0 {
		cut := len(rs)
		if cut > limit {
			cut = limit
			if nl := lastIndex(rs[:cut], '\n'); nl >= limit/3 {
				cut = nl + 1
			}
			if html {
				if lt := lastIndex(rs[:cut], '<'); lt > 1 && lt > lastIndex(rs[:cut], '>') {
					cut = lt
				}
			}
		}
		parts = append(parts, strings.TrimRight(string(rs[:cut]), "\n"))
		rs = rs[cut:]
		for len(rs) > 0 && rs[0] == '\n' {
			rs = rs[1:]
		}
	}
	return parts
}

func lastIndex(rs []rune, r rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i] == r {
			return i
		}
	}
	return -1
}

// UpdateMenuCommands publishes the bot's command menu. An unchanged list is
// not resent.
func (a *Adapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	list := make([]tele.Command, 0, min(len(cmds), menuLimit))
	h := fnv.New64a()
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		if len(list) == menuLimit {
			break
		}
		desc := c.Description
		if desc == "" {
			desc = c.Command
		}
		desc = desc[:min(len(desc), menuDescription)]
		h.Write([]byte(c.Command + "\x00" + desc + "\x00"))
		list = append(list, tele.Command{Text: c.Command, Description: desc})
	}
	sum := h.Sum64()

	a.menuMu.Lock()
	defer a.menuMu.Unlock()
	if sum == a.menuSum {
		return nil
	}
	if err := a.bot.SetCommands(list); err != nil {
		return err
	}
	a.menuSum = sum
	a.log.Info("command menu published", logx.Int("commands", len(list)))
	return nil
}

// classify marks Telegram API 4xx errors, except flood control, as
// permanent.
func classify(err error) error {
	var te *tele.Error
	if errors.As(err, &te) && te.Code >= 400 && te.Code < 500 && te.Code != 429 {
		return kit.Permanent(err)
	}
	return err
}
