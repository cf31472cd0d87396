// Package discord adapts discordgo to transport.Adapter: guild text
// messages in, plain messages and embeds out.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	rtsup "l9alerts/internal/runtime/supervisor"
	kit "l9alerts/internal/transport"
	logx "l9alerts/pkg/logx"
)

const (
	contentLimit     = 2000
	descriptionLimit = 4096
)

type Config struct {
	Token        string
	AdminRoleIDs []int64
	// GuildID restricts inbound messages to one server. 0 accepts all.
	GuildID int64
}

type Adapter struct {
	cfg     Config
	log     logx.Logger
	session *discordgo.Session
	inbox   kit.Inbox

	mu  sync.Mutex
	sup *rtsup.Supervisor // non-nil while connected
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("discord token is empty")
	}
	if !strings.HasPrefix(token, "Bot ") {
		token = "Bot " + token
	}
	s, err := discordgo.New(token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentGuilds | discordgo.IntentGuildMessages | discordgo.IntentMessageContent
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log.With(logx.String("comp", "discord")), session: s}
	s.AddHandler(a.onMessage)
	s.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		a.log.Info("gateway ready", logx.String("user", r.User.Username), logx.Int("guilds", len(r.Guilds)))
	})
	return a, nil
}

func (a *Adapter) Name() string { return "discord" }

func (a *Adapter) ChannelMention(id int64) string { return fmt.Sprintf("<#%d>", id) }
func (a *Adapter) RoleMention(id int64) string    { return fmt.Sprintf("<@&%d>", id) }

func (a *Adapter) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	guildID, _ := strconv.ParseInt(m.GuildID, 10, 64)
	if a.cfg.GuildID != 0 && guildID != a.cfg.GuildID {
		return
	}
	chatID, _ := strconv.ParseInt(m.ChannelID, 10, 64)
	fromID, _ := strconv.ParseInt(m.Author.ID, 10, 64)
	a.inbox.Put(kit.Update{
		Kind: kit.UpdateMessage,
		Message: &kit.Message{
			ID:        m.ID,
			ChatID:    chatID,
			GuildID:   guildID,
			FromID:    fromID,
			FromName:  m.Author.Username,
			Text:      m.Content,
			IsAdmin:   a.isAdmin(s, m),
			Transport: a.Name(),
		},
	})
}

// isAdmin mirrors the server's Administrator permission, the owner, or a
// configured admin role.
func (a *Adapter) isAdmin(s *discordgo.Session, m *discordgo.MessageCreate) bool {
	if g, err := s.State.Guild(m.GuildID); err == nil && g.OwnerID == m.Author.ID {
		return true
	}
	if m.Member == nil {
		return false
	}
	perms := make(map[string]int64, len(m.Member.Roles))
	for _, id := range m.Member.Roles {
		if r, err := s.State.Role(m.GuildID, id); err == nil {
			perms[id] = r.Permissions
		}
	}
	return hasAdmin(m.Member.Roles, perms, a.cfg.AdminRoleIDs)
}

func hasAdmin(roles []string, perms map[string]int64, adminRoles []int64) bool {
	for _, id := range roles {
		if perms[id]&discordgo.PermissionAdministrator != 0 {
			return true
		}
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			continue
		}
		for _, want := range adminRoles {
			if n == want {
				return true
			}
		}
	}
	return false
}

// Start opens the gateway session.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sup != nil {
		return nil
	}
	a.inbox.Attach(out)
	if err := a.session.Open(); err != nil {
		a.inbox.Detach()
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(false))
	a.sup.Go0("inbox.drops", func(c context.Context) { a.inbox.ReportDrops(c, a.log) })
	a.log.Info("gateway connected")
	return nil
}

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
	if err := sup.Wait(ctx); err != nil {
		a.log.Debug("discord stop", logx.Err(err))
	}
	return a.session.Close()
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	channelID := strconv.FormatInt(to.ChatID, 10)
	msgs := buildMessages(text, opt)

	var first kit.MessageRef
	for i, ms := range msgs {
		m, err := a.session.ChannelMessageSendComplex(channelID, ms, discordgo.WithContext(ctx))
		if err != nil {
			return first, classify(err)
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, MessageID: m.ID}
		}
	}
	return first, nil
}

// buildMessages splits long content and attaches the embed and the role
// ping to the first message only.
func buildMessages(text string, opt *kit.SendOptions) []*discordgo.MessageSend {
	content := text
	allowed := &discordgo.MessageAllowedMentions{}
	if opt.MentionRoleID != 0 {
		role := strconv.FormatInt(opt.MentionRoleID, 10)
		allowed.Roles = []string{role}
		content = strings.TrimSpace("<@&" + role + "> " + content)
	}

	chunks := splitContent(content, contentLimit)
	out := make([]*discordgo.MessageSend, 0, len(chunks))
	for i, c := range chunks {
		ms := &discordgo.MessageSend{Content: c, AllowedMentions: &discordgo.MessageAllowedMentions{}}
		if i == 0 {
			ms.AllowedMentions = allowed
			if opt.Embed != nil {
				ms.Embeds = []*discordgo.MessageEmbed{toEmbed(opt.Embed)}
			}
		}
		out = append(out, ms)
	}
	return out
}

func toEmbed(e *kit.Embed) *discordgo.MessageEmbed {
	me := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: truncate(e.Description, descriptionLimit),
		Color:       e.Color,
	}
	if e.Footer != "" {
		me.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
	}
	if e.ImageURL != "" {
		me.Image = &discordgo.MessageEmbedImage{URL: e.ImageURL}
	}
	return me
}

// ValidateChannel accepts guild text and announcement channels.
func (a *Adapter) ValidateChannel(ctx context.Context, chatID int64) error {
	id := strconv.FormatInt(chatID, 10)
	ch, err := a.session.State.Channel(id)
	if err != nil {
		ch, err = a.session.Channel(id, discordgo.WithContext(ctx))
	}
	if err != nil {
		return fmt.Errorf("%w: %d: %v", kit.ErrInvalidChannel, chatID, err)
	}
	switch ch.Type {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews:
		return nil
	default:
		return fmt.Errorf("%w: %d is not a text channel", kit.ErrInvalidChannel, chatID)
	}
}

// classify marks 4xx responses other than 429 as permanent.
func classify(err error) error {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		code := rest.Response.StatusCode
		if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
			return kit.Permanent(err)
		}
	}
	return err
}

func splitContent(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	var out []string
	for len(rs) > 0 {
		end := min(limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[:end]), "\n"))
		rs = rs[end:]
	}
	return out
}

func truncate(s string, limit int) string {
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit-3]) + "..."
}

// ValidateRole checks the role exists in the server.
func (a *Adapter) ValidateRole(ctx context.Context, guildID, roleID int64) error {
	gid := strconv.FormatInt(guildID, 10)
	rid := strconv.FormatInt(roleID, 10)
	if _, err := a.session.State.Role(gid, rid); err == nil {
		return nil
	}
	roles, err := a.session.GuildRoles(gid, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: %d: %v", kit.ErrInvalidRole, roleID, err)
	}
	for _, r := range roles {
		if r.ID == rid {
			return nil
		}
	}
	return fmt.Errorf("%w: %d", kit.ErrInvalidRole, roleID)
}
