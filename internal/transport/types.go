// Package transport defines the chat platform boundary: inbound messages,
// outbound text and embeds, and optional capabilities adapters can offer.
package transport

import (
	"context"
	"errors"
	"fmt"
)

type UpdateKind string

const UpdateMessage UpdateKind = "message"

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID        string
	ChatID    int64
	GuildID   int64 // discord server, 0 elsewhere
	FromID    int64
	FromName  string
	Text      string
	IsAdmin   bool // resolved by the adapter from platform permissions
	Transport string
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID string
}

// Embed is a titled card. Discord renders it natively; other adapters
// flatten it with RenderText.
type Embed struct {
	Title       string
	Description string
	Color       int
	Footer      string
	ImageURL    string
}

type SendOptions struct {
	Embed *Embed
	// MentionRoleID pings a role alongside the message. 0 means none.
	MentionRoleID int64
	// ParseMode is passed to adapters that understand it ("HTML").
	ParseMode      string
	DisablePreview bool
}

type Notification struct {
	Channel  string // adapter name
	Priority int    // 0 low .. 10 high
	Target   ChatTarget
	Text     string
	Options  *SendOptions
	// DedupKey overrides the content hash used for duplicate suppression.
	DedupKey string
}

type Adapter interface {
	Name() string
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// ChannelValidator is implemented by adapters that can check a channel is a
// text channel the bot may post to.
type ChannelValidator interface {
	ValidateChannel(ctx context.Context, chatID int64) error
}

// Mentioner renders platform mention syntax.
type Mentioner interface {
	ChannelMention(id int64) string
	RoleMention(id int64) string
}

// RoleValidator is implemented by adapters with server roles.
type RoleValidator interface {
	ValidateRole(ctx context.Context, guildID, roleID int64) error
}

var (
	ErrInvalidChannel = errors.New("invalid channel")
	ErrInvalidRole    = errors.New("invalid role")
)

// ChannelMention uses the adapter syntax when available.
func ChannelMention(a any, id int64) string {
	if m, ok := a.(Mentioner); ok {
		return m.ChannelMention(id)
	}
	return fmt.Sprintf("#%d", id)
}

func RoleMention(a any, id int64) string {
	if m, ok := a.(Mentioner); ok {
		return m.RoleMention(id)
	}
	return fmt.Sprintf("@role:%d", id)
}

// PermanentError marks a send failure that retrying cannot fix, such as an
// unknown channel or missing permission.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent lets the task engine stop retrying without importing this
// package.
func (e *PermanentError) Permanent() bool { return true }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

type BotCommand struct {
	Command     string
	Description string
}

// MenuPublisher is implemented by adapters with a native command menu.
type MenuPublisher interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
