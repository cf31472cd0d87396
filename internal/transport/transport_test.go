package transport

import (
	"errors"
	"testing"
)

type mentions struct{}

func (mentions) ChannelMention(id int64) string { return "<#1>" }
func (mentions) RoleMention(id int64) string    { return "<@&2>" }

func TestMentions(t *testing.T) {
	t.Parallel()

	if got := ChannelMention(mentions{}, 1); got != "<#1>" {
		t.Fatalf("adapter syntax: %q", got)
	}
	if got := ChannelMention(nil, 5); got != "#5" {
		t.Fatalf("fallback channel: %q", got)
	}
	if got := RoleMention(struct{}{}, 7); got != "@role:7" {
		t.Fatalf("fallback role: %q", got)
	}
}

func TestRenderText(t *testing.T) {
	t.Parallel()

	e := &Embed{Title: "Guild Boss Reminder (Start)", Description: "**Scheduled** for 8:00 PM <GMT+8>", Footer: "Min-max"}
	if got, want := RenderText("", e, "@raid", false), "@raid\n\nGuild Boss Reminder (Start)\n\nScheduled for 8:00 PM <GMT+8>\n\n~ Min-max"; got != want {
		t.Fatalf("plain:\n%q\nwant\n%q", got, want)
	}
	if got, want := RenderText("hi", &Embed{Title: "A&B"}, "", true), "hi\n\n<b>A&amp;B</b>"; got != want {
		t.Fatalf("html: %q", got)
	}
}

func TestPermanent(t *testing.T) {
	t.Parallel()

	base := errors.New("unknown channel")
	err := Permanent(base)
	if !IsPermanent(err) || !errors.Is(err, base) {
		t.Fatalf("permanent wrapper lost its cause")
	}
	if IsPermanent(base) || Permanent(nil) != nil {
		t.Fatalf("unexpected classification")
	}
}

func TestInboxDropsWhenFull(t *testing.T) {
	t.Parallel()

	var in Inbox
	if in.Put(Update{Kind: UpdateMessage}) {
		t.Fatalf("detached inbox must not deliver")
	}
	ch := make(chan Update, 1)
	in.Attach(ch)
	if !in.Put(Update{Kind: UpdateMessage}) {
		t.Fatalf("first update should fit")
	}
	if in.Put(Update{Kind: UpdateMessage}) {
		t.Fatalf("second update should be dropped")
	}
	if n := in.dropped.Load(); n != 1 {
		t.Fatalf("dropped = %d", n)
	}
	in.Detach()
	if in.Put(Update{Kind: UpdateMessage}) {
		t.Fatalf("detached inbox must not deliver")
	}
}
