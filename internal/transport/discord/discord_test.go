package discord

import (
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"

	kit "l9alerts/internal/transport"
)

func TestBuildMessages(t *testing.T) {
	t.Parallel()

	opt := &kit.SendOptions{
		MentionRoleID: 42,
		Embed:         &kit.Embed{Title: "Guild Boss Reminder (Start)", Color: 0x00ff99, Footer: "quote", ImageURL: "https://example.com/b.png"},
	}
	msgs := buildMessages("", opt)
	if len(msgs) != 1 {
		t.Fatalf("want 1 message, got %d", len(msgs))
	}
	m := msgs[0]
	if m.Content != "<@&42>" {
		t.Fatalf("content %q", m.Content)
	}
	if len(m.AllowedMentions.Roles) != 1 || m.AllowedMentions.Roles[0] != "42" {
		t.Fatalf("role ping must be allowed explicitly: %+v", m.AllowedMentions)
	}
	e := m.Embeds[0]
	if e.Color != 0x00ff99 || e.Footer.Text != "quote" || e.Image.URL != "https://example.com/b.png" {
		t.Fatalf("embed %+v", e)
	}

	long := strings.Repeat("line of schedule text\n", 200)
	msgs = buildMessages(long, &kit.SendOptions{Embed: &kit.Embed{Title: "x"}})
	if len(msgs) < 2 {
		t.Fatalf("long content should split, got %d", len(msgs))
	}
	for i, m := range msgs {
		if n := len([]rune(m.Content)); n > contentLimit {
			t.Fatalf("chunk %d has %d runes", i, n)
		}
		if i > 0 && (len(m.Embeds) != 0 || len(m.AllowedMentions.Roles) != 0) {
			t.Fatalf("only the first chunk carries the embed and ping")
		}
	}
}

func TestHasAdmin(t *testing.T) {
	t.Parallel()

	perms := map[string]int64{"1": discordgo.PermissionAdministrator, "2": discordgo.PermissionSendMessages}
	tests := []struct {
		name  string
		roles []string
		admin []int64
		want  bool
	}{
		{"administrator permission", []string{"2", "1"}, nil, true},
		{"configured role", []string{"2", "9"}, []int64{9}, true},
		{"plain member", []string{"2"}, []int64{9}, false},
		{"no roles", nil, nil, false},
	}
	for _, tc := range tests {
		if got := hasAdmin(tc.roles, perms, tc.admin); got != tc.want {
			t.Fatalf("%s: got %v", tc.name, got)
		}
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	if got := truncate("abcdef", 5); got != "ab..." {
		t.Fatalf("got %q", got)
	}
	if got := truncate("abc", 5); got != "abc" {
		t.Fatalf("got %q", got)
	}
}
