package telegram

import (
	"errors"
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	kit "l9alerts/internal/transport"
)

func TestSplitText(t *testing.T) {
	t.Parallel()

	if got := splitText("short", 10, ""); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short text: %q", got)
	}

	long := strings.Repeat("Guild Boss at 8:45 PM\n", 40)
	parts := splitText(long, 100, "")
	if len(parts) < 2 {
		t.Fatalf("expected split, got %d", len(parts))
	}
	for i, p := range parts {
		if len([]rune(p)) > 100 {
			t.Fatalf("part %d too long", i)
		}
		if strings.HasSuffix(p, "\n") {
			t.Fatalf("part %d keeps trailing newline", i)
		}
	}

	html := strings.Repeat("x", 98) + "<b>bold</b>"
	parts = splitText(html, 100, tele.ModeHTML)
	if strings.Contains(parts[0], "<") {
		t.Fatalf("split inside a tag: %q", parts[0])
	}
}

func TestRender(t *testing.T) {
	t.Parallel()

	body, mode := render("plain", &kit.SendOptions{ParseMode: ""})
	if body != "plain" || mode != "" {
		t.Fatalf("plain passthrough: %q %q", body, mode)
	}
	body, mode = render("", &kit.SendOptions{Embed: &kit.Embed{Title: "Guild Boss Reminder (Start)", Description: "Scheduled for 8:45 PM GMT+8"}})
	if mode != tele.ModeHTML || !strings.HasPrefix(body, "<b>Guild Boss Reminder (Start)</b>") {
		t.Fatalf("embed render: %q %q", body, mode)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	if !kit.IsPermanent(classify(tele.ErrChatNotFound)) {
		t.Fatalf("chat not found should be permanent")
	}
	if kit.IsPermanent(classify(errors.New("connection reset"))) {
		t.Fatalf("network errors should be retryable")
	}
}

func TestIsAdmin(t *testing.T) {
	t.Parallel()

	if !isAdmin(7, []int64{1, 7}) || isAdmin(8, []int64{1, 7}) || isAdmin(1, nil) {
		t.Fatalf("admin lookup mismatch")
	}
}
