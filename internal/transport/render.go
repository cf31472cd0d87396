package transport

import (
	"html"
	"strings"
)

// RenderText flattens text plus an optional embed into plain or HTML text.
// mention is prepended when non-empty.
func RenderText(text string, e *Embed, mention string, asHTML bool) string {
	esc := func(s string) string { return s }
	bold := func(s string) string { return s }
	if asHTML {
		esc = html.EscapeString
		bold = func(s string) string { return "<b>" + html.EscapeString(s) + "</b>" }
	}

	var parts []string
	if mention != "" {
		parts = append(parts, esc(mention))
	}
	if text != "" {
		parts = append(parts, esc(text))
	}
	if e != nil {
		if e.Title != "" {
			parts = append(parts, bold(e.Title))
		}
		if e.Description != "" {
			parts = append(parts, esc(StripBold(e.Description)))
		}
		if e.Footer != "" {
			parts = append(parts, esc("~ "+e.Footer))
		}
		if e.ImageURL != "" {
			parts = append(parts, esc(e.ImageURL))
		}
	}
	return strings.Join(parts, "\n\n")
}

// StripBold removes Discord-style **bold** markers.
func StripBold(s string) string { return strings.ReplaceAll(s, "**", "") }
