package tui

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// Glamour standard style names.
const (
	StyleDark  = "dark"
	StyleNoTTY = "notty"
)

// RenderMarkdown renders a task body for the terminal. Bodies are free-form
// text, so anything glamour cannot render is returned unchanged.
func RenderMarkdown(body string, width int, style string) string {
	if strings.TrimSpace(body) == "" {
		return ""
	}
	if width <= 0 {
		width = 80
	}
	if style == "" {
		style = StyleDark
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return body
	}
	out, err := r.Render(body)
	if err != nil {
		return body
	}
	return strings.TrimRight(out, "\n")
}
