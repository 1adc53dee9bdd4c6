// Package tui implements the commander watch terminal client.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/opencommander/commander/internal/core"
	"github.com/opencommander/commander/internal/roster"
)

// Color palette
var (
	ColorPrimary   = lipgloss.Color("#7C3AED") // Purple
	ColorSecondary = lipgloss.Color("#06B6D4") // Cyan

	ColorSuccess = lipgloss.Color("#10B981") // Green
	ColorWarning = lipgloss.Color("#F59E0B") // Amber
	ColorError   = lipgloss.Color("#EF4444") // Red

	ColorText       = lipgloss.Color("#E5E7EB")
	ColorTextMuted  = lipgloss.Color("#9CA3AF")
	ColorBorder     = lipgloss.Color("#374151")
	ColorBackground = lipgloss.Color("#1F2937")
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary).
			Background(ColorBackground).
			Padding(0, 1)

	SubtleStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted)

	FooterStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted).
			MarginTop(1)

	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1)

	NoticeStyle = lipgloss.NewStyle().
			Foreground(ColorSecondary)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorError).
			Bold(true)

	// Roster row styles.
	steadyStyle   = lipgloss.NewStyle().Foreground(ColorText)
	enteringStyle = lipgloss.NewStyle().Foreground(ColorSuccess).Bold(true)
	leavingStyle  = lipgloss.NewStyle().Foreground(ColorTextMuted).Faint(true).Strikethrough(true)
)

// StatusStyle returns the style used for a presence status badge.
func StatusStyle(s core.PresenceStatus) lipgloss.Style {
	switch s {
	case core.PresenceActive:
		return lipgloss.NewStyle().Foreground(ColorSuccess).Bold(true)
	case core.PresenceViewing:
		return lipgloss.NewStyle().Foreground(ColorWarning)
	default:
		return lipgloss.NewStyle().Foreground(ColorTextMuted)
	}
}

// StatusIcon returns the dot shown next to a member.
func StatusIcon(s core.PresenceStatus) string {
	switch s {
	case core.PresenceActive:
		return "●"
	case core.PresenceViewing:
		return "◐"
	default:
		return "○"
	}
}

func rowStyle(state roster.State) (lipgloss.Style, string) {
	switch state {
	case roster.Entering:
		return enteringStyle, "+"
	case roster.Leaving:
		return leavingStyle, "-"
	default:
		return steadyStyle, " "
	}
}
