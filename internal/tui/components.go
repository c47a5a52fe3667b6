package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/pders01/cspfeed/internal/feed"
)

// renderHeader returns a consistently styled header with an optional muted subtitle.
func renderHeader(title, subtitle string, width int) string {
	title = truncateEnd(title, width-2)
	subtitle = truncateEnd(subtitle, width-2)
	rows := []string{HeaderStyle.Render(title)}
	if subtitle != "" {
		rows = append(rows, renderMuted(subtitle))
	}
	return lipgloss.JoinVertical(lipgloss.Top, rows...)
}

// renderInputFrame draws a rounded bordered container around a rendered input view.
func renderInputFrame(inputView string, focused bool, contentWidth int) string {
	borderColor := MutedColor
	if focused {
		borderColor = AccentColor
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(borderColor).
		Padding(0, 1).
		Width(contentWidth + 4).
		Render(inputView)
}

// renderCentered centers the provided content within the given width/height box.
func renderCentered(width, height int, content string) string {
	return lipgloss.NewStyle().
		Width(width).
		Height(height).
		Align(lipgloss.Center, lipgloss.Center).
		Render(content)
}

// renderTabs draws the tab bar with current highlighted. Tabs that do not
// fit are cut from the end.
func renderTabs(tabs []feed.Tab, current, width int) string {
	if len(tabs) == 0 {
		return renderMuted("no tabs")
	}
	parts := make([]string, 0, len(tabs))
	used := 0
	for i, tab := range tabs {
		style := TabStyle
		if i == current {
			style = ActiveTabStyle
		}
		label := style.Render(tab.Name)
		w := lipgloss.Width(label)
		if width > 0 && used+w > width {
			parts = append(parts, renderMuted("…"))
			break
		}
		parts = append(parts, label)
		used += w
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func renderSeparator(width int) string {
	if width < 1 {
		width = 1
	}
	return SeparatorStyle.Render(strings.Repeat("─", width))
}

// renderMuted renders text in muted color (utility wrapper).
func renderMuted(text string) string {
	return lipgloss.NewStyle().Foreground(MutedColor).Render(text)
}

// renderHelp renders help/instructional text consistently.
func renderHelp(text string) string {
	return HelpStyle.Render(text)
}
