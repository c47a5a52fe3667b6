package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/pders01/cspfeed/internal/search"
)

// truncateEnd shortens s to at most limit cells, appending an ellipsis
// if truncation occurs.
func truncateEnd(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if lipgloss.Width(s) <= limit {
		return s
	}
	if limit <= 1 {
		return "…"
	}
	var (
		b     strings.Builder
		width int
	)
	for _, r := range s {
		w := lipgloss.Width(string(r))
		if width+w > limit-1 {
			break
		}
		b.WriteRune(r)
		width += w
	}
	return b.String() + "…"
}

// truncateMiddle keeps both ends of s, which carry the meaning for links.
func truncateMiddle(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	r := []rune(s)
	n := len(r)
	if n <= limit {
		return s
	}
	if limit <= 1 {
		return "…"
	}
	keep := limit - 1
	left := keep / 2
	right := keep - left
	if left <= 0 {
		return "…" + string(r[n-right:])
	}
	return string(r[:left]) + "…" + string(r[n-right:])
}

// excerpt flattens HTML news content to a single line of at most limit cells.
func excerpt(html string, limit int) string {
	text := strings.Join(strings.Fields(search.PlainText(html)), " ")
	return truncateEnd(text, limit)
}
