package tui

import (
	"fmt"
	"strings"
	"time"
)

// Canonical short status messages used across the app.
const (
	MsgLoading        = "Loading news…"
	MsgSwitching      = "Switching tab…"
	MsgRefreshing     = "Refreshing…"
	MsgLoggingIn      = "Logging in…"
	MsgLoadingArticle = "Loading article…"
	MsgNoResults      = "No results"
	MsgNoNews         = "No news in this tab"
	MsgNoMore         = "No more news"
	MsgScrollForMore  = "Scroll for more"
	MsgPullToRefresh  = "↓ Pull to refresh"
	MsgReleaseRefresh = "↑ Release to refresh"
	MsgLoggedOut      = "Logged out"
	MsgSessionExpired = "Session expired, please log in again"
)

func MsgResultsCount(n int) string {
	if n == 1 {
		return "1 result"
	}
	return fmt.Sprintf("%d results", n)
}

func MsgWelcome(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "Logged in"
	}
	return fmt.Sprintf("Welcome, %s", name)
}

// MsgRefreshSummary describes the collection after a fetch. docCount is
// the search index size, or negative when unknown.
func MsgRefreshSummary(tabs, items, docCount int, failed bool) string {
	base := fmt.Sprintf("%d tabs • %d news", tabs, items)
	if failed {
		base += " • fetch failed"
	}
	if docCount >= 0 {
		base += fmt.Sprintf(" • idx: %d docs", docCount)
	}
	return base
}

// MsgUpdatedAgo renders the time since the last refresh.
func MsgUpdatedAgo(last, now time.Time) string {
	if last.IsZero() {
		return ""
	}
	d := now.Sub(last)
	switch {
	case d < time.Minute:
		return "updated just now"
	case d < time.Hour:
		return fmt.Sprintf("updated %dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("updated %dh ago", int(d.Hours()))
	default:
		return "updated " + last.Format("Jan 2")
	}
}
