package tui

import (
	"fmt"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pders01/cspfeed/internal/debuglog"
	"github.com/pders01/cspfeed/internal/feed"
	"github.com/pders01/cspfeed/internal/search"
	"github.com/pders01/cspfeed/internal/storage"
)

type feedAction int

const (
	actionInit feedAction = iota
	actionSwitch
	actionRefresh
	actionPull
)

// feedUpdatedMsg reports that a blocking controller call returned.
// applied is the call's own result.
type feedUpdatedMsg struct {
	action  feedAction
	applied bool
}

type loginDoneMsg struct {
	session *storage.Session
	err     error
}

type articleRenderedMsg struct {
	id      string
	content string
}

type searchDebounceMsg struct {
	seq   int
	query string
}

type searchResultsMsg struct {
	seq     int
	results []*search.Result
	err     error
}

type clearStatusMsg struct {
	seq int
}

type errorMsg struct {
	err error
}

func (a *App) initializeCmd() tea.Cmd {
	return func() tea.Msg {
		return feedUpdatedMsg{action: actionInit, applied: a.controller.Initialize(a.ctx)}
	}
}

func (a *App) refreshCmd() tea.Cmd {
	return func() tea.Msg {
		return feedUpdatedMsg{action: actionRefresh, applied: a.controller.Refresh(a.ctx)}
	}
}

func (a *App) touchEndCmd() tea.Cmd {
	return func() tea.Msg {
		return feedUpdatedMsg{action: actionPull, applied: a.controller.OnTouchEnd(a.ctx)}
	}
}

// switchTab highlights index right away and lets the controller rebuild
// the window after its delay. Out of range indices and switches during a
// fetch are ignored.
func (a *App) switchTab(index int) tea.Cmd {
	a.snapshot = a.controller.Snapshot()
	if index < 0 || index >= len(a.snapshot.Tabs) || index == a.displayTab() {
		return nil
	}
	if a.snapshot.Busy() && a.snapshot.Phase != feed.PhaseSwitching {
		return nil
	}
	a.pendingTab = index
	a.switching++
	return a.launch(func() tea.Msg {
		return feedUpdatedMsg{action: actionSwitch, applied: a.controller.SwitchTab(a.ctx, index)}
	})
}

func (a *App) loginCmd(account, password string) tea.Cmd {
	return func() tea.Msg {
		session, err := a.auth.Login(a.ctx, account, password)
		return loginDoneMsg{session: session, err: err}
	}
}

func (a *App) renderArticle(item feed.Item) tea.Cmd {
	return func() tea.Msg {
		var content strings.Builder
		content.WriteString(fmt.Sprintf("# %s\n\n", item.Title))
		if published, ok := item.Published(); ok {
			content.WriteString(fmt.Sprintf("*Published: %s*\n\n", published.Format("Mon, 02 Jan 2006 15:04")))
		}
		if item.Link != "" {
			content.WriteString(fmt.Sprintf("[Read Online](%s)\n\n", item.Link))
		}
		if strings.HasPrefix(item.Icon, "http://") || strings.HasPrefix(item.Icon, "https://") {
			content.WriteString(fmt.Sprintf("Cover: %s\n\n", truncateMiddle(item.Icon, 80)))
		}
		content.WriteString("---\n\n")

		body, err := htmltomarkdown.ConvertString(item.Content)
		if err != nil {
			debuglog.Warnf("converting item %s to markdown: %v", item.ID, err)
			body = search.PlainText(item.Content)
		}
		content.WriteString(body)

		r, err := a.getRenderer()
		if err != nil {
			return articleRenderedMsg{id: item.ID, content: "Error initializing renderer: " + err.Error()}
		}

		rendered, err := r.Render(content.String())
		if err != nil {
			return articleRenderedMsg{id: item.ID, content: fmt.Sprintf("Failed to render article: %s\n\nPress Escape to go back.", err)}
		}

		if a.store != nil {
			if err := a.store.MarkRead(item.ID); err != nil {
				debuglog.Warnf("marking %s read: %v", item.ID, err)
			}
		}

		return articleRenderedMsg{id: item.ID, content: rendered}
	}
}

func (a *App) performSearch(seq int, query string) tea.Cmd {
	inItem := a.previousView == ViewReader && a.currentItem != nil
	var item feed.Item
	if inItem {
		item = *a.currentItem
	}
	return func() tea.Msg {
		if a.searcher == nil {
			return searchResultsMsg{seq: seq}
		}
		var (
			results []*search.Result
			err     error
		)
		if inItem {
			results, err = a.searcher.SearchInItem(item, query)
		} else {
			results, err = a.searcher.Search(query, 50)
		}
		return searchResultsMsg{seq: seq, results: results, err: err}
	}
}
