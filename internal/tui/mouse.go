package tui

import (
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"

	"github.com/pders01/cspfeed/internal/feed"
)

const (
	pullFPS = 60
	// wheelRows is how far one wheel notch scrolls the feed list.
	wheelRows = 3
	// maxPullRows caps the height of the pull indicator.
	maxPullRows = 4
)

type pullTickMsg struct{}

// pullSpring animates the pull indicator back to the controller's pull
// distance once the pointer lets go.
type pullSpring struct {
	spring  harmonica.Spring
	pos     float64
	vel     float64
	target  float64
	ticking bool
}

func newPullSpring() pullSpring {
	return pullSpring{spring: harmonica.NewSpring(harmonica.FPS(pullFPS), 6.0, 0.8)}
}

// follow pins the indicator to d while the pointer is down.
func (p *pullSpring) follow(d float64) {
	p.pos, p.vel, p.target = d, 0, d
}

func (p *pullSpring) step() {
	p.pos, p.vel = p.spring.Update(p.pos, p.vel, p.target)
	if !p.animating() {
		p.pos, p.vel = p.target, 0
	}
}

func (p pullSpring) animating() bool {
	return math.Abs(p.pos-p.target) > 0.5
}

func pullTick() tea.Cmd {
	return tea.Tick(time.Second/pullFPS, func(time.Time) tea.Msg { return pullTickMsg{} })
}

func (a *App) handleMouse(msg tea.MouseMsg) tea.Cmd {
	switch a.view {
	case ViewFeed:
		return a.handleFeedMouse(msg)
	case ViewReader:
		var cmd tea.Cmd
		a.reader, cmd = a.reader.Update(msg)
		return cmd
	default:
		return nil
	}
}

func (a *App) handleFeedMouse(msg tea.MouseMsg) tea.Cmd {
	y := float64(msg.Y) * a.rowPoints

	switch {
	case msg.Button == tea.MouseButtonWheelDown:
		a.feedViewport.LineDown(wheelRows)
		a.syncScroll()
	case msg.Button == tea.MouseButtonWheelUp:
		a.feedViewport.LineUp(wheelRows)
		a.syncScroll()
	case msg.Button == tea.MouseButtonLeft && msg.Action == tea.MouseActionPress:
		a.controller.OnTouchStart(y)
		a.snapshot = a.controller.Snapshot()
		a.dragging = a.snapshot.PullActive
	case msg.Action == tea.MouseActionMotion && a.dragging:
		a.controller.OnTouchMove(y)
		a.snapshot = a.controller.Snapshot()
		a.pull.follow(a.snapshot.PullDistance)
	case msg.Action == tea.MouseActionRelease && a.dragging:
		a.dragging = false
		if a.snapshot.PullDistance > a.config.Feed.PullThreshold {
			return tea.Batch(a.launch(a.touchEndCmd()), a.animatePull())
		}
		a.controller.OnTouchEnd(a.ctx)
		a.snapshot = a.controller.Snapshot()
		return a.animatePull()
	}
	return nil
}

// syncScroll reports the list position to the controller in points and
// picks up a page it may have revealed.
func (a *App) syncScroll() {
	top := float64(a.feedViewport.YOffset) * a.rowPoints
	height := float64(a.feedViewport.TotalLineCount()) * a.rowPoints
	client := float64(a.feedViewport.Height) * a.rowPoints
	if a.controller.OnScroll(top, height, client) {
		a.refreshSnapshot()
	}
}

// resetScroll returns the list to the top after its content was replaced.
func (a *App) resetScroll() {
	if a.feedViewport.YOffset == 0 {
		return
	}
	a.feedViewport.GotoTop()
	a.syncScroll()
}

// ensureCursorVisible scrolls the list so the selected entry is on screen.
func (a *App) ensureCursorVisible() {
	top := a.cursor * itemHeight
	bottom := top + itemHeight
	if a.cursor == len(a.snapshot.Window)-1 {
		// keep the footer in view on the last entry
		bottom++
	}
	switch {
	case top < a.feedViewport.YOffset:
		a.feedViewport.SetYOffset(top)
	case bottom > a.feedViewport.YOffset+a.feedViewport.Height:
		a.feedViewport.SetYOffset(bottom - a.feedViewport.Height)
	}
}

// animatePull starts the spring toward the controller's pull distance if
// the indicator is not there yet.
func (a *App) animatePull() tea.Cmd {
	if a.dragging {
		return nil
	}
	a.pull.target = a.snapshot.PullDistance
	if !a.pull.animating() || a.pull.ticking {
		return nil
	}
	a.pull.ticking = true
	return pullTick()
}

func (a *App) stepPull() tea.Cmd {
	a.pull.ticking = false
	if a.dragging {
		return nil
	}
	a.pull.target = a.snapshot.PullDistance
	a.pull.step()
	return a.animatePull()
}

func (a *App) pullIndicator() string {
	rows := int(math.Round(a.pull.pos / a.rowPoints))
	refreshing := a.snapshot.Phase == feed.PhaseRefreshing
	if rows <= 0 && !refreshing {
		return ""
	}
	rows = min(max(rows, 1), maxPullRows)

	var label string
	switch {
	case refreshing:
		label = a.spinner.View() + " " + MsgRefreshing
	case a.snapshot.PullDistance > a.config.Feed.PullThreshold:
		label = MsgReleaseRefresh
	default:
		label = MsgPullToRefresh
	}

	lines := make([]string, rows)
	lines[rows-1] = lipgloss.NewStyle().
		Width(a.width).
		Align(lipgloss.Center).
		Foreground(AccentColor).
		Render(label)
	return strings.Join(lines, "\n")
}
