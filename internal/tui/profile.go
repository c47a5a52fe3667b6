package tui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pders01/cspfeed/internal/debuglog"
	"github.com/pders01/cspfeed/internal/profile"
)

const MsgLoadingProfile = "Loading profile…"

type profileLoadedMsg struct {
	profile *profile.Profile
	err     error
}

// openProfile shows the profile view and loads it, from the session
// cache unless refresh is set.
func (a *App) openProfile(refresh bool) tea.Cmd {
	if a.view != ViewProfile {
		a.previousView = a.view
	}
	a.view = ViewProfile
	a.loadingProfile = true
	a.err = nil
	resolver := a.profiles
	ctx := a.ctx
	return tea.Batch(a.startSpinner(), func() tea.Msg {
		p, err := resolver.Resolve(ctx, refresh)
		return profileLoadedMsg{profile: p, err: err}
	})
}

func (a *App) handleProfileLoaded(msg profileLoadedMsg) tea.Cmd {
	a.loadingProfile = false
	if msg.err != nil {
		if a.auth != nil && a.auth.HandleError(msg.err) {
			return a.toLogin(MsgSessionExpired, StatusWarn)
		}
		if a.view == ViewProfile {
			a.err = msg.err
		} else {
			debuglog.Warnf("loading profile: %v", msg.err)
		}
		return nil
	}
	a.profile = msg.profile
	return nil
}

func (a *App) profileView() string {
	height := max(a.height-3, 1)
	if a.loadingProfile && a.profile == nil {
		return renderCentered(a.width, height, a.spinner.View()+" "+MsgLoadingProfile)
	}
	if a.profile == nil {
		return renderCentered(a.width, height, renderMuted("No profile loaded"))
	}

	p := a.profile
	tags := make([]string, 0, 2)
	for _, tag := range p.Tags() {
		tags = append(tags, TagStyle.Render(tag))
	}

	labelStyle := lipgloss.NewStyle().Foreground(MutedColor).Width(9)
	rows := []string{
		HeaderStyle.Render(p.DisplayName()),
		strings.Join(tags, " "),
		"",
	}
	for _, row := range [][2]string{
		{"Account", p.Account},
		{"User ID", p.UserID},
		{"Phone", p.Phone},
		{"Email", p.Email},
		{"Joined", p.CreateDate},
	} {
		if row[1] == "" {
			continue
		}
		rows = append(rows, labelStyle.Render(row[0])+row[1])
	}
	if a.loadingProfile {
		rows = append(rows, "", a.spinner.View()+" "+MsgLoadingProfile)
	}

	card := lipgloss.JoinVertical(lipgloss.Left, rows...)
	return renderCentered(a.width, height, card)
}
