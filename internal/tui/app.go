package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/pders01/cspfeed/internal/auth"
	"github.com/pders01/cspfeed/internal/config"
	"github.com/pders01/cspfeed/internal/debuglog"
	"github.com/pders01/cspfeed/internal/feed"
	"github.com/pders01/cspfeed/internal/profile"
	"github.com/pders01/cspfeed/internal/search"
	"github.com/pders01/cspfeed/internal/storage"
)

const (
	// itemHeight is the number of rows one news entry takes in the feed list.
	itemHeight = 3
	// feedChrome is the rows used by the header, the tab bar and the status bar.
	feedChrome     = 5
	searchDebounce = 150 * time.Millisecond
)

// Deps are the collaborators the App drives. Auth and Profiles are nil
// when the configured source needs no login, Store may be nil in tests.
type Deps struct {
	Controller *feed.Controller
	Auth       *auth.Manager
	Profiles   *profile.Resolver
	Searcher   search.Searcher
	Store      *storage.Store
}

type App struct {
	config     *config.Config
	controller *feed.Controller
	auth       *auth.Manager
	profiles   *profile.Resolver
	searcher   search.Searcher
	store      *storage.Store
	keyHandler *KeyHandler

	ctx    context.Context
	cancel context.CancelFunc

	accountInput  textinput.Model
	passwordInput textinput.Model
	searchInput   textinput.Model
	searchList    list.Model
	feedViewport  viewport.Model
	reader        viewport.Model
	spinner       spinner.Model

	view           View
	previousView   View
	cameFromSearch bool
	width          int
	height         int

	snapshot    feed.Snapshot
	cursor      int
	pendingTab  int
	switching   int
	inflight    int
	spinning    bool
	readIDs     map[string]bool
	tabRestored bool

	currentItem    *feed.Item
	loadingArticle bool
	loggingIn      bool

	profile        *profile.Profile
	loadingProfile bool

	rowPoints float64
	dragging  bool
	pull      pullSpring

	searchSeq int

	status     string
	statusKind StatusKind
	statusSeq  int
	err        error

	glamourRenderer *glamour.TermRenderer
	rendererWidth   int
}

func NewApp(deps Deps, cfg *config.Config) *App {
	ApplyTheme(cfg.UI.Colors)

	account := textinput.New()
	account.Placeholder = "Account"
	account.Prompt = "› "
	account.CharLimit = 64

	password := textinput.New()
	password.Placeholder = "Password"
	password.Prompt = "› "
	password.EchoMode = textinput.EchoPassword
	password.EchoCharacter = '•'
	password.CharLimit = 64

	si := textinput.New()
	si.Placeholder = "Search news..."

	searchList := list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0)
	searchList.Title = "› search results"
	searchList.SetShowStatusBar(false)
	searchList.SetShowHelp(false)
	searchList.SetFilteringEnabled(false)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(AccentColor)

	rowPoints := cfg.UI.RowPoints
	if rowPoints <= 0 {
		rowPoints = 20
	}

	ctx, cancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		controller:    deps.Controller,
		auth:          deps.Auth,
		profiles:      deps.Profiles,
		searcher:      deps.Searcher,
		store:         deps.Store,
		ctx:           ctx,
		cancel:        cancel,
		accountInput:  account,
		passwordInput: password,
		searchInput:   si,
		searchList:    searchList,
		feedViewport:  viewport.New(0, 0),
		reader:        viewport.New(0, 0),
		spinner:       sp,
		view:          ViewFeed,
		previousView:  ViewFeed,
		pendingTab:    -1,
		readIDs:       map[string]bool{},
		rowPoints:     rowPoints,
		pull:          newPullSpring(),
	}

	if app.store != nil {
		if ids, err := app.store.ReadIDs(); err == nil {
			app.readIDs = ids
		} else {
			debuglog.Warnf("loading read marks: %v", err)
		}
	}

	if app.auth != nil && app.auth.Session() == nil {
		app.view = ViewLogin
		app.accountInput.Focus()
	}

	app.keyHandler = NewKeyHandler(app, cfg)

	return app
}

func (a *App) getRenderer() (*glamour.TermRenderer, error) {
	maxWidth := a.config.UI.WordWrapMaxWidth
	if maxWidth <= 0 {
		maxWidth = 120
	}
	minWidth := a.config.UI.WordWrapMinWidth
	if minWidth <= 0 {
		minWidth = 40
	}

	wordWrapWidth := (a.width * 9) / 10
	if wordWrapWidth > maxWidth {
		wordWrapWidth = maxWidth
	}
	if wordWrapWidth < minWidth {
		wordWrapWidth = minWidth
	}
	if a.width < 50 {
		wordWrapWidth = a.width - 4
		if wordWrapWidth < 20 {
			wordWrapWidth = 20
		}
	}

	if a.glamourRenderer == nil || abs(a.rendererWidth-wordWrapWidth) > 10 {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(wordWrapWidth),
		)
		if err != nil {
			return nil, err
		}
		a.glamourRenderer = r
		a.rendererWidth = wordWrapWidth
	}

	return a.glamourRenderer, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func (a *App) Init() tea.Cmd {
	if a.view == ViewLogin {
		return textinput.Blink
	}
	return a.launch(a.initializeCmd())
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.resize(msg.Width, msg.Height)
		return a, nil

	case tea.KeyMsg:
		return a.keyHandler.HandleKey(msg)

	case tea.MouseMsg:
		return a, a.handleMouse(msg)

	case tea.FocusMsg:
		if a.view == ViewFeed && a.controller.Restore() {
			debuglog.Debugf("restored feed window on focus")
			a.refreshSnapshot()
		}
		return a, nil

	case spinner.TickMsg:
		if a.inflight == 0 && !a.snapshot.Busy() && !a.loggingIn && !a.loadingArticle && !a.loadingProfile {
			a.spinning = false
			return a, nil
		}
		if a.inflight > 0 {
			a.refreshSnapshot()
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case pullTickMsg:
		return a, a.stepPull()

	case feedUpdatedMsg:
		return a, a.handleFeedUpdated(msg)

	case loginDoneMsg:
		return a, a.handleLoginDone(msg)

	case profileLoadedMsg:
		return a, a.handleProfileLoaded(msg)

	case articleRenderedMsg:
		if msg.id != "" {
			a.readIDs[msg.id] = true
		}
		if a.view == ViewReader && a.currentItem != nil && a.currentItem.ID == msg.id {
			a.reader.SetContent(msg.content)
			a.reader.GotoTop()
			a.loadingArticle = false
		}
		return a, nil

	case searchDebounceMsg:
		if msg.seq != a.searchSeq || a.view != ViewSearch {
			return a, nil
		}
		return a, a.performSearch(msg.seq, msg.query)

	case searchResultsMsg:
		if msg.seq != a.searchSeq || a.view != ViewSearch {
			return a, nil
		}
		if msg.err != nil {
			return a, a.setStatus(msg.err.Error(), StatusError)
		}
		items := make([]list.Item, len(msg.results))
		for i, result := range msg.results {
			items[i] = searchResultItem{result: result, read: a.readIDs[result.Item.ID]}
		}
		cmd := a.searchList.SetItems(items)
		if len(items) == 0 {
			return a, tea.Batch(cmd, a.setStatus(MsgNoResults, StatusInfo))
		}
		return a, tea.Batch(cmd, a.setStatus(MsgResultsCount(len(items)), StatusInfo))

	case clearStatusMsg:
		if msg.seq == a.statusSeq {
			a.status = ""
		}
		return a, nil

	case errorMsg:
		a.err = msg.err
		return a, nil
	}

	if a.view == ViewReader {
		var cmd tea.Cmd
		a.reader, cmd = a.reader.Update(msg)
		return a, cmd
	}
	return a, nil
}

func (a *App) resize(width, height int) {
	a.width = width
	a.height = height

	a.feedViewport.Width = width
	a.feedViewport.Height = max(height-feedChrome, 1)
	a.reader.Width = width
	a.reader.Height = max(height-3, 1)

	// Search view layout requires 10 lines for UI chrome
	a.searchList.SetSize(width, max(height-10, 5))

	inputWidth := width - 8
	if inputWidth < 20 {
		inputWidth = max(width-4, 10)
	}
	a.accountInput.Width = min(inputWidth, 40)
	a.passwordInput.Width = min(inputWidth, 40)
	a.searchInput.Width = inputWidth

	a.renderFeed()
}

// launch counts cmd as an in-flight controller call and keeps the
// spinner running until it reports back.
func (a *App) launch(cmd tea.Cmd) tea.Cmd {
	a.inflight++
	return tea.Batch(cmd, a.startSpinner())
}

func (a *App) startSpinner() tea.Cmd {
	if a.spinning {
		return nil
	}
	a.spinning = true
	return a.spinner.Tick
}

// setStatus shows a transient message in the status bar.
func (a *App) setStatus(message string, kind StatusKind) tea.Cmd {
	a.statusSeq++
	seq := a.statusSeq
	a.status = message
	a.statusKind = kind
	return tea.Tick(statusTTL, func(time.Time) tea.Msg { return clearStatusMsg{seq: seq} })
}

// refreshSnapshot pulls the controller state and re-renders the list.
func (a *App) refreshSnapshot() {
	a.snapshot = a.controller.Snapshot()
	if a.cursor >= len(a.snapshot.Window) {
		a.cursor = max(len(a.snapshot.Window)-1, 0)
	}
	a.renderFeed()
}

// displayTab is the highlighted tab, which leads the controller while a
// switch is waiting.
func (a *App) displayTab() int {
	if a.pendingTab >= 0 {
		return a.pendingTab
	}
	return a.snapshot.CurrentTab
}

func (a *App) selectedItem() (feed.Item, bool) {
	if a.cursor < 0 || a.cursor >= len(a.snapshot.Window) {
		return feed.Item{}, false
	}
	return a.snapshot.Window[a.cursor], true
}

func (a *App) handleFeedUpdated(msg feedUpdatedMsg) tea.Cmd {
	a.inflight = max(a.inflight-1, 0)
	if msg.action == actionSwitch {
		a.switching = max(a.switching-1, 0)
		if msg.applied || a.switching == 0 {
			a.pendingTab = -1
		}
	}
	a.refreshSnapshot()

	var cmds []tea.Cmd
	// a rejected fetch leaves the previous error in the snapshot
	if err := a.snapshot.Err(); err != nil && msg.applied && msg.action != actionSwitch {
		if a.auth != nil && a.auth.HandleError(err) {
			return a.toLogin(MsgSessionExpired, StatusWarn)
		}
		cmds = append(cmds, a.setStatus(err.Error(), StatusError))
	}

	switch msg.action {
	case actionInit:
		if msg.applied {
			a.cursor = 0
			a.resetScroll()
			a.saveMeta(storage.MetaLastRefresh, a.snapshot.LastRefresh.Format(time.RFC3339))
			if cmd := a.restoreLastTab(); cmd != nil {
				cmds = append(cmds, cmd)
			}
			if a.snapshot.Err() == nil {
				cmds = append(cmds, a.setStatus(a.summary(), StatusInfo))
			}
		}
	case actionSwitch:
		if msg.applied {
			a.cursor = 0
			a.resetScroll()
			a.saveMeta(storage.MetaLastTab, fmt.Sprint(a.snapshot.CurrentTab))
		}
	case actionRefresh, actionPull:
		if msg.applied {
			a.saveMeta(storage.MetaLastRefresh, a.snapshot.LastRefresh.Format(time.RFC3339))
			if a.snapshot.Err() == nil {
				cmds = append(cmds, a.setStatus(a.summary(), StatusSuccess))
			}
		}
	}

	cmds = append(cmds, a.animatePull())
	return tea.Batch(cmds...)
}

func (a *App) summary() string {
	docCount := -1
	if ds, ok := a.searcher.(search.DebugStatser); ok {
		if n, err := ds.DocCount(); err == nil {
			docCount = n
		}
	}
	return MsgRefreshSummary(len(a.snapshot.Tabs), a.snapshot.TotalItems, docCount, a.snapshot.Err() != nil)
}

// restoreLastTab switches to the tab that was open when the client last
// ran, once per process.
func (a *App) restoreLastTab() tea.Cmd {
	if a.tabRestored || a.store == nil {
		return nil
	}
	a.tabRestored = true
	value, found, err := a.store.GetMeta(storage.MetaLastTab)
	if err != nil || !found {
		return nil
	}
	var index int
	if _, err := fmt.Sscan(value, &index); err != nil || index <= 0 || index >= len(a.snapshot.Tabs) {
		return nil
	}
	return a.switchTab(index)
}

func (a *App) saveMeta(key, value string) {
	if a.store == nil {
		return
	}
	if err := a.store.SetMeta(key, value); err != nil {
		debuglog.Warnf("saving %s: %v", key, err)
	}
}

func (a *App) handleLoginDone(msg loginDoneMsg) tea.Cmd {
	a.loggingIn = false
	if msg.err != nil {
		a.err = msg.err
		a.passwordInput.Reset()
		return nil
	}
	a.err = nil
	a.accountInput.Blur()
	a.passwordInput.Blur()
	a.passwordInput.Reset()
	a.view = ViewFeed

	name := msg.session.Account
	if realName, ok := msg.session.User["f_RealName"].(string); ok && realName != "" {
		name = realName
	}
	return tea.Batch(
		a.setStatus(MsgWelcome(name), StatusSuccess),
		a.launch(a.initializeCmd()),
	)
}

// toLogin shows the login form, keeping the last account entered.
func (a *App) toLogin(message string, kind StatusKind) tea.Cmd {
	a.view = ViewLogin
	a.currentItem = nil
	a.profile = nil
	a.cameFromSearch = false
	a.passwordInput.Reset()
	a.passwordInput.Blur()
	a.accountInput.Focus()
	if strings.TrimSpace(a.accountInput.Value()) != "" {
		a.accountInput.Blur()
		a.passwordInput.Focus()
	}
	return a.setStatus(message, kind)
}

// renderFeed rebuilds the feed list content from the snapshot.
func (a *App) renderFeed() {
	if a.feedViewport.Width <= 0 {
		return
	}
	width := a.feedViewport.Width
	descLimit := a.config.UI.MaxDescriptionLength
	if descLimit <= 0 || descLimit > width-4 {
		descLimit = max(width-4, 10)
	}

	var b strings.Builder
	for i, item := range a.snapshot.Window {
		b.WriteString(a.renderItem(item, i == a.cursor, width, descLimit))
		b.WriteString("\n")
	}
	switch {
	case a.snapshot.HasMore:
		b.WriteString(renderMuted("  " + MsgScrollForMore + " ↓"))
	case len(a.snapshot.Window) > 0:
		b.WriteString(renderMuted("  " + MsgNoMore))
	}
	a.feedViewport.SetContent(b.String())
}

func (a *App) renderItem(item feed.Item, selected bool, width, descLimit int) string {
	title := item.Title
	if title == "" {
		title = "(untitled)"
	}
	marker := "  "
	if selected {
		marker = "▸ "
	}
	title = truncateEnd(title, width-4)

	var titleLine string
	switch {
	case selected:
		titleLine = marker + SelectedItemStyle.Render(title)
	case a.readIDs[item.ID]:
		titleLine = marker + ReadItemStyle.Render(title)
	default:
		titleLine = marker + UnreadItemStyle.Render("● "+title)
	}

	meta := excerpt(item.Content, descLimit)
	if published, ok := item.Published(); ok {
		stamp := published.Format("Jan 2, 15:04")
		meta = truncateEnd(meta, descLimit-len(stamp)-3)
		if meta != "" {
			meta += " • "
		}
		return titleLine + "\n  " + renderMuted(meta) + TimeStyle.Render(stamp) + "\n"
	}
	return titleLine + "\n  " + renderMuted(meta) + "\n"
}

func (a *App) View() string {
	var content string

	switch a.view {
	case ViewLogin:
		content = a.loginView()
	case ViewFeed:
		content = a.feedView()
	case ViewReader:
		if a.loadingArticle {
			content = renderCentered(a.width, a.height-3, renderMuted(MsgLoadingArticle))
		} else {
			content = a.reader.View()
		}
	case ViewSearch:
		content = a.searchView()
	case ViewProfile:
		content = a.profileView()
	}

	customStatus := a.getCustomStatusBar()
	if customStatus != "" {
		return lipgloss.JoinVertical(lipgloss.Top, content, renderSeparator(a.width-1), customStatus)
	}

	return content
}

func (a *App) loginView() string {
	form := lipgloss.JoinVertical(
		lipgloss.Center,
		GetCompactBanner("Sign in to continue"),
		"",
		renderInputFrame(a.accountInput.View(), a.accountInput.Focused(), a.accountInput.Width),
		renderInputFrame(a.passwordInput.View(), a.passwordInput.Focused(), a.passwordInput.Width),
	)
	if a.loggingIn {
		form = lipgloss.JoinVertical(lipgloss.Center, form, "", a.spinner.View()+" "+MsgLoggingIn)
	}
	return renderCentered(a.width, a.height-3, form)
}

func (a *App) feedView() string {
	subtitle := MsgUpdatedAgo(a.snapshot.LastRefresh, time.Now())
	header := lipgloss.JoinVertical(
		lipgloss.Top,
		renderHeader("› "+AppName, subtitle, a.width),
		renderTabs(a.snapshot.Tabs, a.displayTab(), a.width),
	)

	bodyHeight := max(a.height-feedChrome, 1)
	var body string
	switch {
	case a.snapshot.Phase == feed.PhaseInitializing:
		body = renderCentered(a.width, bodyHeight, a.spinner.View()+" "+MsgLoading)
	case a.snapshot.Phase == feed.PhaseSwitching || a.pendingTab >= 0:
		body = renderCentered(a.width, bodyHeight, a.spinner.View()+" "+MsgSwitching)
	case a.snapshot.Empty():
		body = renderCentered(a.width, bodyHeight, GetCompactBanner(MsgNoNews))
	default:
		body = a.feedViewport.View()
	}
	if indicator := a.pullIndicator(); indicator != "" {
		body = lipgloss.JoinVertical(lipgloss.Top, indicator, body)
	}

	return lipgloss.JoinVertical(lipgloss.Top, header, ContentWrapper(a.width, bodyHeight).Render(body))
}

func (a *App) searchView() string {
	searchInputWidth := max(a.width-8, 10)
	a.searchInput.Width = searchInputWidth

	searchHeader := "› search"
	if a.previousView == ViewReader && a.currentItem != nil {
		searchHeader = truncateEnd("› search in article: "+a.currentItem.Title, a.width-2)
	}

	var helpText string
	switch {
	case a.searchInput.Focused():
		helpText = "Type to search • Tab/↓: results • Esc: back"
	case len(a.searchList.Items()) > 0:
		helpText = "↑↓: navigate • Enter: select • Tab/↑: search box • Esc: back"
	default:
		helpText = "No results found • Tab/↑: search box • Esc: back"
	}

	searchContent := lipgloss.JoinVertical(
		lipgloss.Top,
		HeaderStyle.Render(searchHeader),
		"",
		renderInputFrame(a.searchInput.View(), a.searchInput.Focused(), searchInputWidth),
		renderMuted(helpText),
		"",
		a.searchList.View(),
	)

	return ContentWrapper(a.width, a.height-3).Render(searchContent)
}

func (a *App) getCustomStatusBar() string {
	commands := a.keyHandler.GetHelpForCurrentView()

	if len(commands) == 0 {
		return ""
	}

	style := lipgloss.NewStyle().
		Width(a.width).
		Padding(0, 1).
		Foreground(MutedColor)

	if a.err != nil {
		return style.Render(ErrorMessageStyle.Render(truncateEnd(fmt.Sprintf("✗ %v", a.err), a.width-2)))
	}

	var left string
	switch {
	case a.snapshot.Phase == feed.PhaseRefreshing:
		left = a.spinner.View() + " " + MsgRefreshing
	case a.status != "":
		left = a.statusKind.style()(a.status)
	}

	commandText := strings.Join(commands, " • ")
	if left != "" {
		commandText = left + "  " + commandText
	}
	return style.Render(truncateEnd(commandText, a.width-2))
}

type searchResultItem struct {
	result *search.Result
	read   bool
}

func (i searchResultItem) Title() string {
	title := i.result.Item.Title
	if i.read {
		return ReadItemStyle.Render(title)
	}
	return UnreadItemStyle.Render("● " + title)
}

func (i searchResultItem) Description() string {
	var parts []string
	for _, m := range i.result.Matches {
		if m.Field == "content" && m.Text != "" {
			parts = append(parts, truncateEnd(m.Text, 60))
			break
		}
	}
	if published, ok := i.result.Item.Published(); ok {
		parts = append(parts, published.Format("Jan 2"))
	}
	return lipgloss.NewStyle().
		Foreground(MutedColor).
		Render(strings.Join(parts, " • "))
}

func (i searchResultItem) FilterValue() string {
	return i.result.Item.Title
}
