package tui

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pders01/cspfeed/internal/config"
	"github.com/pders01/cspfeed/internal/debuglog"
	"github.com/pders01/cspfeed/internal/feed"
)

type KeyHandler struct {
	app         *App
	config      *config.Config
	modifierKey string
}

func NewKeyHandler(app *App, cfg *config.Config) *KeyHandler {
	modifierKey := cfg.Keys.Modifier + "+"
	return &KeyHandler{app: app, config: cfg, modifierKey: modifierKey}
}

func (kh *KeyHandler) bindings() config.KeyBindings {
	return kh.config.Keys.Bindings
}

func (kh *KeyHandler) HandleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	if kh.isInTextInputMode() {
		return kh.handleTextInputMode(msg)
	}

	if model, cmd, handled := kh.handleCustomKeys(key); handled {
		return model, cmd
	}

	return kh.delegateToCharm(msg)
}

func (kh *KeyHandler) isInTextInputMode() bool {
	switch kh.app.view {
	case ViewLogin:
		return true
	case ViewSearch:
		return kh.app.searchInput.Focused()
	default:
		return false
	}
}

func (kh *KeyHandler) handleTextInputMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return kh.quit()
	case "esc":
		if kh.app.view == ViewLogin {
			kh.app.err = nil
			return kh.app, nil
		}
		return kh.navigateBack()
	case "enter":
		return kh.handleTextInputEnter()
	case "tab", "down", "shift+tab", "up":
		if kh.app.view == ViewLogin {
			kh.toggleLoginFocus()
			return kh.app, textinput.Blink
		}
		if (msg.String() == "tab" || msg.String() == "down") && len(kh.app.searchList.Items()) > 0 {
			kh.app.searchInput.Blur()
			kh.app.searchList.Select(0)
			return kh.app, nil
		}
		return kh.delegateToTextInput(msg)
	default:
		return kh.delegateToTextInput(msg)
	}
}

func (kh *KeyHandler) toggleLoginFocus() {
	if kh.app.accountInput.Focused() {
		kh.app.accountInput.Blur()
		kh.app.passwordInput.Focus()
		return
	}
	kh.app.passwordInput.Blur()
	kh.app.accountInput.Focus()
}

func (kh *KeyHandler) handleTextInputEnter() (tea.Model, tea.Cmd) {
	switch kh.app.view {
	case ViewLogin:
		if kh.app.loggingIn {
			return kh.app, nil
		}
		account := strings.TrimSpace(kh.app.accountInput.Value())
		if kh.app.accountInput.Focused() && account != "" && kh.app.passwordInput.Value() == "" {
			kh.toggleLoginFocus()
			return kh.app, nil
		}
		if kh.app.auth == nil {
			return kh.app, nil
		}
		kh.app.err = nil
		kh.app.loggingIn = true
		return kh.app, tea.Batch(
			kh.app.startSpinner(),
			kh.app.loginCmd(account, kh.app.passwordInput.Value()),
		)

	case ViewSearch:
		if items := kh.app.searchList.Items(); len(items) > 0 {
			if i, ok := items[0].(searchResultItem); ok {
				return kh.selectSearchResult(i)
			}
		}
		return kh.app, nil

	default:
		return kh.app, nil
	}
}

// delegateToTextInput passes the key to the focused text input
func (kh *KeyHandler) delegateToTextInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch kh.app.view {
	case ViewLogin:
		if kh.app.accountInput.Focused() {
			kh.app.accountInput, cmd = kh.app.accountInput.Update(msg)
		} else {
			kh.app.passwordInput, cmd = kh.app.passwordInput.Update(msg)
		}
		return kh.app, cmd

	case ViewSearch:
		prev := kh.sanitizeSearchInput(kh.app.searchInput.Value())
		kh.app.searchInput, cmd = kh.app.searchInput.Update(msg)

		query := kh.sanitizeSearchInput(kh.app.searchInput.Value())
		if query == prev {
			return kh.app, cmd
		}
		kh.app.searchSeq++
		if len([]rune(query)) < 2 {
			return kh.app, tea.Batch(cmd, kh.app.searchList.SetItems([]list.Item{}))
		}
		seq := kh.app.searchSeq
		return kh.app, tea.Batch(cmd, tea.Tick(searchDebounce, func(time.Time) tea.Msg {
			return searchDebounceMsg{seq: seq, query: query}
		}))

	default:
		return kh.app, nil
	}
}

// handleCustomKeys handles only our custom action keys
func (kh *KeyHandler) handleCustomKeys(key string) (tea.Model, tea.Cmd, bool) {
	switch key {
	case "ctrl+c", kh.bindings().Quit:
		model, cmd := kh.quit()
		return model, cmd, true
	case kh.bindings().Back:
		model, cmd := kh.navigateBack()
		return model, cmd, true
	case kh.bindings().Search:
		if kh.app.view == ViewFeed || kh.app.view == ViewReader {
			model, cmd := kh.enterSearchMode()
			return model, cmd, true
		}
	case kh.modifierKey + kh.bindings().Logout:
		if kh.app.auth != nil {
			model, cmd := kh.logout()
			return model, cmd, true
		}
	case kh.bindings().Profile:
		if kh.app.profiles != nil && kh.app.view == ViewFeed {
			return kh.app, kh.app.openProfile(false), true
		}
	}

	switch kh.app.view {
	case ViewFeed:
		return kh.handleFeedCustomKeys(key)
	case ViewProfile:
		if key == kh.modifierKey+kh.bindings().Refresh && !kh.app.loadingProfile {
			return kh.app, kh.app.openProfile(true), true
		}
		return kh.app, nil, false
	default:
		return kh.app, nil, false
	}
}

// handleFeedCustomKeys handles tab switching, list movement and refresh
func (kh *KeyHandler) handleFeedCustomKeys(key string) (tea.Model, tea.Cmd, bool) {
	app := kh.app
	tabs := len(app.snapshot.Tabs)

	switch key {
	case kh.modifierKey + kh.bindings().Refresh:
		app.err = nil
		if app.snapshot.Busy() {
			return app, nil, true
		}
		return app, app.launch(app.refreshCmd()), true
	case "tab", "right":
		if tabs > 0 {
			return app, app.switchTab((app.displayTab() + 1) % tabs), true
		}
		return app, nil, true
	case "shift+tab", "left":
		if tabs > 0 {
			return app, app.switchTab((app.displayTab() - 1 + tabs) % tabs), true
		}
		return app, nil, true
	case "1", "2", "3", "4", "5", "6", "7", "8", "9":
		return app, app.switchTab(int(key[0] - '1')), true
	case "down", "j":
		kh.moveCursor(1)
		return app, nil, true
	case "up", "k":
		kh.moveCursor(-1)
		return app, nil, true
	case "pgdown", " ":
		kh.moveCursor(max(app.feedViewport.Height/itemHeight, 1))
		return app, nil, true
	case "pgup":
		kh.moveCursor(-max(app.feedViewport.Height/itemHeight, 1))
		return app, nil, true
	case "home", "g":
		kh.moveCursor(-len(app.snapshot.Window))
		return app, nil, true
	case "end", "G":
		kh.moveCursor(len(app.snapshot.Window))
		return app, nil, true
	case "enter":
		if item, ok := app.selectedItem(); ok {
			app.cameFromSearch = false
			return app, kh.openItem(item), true
		}
		return app, nil, true
	}
	return app, nil, false
}

// moveCursor moves the selection and scrolls with it, which may reveal
// the next page.
func (kh *KeyHandler) moveCursor(delta int) {
	app := kh.app
	if len(app.snapshot.Window) == 0 {
		return
	}
	app.cursor = min(max(app.cursor+delta, 0), len(app.snapshot.Window)-1)
	app.renderFeed()
	app.ensureCursorVisible()
	app.syncScroll()
}

// delegateToCharm lets Charm handle all keys we don't intercept
func (kh *KeyHandler) delegateToCharm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch kh.app.view {
	case ViewSearch:
		if !kh.app.searchInput.Focused() {
			switch msg.String() {
			case "tab", "shift+tab", "/":
				kh.app.searchInput.Focus()
				return kh.app, nil
			case "up":
				if len(kh.app.searchList.Items()) > 0 && kh.app.searchList.Index() == 0 {
					kh.app.searchInput.Focus()
					return kh.app, nil
				}
			}
		}

		kh.app.searchList, cmd = kh.app.searchList.Update(msg)
		if msg.String() == "enter" && !kh.app.searchInput.Focused() {
			if i, ok := kh.app.searchList.SelectedItem().(searchResultItem); ok {
				return kh.selectSearchResult(i)
			}
		}
		return kh.app, cmd

	case ViewReader:
		kh.app.reader, cmd = kh.app.reader.Update(msg)
		return kh.app, cmd

	default:
		return kh.app, nil
	}
}

// openItem shows item in the reader.
func (kh *KeyHandler) openItem(item feed.Item) tea.Cmd {
	app := kh.app
	app.currentItem = &item
	app.loadingArticle = true
	app.view = ViewReader
	return tea.Batch(app.startSpinner(), app.renderArticle(item))
}

func (kh *KeyHandler) selectSearchResult(result searchResultItem) (tea.Model, tea.Cmd) {
	if result.result == nil {
		return kh.app, nil
	}
	kh.app.cameFromSearch = true
	return kh.app, kh.openItem(result.result.Item)
}

// navigateBack implements smart back navigation
func (kh *KeyHandler) navigateBack() (tea.Model, tea.Cmd) {
	switch kh.app.view {
	case ViewSearch:
		kh.app.view = kh.app.previousView
		kh.app.searchSeq++
		kh.app.searchInput.Reset()
		kh.app.searchInput.Blur()
		return kh.app, kh.app.searchList.SetItems([]list.Item{})

	case ViewReader:
		kh.app.loadingArticle = false
		if kh.app.cameFromSearch {
			kh.app.view = ViewSearch
			kh.app.cameFromSearch = false
			kh.app.searchInput.Blur()
			return kh.app, nil
		}
		kh.app.view = ViewFeed
		kh.app.currentItem = nil
		kh.app.renderFeed()
		return kh.app, nil

	case ViewProfile:
		kh.app.err = nil
		kh.app.loadingProfile = false
		kh.app.view = kh.app.previousView
		kh.app.renderFeed()
		return kh.app, nil

	case ViewFeed:
		kh.app.err = nil
		return kh.app, nil

	default:
		return kh.app, nil
	}
}

// enterSearchMode transitions to search view
func (kh *KeyHandler) enterSearchMode() (tea.Model, tea.Cmd) {
	kh.app.previousView = kh.app.view
	kh.app.cameFromSearch = false
	kh.app.view = ViewSearch
	kh.app.searchSeq++
	kh.app.searchInput.Reset()
	kh.app.searchInput.Focus()
	return kh.app, kh.app.searchList.SetItems([]list.Item{})
}

func (kh *KeyHandler) logout() (tea.Model, tea.Cmd) {
	if err := kh.app.auth.Logout(); err != nil {
		debuglog.Errorf("%v", err)
		kh.app.err = err
	}
	return kh.app, kh.app.toLogin(MsgLoggedOut, StatusInfo)
}

func (kh *KeyHandler) quit() (tea.Model, tea.Cmd) {
	kh.app.cancel()
	return kh.app, tea.Quit
}

// sanitizeSearchInput sanitizes and limits search input length
func (kh *KeyHandler) sanitizeSearchInput(input string) string {
	input = strings.Join(strings.Fields(input), " ")
	if r := []rune(input); len(r) > 256 {
		input = string(r[:256])
	}
	return input
}

// GetHelpForCurrentView returns only our custom help text
func (kh *KeyHandler) GetHelpForCurrentView() []string {
	b := kh.bindings()
	switch kh.app.view {
	case ViewLogin:
		return []string{"tab: next field", "enter: log in", "ctrl+c: quit"}

	case ViewFeed:
		help := []string{"←/→: tabs", "↑/↓: move", "enter: open", kh.modifierKey + b.Refresh + ": refresh", b.Search + ": search"}
		if kh.app.profiles != nil {
			help = append(help, b.Profile+": profile")
		}
		if kh.app.auth != nil {
			help = append(help, kh.modifierKey+b.Logout+": logout")
		}
		return append(help, b.Quit+": quit")

	case ViewProfile:
		return []string{kh.modifierKey + b.Refresh + ": reload", b.Back + ": back"}

	case ViewReader:
		return []string{"↑/↓: scroll", b.Search + ": search in article", b.Back + ": back"}

	case ViewSearch:
		return []string{b.Back + ": back"}

	default:
		return []string{}
	}
}
