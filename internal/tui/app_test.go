package tui

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/cspfeed/internal/api"
	"github.com/pders01/cspfeed/internal/auth"
	"github.com/pders01/cspfeed/internal/config"
	"github.com/pders01/cspfeed/internal/feed"
	"github.com/pders01/cspfeed/internal/search"
	"github.com/pders01/cspfeed/internal/storage"
)

type stubSource struct {
	mu       sync.Mutex
	tabs     []feed.Tab
	items    []feed.Item
	tabsErr  error
	itemsErr error
	fetches  int
}

func (s *stubSource) FetchTabs(ctx context.Context) ([]feed.Tab, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]feed.Tab(nil), s.tabs...), s.tabsErr
}

func (s *stubSource) FetchItems(ctx context.Context) ([]feed.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	return append([]feed.Item(nil), s.items...), s.itemsErr
}

func (s *stubSource) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

type stubBackend struct {
	result *api.LoginResult
	err    error
}

func (b *stubBackend) Login(ctx context.Context, req api.LoginRequest) (*api.LoginResult, error) {
	return b.result, b.err
}

// newsSource has three tabs with 25, 4 and 2 items.
func newsSource() *stubSource {
	src := &stubSource{
		tabs: []feed.Tab{
			{ID: "1", Name: "Latest News"},
			{ID: "2", Name: "Announcements"},
			{ID: "3", Name: "Activities"},
		},
	}
	for tab, n := range []int{25, 4, 2} {
		for i := 0; i < n; i++ {
			src.items = append(src.items, feed.Item{
				ID:            fmt.Sprintf("t%d-%d", tab+1, i),
				Title:         fmt.Sprintf("Tab %d story %d", tab+1, i),
				Content:       fmt.Sprintf("<p>Body of story %d about alpha</p>", i),
				PublishedDate: "2026-10-01 08:30:00",
				Type:          tab + 1,
			})
		}
	}
	src.items[3].Title += " harvest festival"
	return src
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "tui.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

type testEnv struct {
	app      *App
	source   *stubSource
	store    *storage.Store
	auth     *auth.Manager
	searcher search.Searcher
}

func newTestEnv(t *testing.T, src *stubSource, backend auth.Backend) *testEnv {
	t.Helper()
	cfg := config.TestConfig()
	store := newTestStore(t)

	controller := feed.NewController(src, feed.OptionsFromConfig(cfg.Feed))
	searcher := search.NewEngine()
	controller.AddListener(searcher)

	env := &testEnv{source: src, store: store, searcher: searcher}
	deps := Deps{Controller: controller, Searcher: searcher, Store: store}
	if backend != nil {
		env.auth = auth.NewManager(backend, store)
		env.auth.Restore()
		deps.Auth = env.auth
	}
	env.app = NewApp(deps, cfg)
	env.app.Update(tea.WindowSizeMsg{Width: 80, Height: 20})
	return env
}

// pump runs cmd and feeds every resulting message back into the app until
// nothing is left. Spinner and spring frames are dropped, and commands
// that do not return quickly (status expiry timers) are abandoned.
func pump(t *testing.T, app *App, cmd tea.Cmd) {
	t.Helper()
	queue := []tea.Cmd{cmd}
	for steps := 0; len(queue) > 0; steps++ {
		require.Less(t, steps, 500, "message loop did not settle")
		next := queue[0]
		queue = queue[1:]
		if next == nil {
			continue
		}

		done := make(chan tea.Msg, 1)
		go func() { done <- next() }()
		var msg tea.Msg
		select {
		case msg = <-done:
		case <-time.After(300 * time.Millisecond):
			continue
		}

		switch m := msg.(type) {
		case nil, spinner.TickMsg, pullTickMsg:
			continue
		case tea.BatchMsg:
			queue = append(queue, m...)
			continue
		}
		_, follow := app.Update(msg)
		queue = append(queue, follow)
	}
}

func press(t *testing.T, app *App, msg tea.KeyMsg) {
	t.Helper()
	_, cmd := app.Update(msg)
	pump(t, app, cmd)
}

func typeText(t *testing.T, app *App, text string) {
	t.Helper()
	for _, r := range text {
		press(t, app, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
}

func TestNewApp_StartView(t *testing.T) {
	withoutAuth := newTestEnv(t, newsSource(), nil)
	assert.Equal(t, ViewFeed, withoutAuth.app.view, "sources without login open the feed")

	withAuth := newTestEnv(t, newsSource(), &stubBackend{})
	assert.Equal(t, ViewLogin, withAuth.app.view, "no stored session means login first")
	assert.True(t, withAuth.app.accountInput.Focused())
}

func TestNewApp_RestoredSessionSkipsLogin(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SaveSession(&storage.Session{
		Token: "opaque",
		User:  map[string]interface{}{"token": "opaque"},
	}))

	cfg := config.TestConfig()
	manager := auth.NewManager(&stubBackend{}, store)
	_, ok := manager.Restore()
	require.True(t, ok)

	controller := feed.NewController(newsSource(), feed.OptionsFromConfig(cfg.Feed))
	app := NewApp(Deps{Controller: controller, Auth: manager, Store: store}, cfg)
	assert.Equal(t, ViewFeed, app.view)
}

func TestApp_InitLoadsFirstPage(t *testing.T) {
	env := newTestEnv(t, newsSource(), nil)
	app := env.app

	pump(t, app, app.Init())

	assert.Len(t, app.snapshot.Tabs, 3)
	assert.Equal(t, 0, app.snapshot.CurrentTab)
	assert.Len(t, app.snapshot.Window, 10)
	assert.True(t, app.snapshot.HasMore)
	assert.Equal(t, 0, app.inflight)

	view := app.View()
	assert.Contains(t, view, "Latest News")
	assert.Contains(t, view, "Tab 1 story 0")
	assert.NotContains(t, view, "Tab 2 story 0")
}

func TestApp_InitFailureShowsError(t *testing.T) {
	src := newsSource()
	src.itemsErr = fmt.Errorf("backend down")
	env := newTestEnv(t, src, nil)

	pump(t, env.app, env.app.Init())

	assert.True(t, env.app.snapshot.Empty())
	assert.Contains(t, env.app.status, "backend down")
	assert.Equal(t, StatusError, env.app.statusKind)
	assert.Contains(t, env.app.View(), MsgNoNews)
}

func TestApp_UnauthorizedReturnsToLogin(t *testing.T) {
	src := newsSource()
	src.tabsErr = fmt.Errorf("fetching tabs: %w", &api.APIError{Status: 410})

	store := newTestStore(t)
	require.NoError(t, store.SaveSession(&storage.Session{
		Token:   "opaque",
		Account: "system",
		User:    map[string]interface{}{"token": "opaque"},
	}))

	cfg := config.TestConfig()
	manager := auth.NewManager(&stubBackend{}, store)
	_, ok := manager.Restore()
	require.True(t, ok)
	controller := feed.NewController(src, feed.OptionsFromConfig(cfg.Feed))
	app := NewApp(Deps{Controller: controller, Auth: manager, Store: store}, cfg)
	app.Update(tea.WindowSizeMsg{Width: 80, Height: 20})
	require.Equal(t, ViewFeed, app.view)

	pump(t, app, app.Init())

	assert.Equal(t, ViewLogin, app.view)
	assert.Equal(t, MsgSessionExpired, app.status)
	assert.Nil(t, manager.Session())
	_, err := store.GetSession()
	assert.ErrorIs(t, err, storage.ErrNoSession)
}

func TestApp_LoginFlow(t *testing.T) {
	backend := &stubBackend{result: &api.LoginResult{
		Token: "tok-1",
		User:  map[string]interface{}{"f_RealName": "Admin"},
	}}
	env := newTestEnv(t, newsSource(), backend)
	app := env.app
	require.Equal(t, ViewLogin, app.view)

	typeText(t, app, "system")
	press(t, app, tea.KeyMsg{Type: tea.KeyEnter})
	assert.True(t, app.passwordInput.Focused(), "enter on the account field moves to the password")

	typeText(t, app, "admin123")
	assert.Contains(t, app.View(), "••••••••")
	assert.NotContains(t, app.View(), "admin123")

	press(t, app, tea.KeyMsg{Type: tea.KeyEnter})

	assert.Equal(t, ViewFeed, app.view)
	assert.Equal(t, "tok-1", env.auth.Token())
	assert.Len(t, app.snapshot.Window, 10)
	assert.Empty(t, app.passwordInput.Value())
}

func TestApp_LoginError(t *testing.T) {
	backend := &stubBackend{err: &api.APIError{Status: 200, Code: 500, Info: "wrong password"}}
	env := newTestEnv(t, newsSource(), backend)
	app := env.app

	typeText(t, app, "system")
	press(t, app, tea.KeyMsg{Type: tea.KeyTab})
	typeText(t, app, "nope")
	press(t, app, tea.KeyMsg{Type: tea.KeyEnter})

	assert.Equal(t, ViewLogin, app.view)
	require.Error(t, app.err)
	assert.Contains(t, app.View(), "wrong password")
	assert.False(t, app.loggingIn)
}

func TestApp_OpenReaderMarksRead(t *testing.T) {
	env := newTestEnv(t, newsSource(), nil)
	app := env.app
	pump(t, app, app.Init())

	press(t, app, tea.KeyMsg{Type: tea.KeyDown})
	press(t, app, tea.KeyMsg{Type: tea.KeyEnter})

	assert.Equal(t, ViewReader, app.view)
	require.NotNil(t, app.currentItem)
	assert.Equal(t, "t1-1", app.currentItem.ID)
	assert.False(t, app.loadingArticle)
	assert.Contains(t, app.reader.View(), "story 1")
	assert.True(t, env.store.IsRead("t1-1"))
	assert.True(t, app.readIDs["t1-1"])

	press(t, app, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, ViewFeed, app.view)
	assert.Nil(t, app.currentItem)
}

func TestApp_RefreshKey(t *testing.T) {
	env := newTestEnv(t, newsSource(), nil)
	app := env.app
	pump(t, app, app.Init())
	require.Equal(t, 1, env.source.fetchCount())

	press(t, app, tea.KeyMsg{Type: tea.KeyCtrlR})

	assert.Equal(t, 2, env.source.fetchCount())
	assert.Equal(t, feed.PhaseIdle, app.snapshot.Phase)
	assert.Equal(t, StatusSuccess, app.statusKind)
	assert.Contains(t, app.status, "3 tabs • 31 news")
}

func TestApp_RestoresLastTab(t *testing.T) {
	env := newTestEnv(t, newsSource(), nil)
	require.NoError(t, env.store.SetMeta(storage.MetaLastTab, "2"))

	pump(t, env.app, env.app.Init())

	assert.Equal(t, 2, env.app.snapshot.CurrentTab)
	assert.Len(t, env.app.snapshot.Window, 2)
}

func TestApp_SwitchPersistsLastTab(t *testing.T) {
	env := newTestEnv(t, newsSource(), nil)
	pump(t, env.app, env.app.Init())

	press(t, env.app, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("2")})

	value, found, err := env.store.GetMeta(storage.MetaLastTab)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "1", value)
}

func TestApp_SearchFlow(t *testing.T) {
	env := newTestEnv(t, newsSource(), nil)
	app := env.app
	pump(t, app, app.Init())

	press(t, app, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("/")})
	require.Equal(t, ViewSearch, app.view)
	assert.True(t, app.searchInput.Focused())

	typeText(t, app, "harvest")
	require.Len(t, app.searchList.Items(), 1)
	first, ok := app.searchList.Items()[0].(searchResultItem)
	require.True(t, ok)
	assert.Equal(t, "t1-3", first.result.Item.ID)

	press(t, app, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, ViewReader, app.view)
	assert.True(t, app.cameFromSearch)

	press(t, app, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, ViewSearch, app.view, "back from a search hit returns to the results")

	press(t, app, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, ViewFeed, app.view)
	assert.Empty(t, app.searchList.Items())
}

func TestApp_StatusExpires(t *testing.T) {
	env := newTestEnv(t, newsSource(), nil)
	app := env.app

	app.setStatus("first", StatusInfo)
	seq := app.statusSeq
	app.setStatus("second", StatusWarn)

	app.Update(clearStatusMsg{seq: seq})
	assert.Equal(t, "second", app.status, "a stale timer keeps the newer message")

	app.Update(clearStatusMsg{seq: app.statusSeq})
	assert.Empty(t, app.status)
}

func TestApp_ViewBeforeResize(t *testing.T) {
	cfg := config.TestConfig()
	controller := feed.NewController(newsSource(), feed.OptionsFromConfig(cfg.Feed))
	app := NewApp(Deps{Controller: controller}, cfg)

	assert.NotPanics(t, func() { _ = app.View() })
}

func TestApp_RejectedFetchKeepsQuiet(t *testing.T) {
	src := newsSource()
	src.tabsErr = fmt.Errorf("fetching tabs: %w", &api.APIError{Status: 410})

	store := newTestStore(t)
	session := &storage.Session{Token: "opaque", Account: "system", User: map[string]interface{}{"token": "opaque"}}
	require.NoError(t, store.SaveSession(session))

	cfg := config.TestConfig()
	manager := auth.NewManager(&stubBackend{}, store)
	_, ok := manager.Restore()
	require.True(t, ok)
	controller := feed.NewController(src, feed.OptionsFromConfig(cfg.Feed))
	app := NewApp(Deps{Controller: controller, Auth: manager, Store: store}, cfg)
	app.Update(tea.WindowSizeMsg{Width: 80, Height: 20})

	pump(t, app, app.Init())
	require.Equal(t, ViewLogin, app.view)
	require.Error(t, app.controller.Snapshot().Err(), "the failed fetch is still recorded")

	// a new session, then a refresh the controller refused
	require.NoError(t, store.SaveSession(session))
	_, ok = manager.Restore()
	require.True(t, ok)
	app.view = ViewFeed
	app.status = ""

	for _, action := range []feedAction{actionRefresh, actionPull, actionInit} {
		_, cmd := app.Update(feedUpdatedMsg{action: action, applied: false})
		pump(t, app, cmd)

		assert.Equal(t, ViewFeed, app.view, "%v", action)
		assert.Empty(t, app.status)
		assert.NotNil(t, manager.Session(), "an old error does not end the new session")
	}
}
