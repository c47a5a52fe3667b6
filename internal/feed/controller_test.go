package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/cspfeed/internal/config"
)

type fakeSource struct {
	mu        sync.Mutex
	tabs      []Tab
	items     []Item
	tabsErr   error
	itemsErr  error
	itemCalls int
	tabCalls  int
	gate      chan struct{}
}

func (f *fakeSource) FetchTabs(ctx context.Context) ([]Tab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tabCalls++
	return append([]Tab(nil), f.tabs...), f.tabsErr
}

func (f *fakeSource) FetchItems(ctx context.Context) ([]Item, error) {
	f.mu.Lock()
	gate := f.gate
	f.itemCalls++
	items, err := append([]Item(nil), f.items...), f.itemsErr
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return items, err
}

func (f *fakeSource) set(tabs []Tab, items []Item, tabsErr, itemsErr error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tabs, f.items, f.tabsErr, f.itemsErr = tabs, items, tabsErr, itemsErr
}

func (f *fakeSource) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.itemCalls
}

// sleepGate blocks each sleep call until its own release channel closes.
type sleepGate struct {
	mu      sync.Mutex
	n       int
	entered chan struct{}
	release []chan struct{}
}

func newSleepGate(calls int) *sleepGate {
	g := &sleepGate{entered: make(chan struct{}, calls)}
	for i := 0; i < calls; i++ {
		g.release = append(g.release, make(chan struct{}))
	}
	return g
}

func (g *sleepGate) sleep(ctx context.Context, _ time.Duration) error {
	g.mu.Lock()
	idx := g.n
	g.n++
	g.mu.Unlock()
	g.entered <- struct{}{}
	<-g.release[idx]
	return nil
}

func makeTabs(n int) []Tab {
	tabs := make([]Tab, n)
	for i := range tabs {
		tabs[i] = Tab{ID: fmt.Sprint(i + 1), Name: fmt.Sprintf("Tab %d", i+1)}
	}
	return tabs
}

// makeItems builds items interleaved across types; counts[i] items get type i+1.
func makeItems(counts ...int) []Item {
	var items []Item
	remaining := append([]int(nil), counts...)
	for n := 0; ; n++ {
		added := false
		for t := range remaining {
			if remaining[t] > 0 {
				remaining[t]--
				items = append(items, Item{ID: fmt.Sprintf("t%d-%d", t+1, n), Title: "item", Type: t + 1})
				added = true
			}
		}
		if !added {
			return items
		}
	}
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.SwitchDelay = 0
	return opts
}

func newTestController(t *testing.T, src *fakeSource) *Controller {
	t.Helper()
	c := NewController(src, testOptions())
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func assertWindowInvariants(t *testing.T, s Snapshot) {
	t.Helper()
	assert.Len(t, s.Window, s.Cursor)
	assert.LessOrEqual(t, s.Cursor, s.FilteredLen)
	assert.Equal(t, s.Cursor < s.FilteredLen, s.HasMore)
	for _, item := range s.Window {
		assert.Equal(t, s.CurrentTab+1, item.Type)
	}
}

func TestController_InitializeScenario(t *testing.T) {
	src := &fakeSource{tabs: makeTabs(3), items: makeItems(10, 12, 3)}
	c := newTestController(t, src)

	require.True(t, c.Initialize(context.Background()))

	s := c.Snapshot()
	assert.Equal(t, PhaseIdle, s.Phase)
	assert.Equal(t, 0, s.CurrentTab)
	assert.Equal(t, 25, s.TotalItems)
	assert.Equal(t, 10, s.FilteredLen)
	assert.Equal(t, 10, s.Cursor)
	assert.False(t, s.HasMore)
	assert.Len(t, s.Window, 10)
	assert.NoError(t, s.Err())
	assertWindowInvariants(t, s)

	assert.False(t, c.LoadMore())
	assert.Equal(t, s.Window, c.Snapshot().Window)
}

func TestController_InitializePartialFailure(t *testing.T) {
	t.Run("tabs fail", func(t *testing.T) {
		src := &fakeSource{items: makeItems(3), tabsErr: errors.New("dictionary down")}
		c := newTestController(t, src)
		c.Initialize(context.Background())

		s := c.Snapshot()
		assert.Empty(t, s.Tabs)
		assert.Len(t, s.Window, 3)
		assert.Error(t, s.TabsErr)
		assert.NoError(t, s.ItemsErr)
	})

	t.Run("items fail", func(t *testing.T) {
		src := &fakeSource{tabs: makeTabs(2), itemsErr: errors.New("list down")}
		c := newTestController(t, src)
		c.Initialize(context.Background())

		s := c.Snapshot()
		assert.Len(t, s.Tabs, 2)
		assert.Empty(t, s.Window)
		assert.True(t, s.Empty())
		assert.False(t, s.HasMore)
		assert.Error(t, s.ItemsErr)
		assert.Error(t, s.Err())
	})

	t.Run("empty result", func(t *testing.T) {
		c := newTestController(t, &fakeSource{tabs: makeTabs(1)})
		c.Initialize(context.Background())
		s := c.Snapshot()
		assert.True(t, s.Empty())
		assert.NoError(t, s.Err())
	})
}

func TestController_InitializeOnlyFromIdle(t *testing.T) {
	gate := make(chan struct{})
	src := &fakeSource{tabs: makeTabs(2), items: makeItems(5, 5), gate: gate}
	c := newTestController(t, src)

	done := make(chan bool)
	go func() { done <- c.Initialize(context.Background()) }()

	require.Eventually(t, func() bool { return c.Snapshot().Phase == PhaseInitializing }, time.Second, time.Millisecond)
	assert.False(t, c.Initialize(context.Background()))
	assert.False(t, c.Refresh(context.Background()))
	assert.False(t, c.SwitchTab(context.Background(), 1))
	assert.False(t, c.LoadMore())

	close(gate)
	assert.True(t, <-done)
	assert.Equal(t, 1, src.calls())
}

func TestController_LoadMore(t *testing.T) {
	src := &fakeSource{tabs: makeTabs(1), items: makeItems(25)}
	c := newTestController(t, src)
	c.Initialize(context.Background())

	prev := c.Snapshot()
	assert.Equal(t, 10, prev.Cursor)
	assert.True(t, prev.HasMore)

	for _, want := range []int{20, 25} {
		require.True(t, c.LoadMore())
		s := c.Snapshot()
		assert.Equal(t, want, s.Cursor)
		assert.GreaterOrEqual(t, s.Cursor, prev.Cursor)
		assert.Equal(t, prev.Window, s.Window[:len(prev.Window)])
		assertWindowInvariants(t, s)
		prev = s
	}

	assert.False(t, prev.HasMore)
	assert.False(t, c.LoadMore())
	once := c.Snapshot()
	assert.False(t, c.LoadMore())
	assert.Equal(t, once, c.Snapshot())
}

func TestController_SwitchTabFiltersByType(t *testing.T) {
	src := &fakeSource{tabs: makeTabs(4), items: makeItems(12, 7, 0, 30)}
	c := newTestController(t, src)
	c.Initialize(context.Background())

	for _, tab := range []int{1, 3, 2, 0, 3} {
		require.True(t, c.SwitchTab(context.Background(), tab))
		s := c.Snapshot()
		assert.Equal(t, tab, s.CurrentTab)
		assert.Equal(t, PhaseIdle, s.Phase)
		assertWindowInvariants(t, s)
	}

	c.LoadMore()
	require.True(t, c.SwitchTab(context.Background(), 3))
	assert.Equal(t, 10, c.Snapshot().Cursor, "switching resets the cursor")

	require.True(t, c.SwitchTab(context.Background(), 2))
	assert.True(t, c.Snapshot().Empty())
}

func TestController_SwitchTabRejectsInvalidIndex(t *testing.T) {
	c := newTestController(t, &fakeSource{tabs: makeTabs(2), items: makeItems(3, 3)})
	c.Initialize(context.Background())

	assert.False(t, c.SwitchTab(context.Background(), -1))
	assert.False(t, c.SwitchTab(context.Background(), 2))
	assert.Equal(t, 0, c.Snapshot().CurrentTab)
}

func TestController_SwitchTabHighlightsImmediately(t *testing.T) {
	c := newTestController(t, &fakeSource{tabs: makeTabs(2), items: makeItems(25, 25)})
	c.Initialize(context.Background())
	gate := newSleepGate(1)
	c.sleep = gate.sleep

	done := make(chan bool)
	go func() { done <- c.SwitchTab(context.Background(), 1) }()
	<-gate.entered

	s := c.Snapshot()
	assert.Equal(t, 1, s.CurrentTab)
	assert.Equal(t, PhaseSwitching, s.Phase)
	assert.True(t, s.Busy())
	// Still the old tab's window while the delay runs
	assert.Equal(t, 1, s.Window[0].Type)

	assert.False(t, c.OnScroll(900, 1000, 50), "scroll loads are suppressed while switching")
	assert.False(t, c.LoadMore())
	assert.False(t, c.Refresh(context.Background()))

	close(gate.release[0])
	assert.True(t, <-done)
	s = c.Snapshot()
	assert.Equal(t, 10, s.Cursor)
	assertWindowInvariants(t, s)
}

func TestController_SwitchTabSupersedes(t *testing.T) {
	for _, order := range [][]int{{0, 1}, {1, 0}} {
		t.Run(fmt.Sprintf("release %v", order), func(t *testing.T) {
			c := newTestController(t, &fakeSource{tabs: makeTabs(3), items: makeItems(5, 6, 7)})
			c.Initialize(context.Background())
			gate := newSleepGate(2)
			c.sleep = gate.sleep

			first := make(chan bool)
			second := make(chan bool)
			go func() { first <- c.SwitchTab(context.Background(), 1) }()
			<-gate.entered
			go func() { second <- c.SwitchTab(context.Background(), 2) }()
			<-gate.entered

			results := []chan bool{first, second}
			got := make([]bool, 2)
			for _, idx := range order {
				close(gate.release[idx])
				got[idx] = <-results[idx]
			}

			assert.False(t, got[0], "superseded switch is dropped")
			assert.True(t, got[1])

			s := c.Snapshot()
			assert.Equal(t, 2, s.CurrentTab)
			assert.Equal(t, PhaseIdle, s.Phase)
			assert.Len(t, s.Window, 7)
			assertWindowInvariants(t, s)
		})
	}
}

func TestController_SwitchTabCancelledContext(t *testing.T) {
	opts := testOptions()
	opts.SwitchDelay = time.Hour
	c := NewController(&fakeSource{tabs: makeTabs(2), items: makeItems(2, 2)}, opts)
	c.Initialize(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	assert.True(t, c.SwitchTab(ctx, 1))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 2, c.Snapshot().Window[0].Type)
}

func TestController_OnScroll(t *testing.T) {
	c := newTestController(t, &fakeSource{tabs: makeTabs(1), items: makeItems(25)})
	c.Initialize(context.Background())

	// 1000 - 100 - 700 = 200, not yet near the bottom
	assert.False(t, c.OnScroll(100, 1000, 700))
	assert.Equal(t, 10, c.Snapshot().Cursor)

	// 1000 - 250 - 700 = 50
	assert.True(t, c.OnScroll(250, 1000, 700))
	assert.Equal(t, 20, c.Snapshot().Cursor)

	// exactly at the threshold does not load
	assert.False(t, c.OnScroll(200, 1000, 700))
}

func TestController_Refresh(t *testing.T) {
	src := &fakeSource{tabs: makeTabs(3), items: makeItems(3, 3, 3)}
	c := newTestController(t, src)
	c.Initialize(context.Background())
	require.True(t, c.SwitchTab(context.Background(), 1))

	src.set(makeTabs(3), makeItems(1, 15, 1), nil, nil)
	require.True(t, c.Refresh(context.Background()))

	s := c.Snapshot()
	assert.Equal(t, 1, s.CurrentTab, "current tab is preserved")
	assert.Equal(t, 15, s.FilteredLen)
	assert.Equal(t, 10, s.Cursor)
	assert.True(t, s.HasMore)
	assert.Equal(t, PhaseIdle, s.Phase)
	assertWindowInvariants(t, s)
}

func TestController_RefreshKeepsDataOnFailure(t *testing.T) {
	tests := []struct {
		name     string
		tabs     []Tab
		items    []Item
		tabsErr  error
		itemsErr error
	}{
		{name: "both fail", tabsErr: errors.New("x"), itemsErr: errors.New("y")},
		{name: "empty results"},
		{name: "items fail", tabs: makeTabs(1), itemsErr: errors.New("y")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{tabs: makeTabs(2), items: makeItems(4, 4)}
			c := newTestController(t, src)
			c.Initialize(context.Background())
			before := c.Snapshot()

			src.set(tt.tabs, tt.items, tt.tabsErr, tt.itemsErr)
			require.True(t, c.Refresh(context.Background()))

			s := c.Snapshot()
			assert.Equal(t, before.TotalItems, s.TotalItems)
			assert.Equal(t, before.Window, s.Window)
			assert.Equal(t, PhaseIdle, s.Phase)
			assert.Zero(t, s.PullDistance)
			if tt.tabs == nil {
				assert.Equal(t, before.Tabs, s.Tabs)
			}
		})
	}
}

func TestController_RefreshClampsTab(t *testing.T) {
	src := &fakeSource{tabs: makeTabs(3), items: makeItems(2, 2, 2)}
	c := newTestController(t, src)
	c.Initialize(context.Background())
	require.True(t, c.SwitchTab(context.Background(), 2))

	src.set(makeTabs(1), makeItems(4), nil, nil)
	c.Refresh(context.Background())

	s := c.Snapshot()
	assert.Equal(t, 0, s.CurrentTab)
	assert.Len(t, s.Window, 4)
}

func TestController_PullToRefresh(t *testing.T) {
	t.Run("past threshold refreshes", func(t *testing.T) {
		src := &fakeSource{tabs: makeTabs(1), items: makeItems(5)}
		c := newTestController(t, src)
		c.Initialize(context.Background())
		c.OnScroll(0, 1000, 700)

		c.OnTouchStart(300)
		c.OnTouchMove(390)
		s := c.Snapshot()
		assert.Equal(t, 90.0, s.PullDistance)
		assert.True(t, s.PullActive)

		assert.True(t, c.OnTouchEnd(context.Background()))
		assert.Equal(t, 2, src.calls())
		s = c.Snapshot()
		assert.Zero(t, s.PullDistance)
		assert.False(t, s.PullActive)
	})

	t.Run("short pull resets", func(t *testing.T) {
		src := &fakeSource{tabs: makeTabs(1), items: makeItems(5)}
		c := newTestController(t, src)
		c.Initialize(context.Background())

		c.OnTouchStart(300)
		c.OnTouchMove(340)
		assert.Equal(t, 40.0, c.Snapshot().PullDistance)

		assert.False(t, c.OnTouchEnd(context.Background()))
		assert.Equal(t, 1, src.calls())
		assert.Zero(t, c.Snapshot().PullDistance)
	})

	t.Run("distance is capped", func(t *testing.T) {
		c := newTestController(t, &fakeSource{})
		c.OnTouchStart(0)
		c.OnTouchMove(500)
		assert.Equal(t, 120.0, c.Snapshot().PullDistance)
		c.OnTouchMove(-20)
		assert.Equal(t, 120.0, c.Snapshot().PullDistance, "upward moves are ignored")
	})

	t.Run("ignored when scrolled down", func(t *testing.T) {
		c := newTestController(t, &fakeSource{tabs: makeTabs(1), items: makeItems(25)})
		c.Initialize(context.Background())
		c.OnScroll(40, 1000, 700)

		c.OnTouchStart(300)
		c.OnTouchMove(400)
		s := c.Snapshot()
		assert.False(t, s.PullActive)
		assert.Zero(t, s.PullDistance)
	})

	t.Run("move without start is ignored", func(t *testing.T) {
		c := newTestController(t, &fakeSource{})
		c.OnTouchMove(400)
		assert.Zero(t, c.Snapshot().PullDistance)
	})
}

func TestController_PullIgnoredWhileRefreshing(t *testing.T) {
	src := &fakeSource{tabs: makeTabs(1), items: makeItems(5)}
	c := newTestController(t, src)
	c.Initialize(context.Background())

	gate := make(chan struct{})
	src.mu.Lock()
	src.gate = gate
	src.mu.Unlock()

	done := make(chan bool)
	go func() { done <- c.Refresh(context.Background()) }()
	require.Eventually(t, func() bool { return c.Snapshot().Phase == PhaseRefreshing }, time.Second, time.Millisecond)

	c.OnTouchStart(100)
	assert.False(t, c.Snapshot().PullActive)
	assert.False(t, c.OnTouchEnd(context.Background()))
	assert.False(t, c.Refresh(context.Background()))

	close(gate)
	assert.True(t, <-done)
	assert.Equal(t, 2, src.calls())
}

func TestController_PullIgnoredWhileInitializing(t *testing.T) {
	gate := make(chan struct{})
	src := &fakeSource{tabs: makeTabs(1), items: makeItems(5), gate: gate}
	c := newTestController(t, src)

	done := make(chan bool)
	go func() { done <- c.Initialize(context.Background()) }()
	require.Eventually(t, func() bool { return c.Snapshot().Phase == PhaseInitializing }, time.Second, time.Millisecond)

	c.OnTouchStart(300)
	c.OnTouchMove(390)
	s := c.Snapshot()
	assert.False(t, s.PullActive)
	assert.Zero(t, s.PullDistance)

	close(gate)
	assert.True(t, <-done)
	assert.Zero(t, c.Snapshot().PullDistance)
	assert.Equal(t, 1, src.calls())
}

func TestController_PullResetWhenReleasedDuringFetch(t *testing.T) {
	gate := make(chan struct{})
	src := &fakeSource{tabs: makeTabs(1), items: makeItems(5), gate: gate}
	c := newTestController(t, src)

	// the gesture starts while idle, the first fetch begins under it
	c.OnTouchStart(300)
	c.OnTouchMove(390)
	require.Equal(t, 90.0, c.Snapshot().PullDistance)

	done := make(chan bool)
	go func() { done <- c.Initialize(context.Background()) }()
	require.Eventually(t, func() bool { return c.Snapshot().Phase == PhaseInitializing }, time.Second, time.Millisecond)

	assert.False(t, c.OnTouchEnd(context.Background()))
	s := c.Snapshot()
	assert.False(t, s.PullActive)
	assert.Zero(t, s.PullDistance)

	close(gate)
	assert.True(t, <-done)
	s = c.Snapshot()
	assert.Equal(t, PhaseIdle, s.Phase)
	assert.Zero(t, s.PullDistance)
	assert.Equal(t, 1, src.calls(), "a release during the first fetch never refreshes")
}

func TestController_PullResetWhenReleasedDuringSwitch(t *testing.T) {
	c := newTestController(t, &fakeSource{tabs: makeTabs(2), items: makeItems(3, 3)})
	c.Initialize(context.Background())
	gate := newSleepGate(1)
	c.sleep = gate.sleep

	c.OnTouchStart(300)
	c.OnTouchMove(390)

	done := make(chan bool)
	go func() { done <- c.SwitchTab(context.Background(), 1) }()
	<-gate.entered

	assert.False(t, c.OnTouchEnd(context.Background()))
	s := c.Snapshot()
	assert.False(t, s.PullActive)
	assert.Zero(t, s.PullDistance)

	close(gate.release[0])
	assert.True(t, <-done)
	s = c.Snapshot()
	assert.Equal(t, 1, s.CurrentTab)
	assert.False(t, s.PullActive)
	assert.Zero(t, s.PullDistance)
}

func TestController_Restore(t *testing.T) {
	c := newTestController(t, &fakeSource{tabs: makeTabs(1), items: makeItems(3)})
	assert.False(t, c.Restore(), "nothing to restore before data arrives")

	c.Initialize(context.Background())
	assert.False(t, c.Restore(), "window already populated")

	c.mu.Lock()
	c.window = nil
	c.cursor = 0
	c.mu.Unlock()

	assert.True(t, c.Restore())
	assert.Len(t, c.Snapshot().Window, 3)
}

type recordingListener struct {
	mu    sync.Mutex
	calls [][]Item
}

func (r *recordingListener) OnItemsReplaced(items []Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, items)
}

func TestController_Listeners(t *testing.T) {
	src := &fakeSource{tabs: makeTabs(1), items: makeItems(2)}
	c := newTestController(t, src)
	l := &recordingListener{}
	c.AddListener(l)

	c.Initialize(context.Background())
	require.Len(t, l.calls, 1)
	assert.Len(t, l.calls[0], 2)

	src.set(nil, nil, errors.New("down"), errors.New("down"))
	c.Refresh(context.Background())
	assert.Len(t, l.calls, 1, "failed refresh keeps the collection")

	src.set(makeTabs(1), makeItems(4), nil, nil)
	c.Refresh(context.Background())
	require.Len(t, l.calls, 2)
	assert.Len(t, l.calls[1], 4)
	assert.Len(t, c.Items(), 4)
}

func TestOptionsFromConfigDefaultsPageSize(t *testing.T) {
	opts := OptionsFromConfig(config.FeedConfig{PageSize: 0, PullMax: 90})
	assert.Equal(t, 10, opts.PageSize)
	assert.Equal(t, 90.0, opts.PullMax)
}
