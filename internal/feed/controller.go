// Package feed keeps a tab-partitioned, locally windowed view over the
// news collection. The backend returns the whole collection at once and
// pagination happens entirely on the client.
package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pders01/cspfeed/internal/config"
	"github.com/pders01/cspfeed/internal/debuglog"
)

// Source fetches the tab list and the complete item collection.
type Source interface {
	FetchTabs(ctx context.Context) ([]Tab, error)
	FetchItems(ctx context.Context) ([]Item, error)
}

// Listener is told about every replacement of the full item collection.
type Listener interface {
	OnItemsReplaced(items []Item)
}

// Options are the controller tunables. Distances are in points, the unit
// the scroll and pull callbacks report.
type Options struct {
	PageSize      int
	SwitchDelay   time.Duration
	LoadThreshold float64
	PullThreshold float64
	PullMax       float64
}

func DefaultOptions() Options {
	return Options{
		PageSize:      10,
		SwitchDelay:   500 * time.Millisecond,
		LoadThreshold: 100,
		PullThreshold: 60,
		PullMax:       120,
	}
}

func OptionsFromConfig(cfg config.FeedConfig) Options {
	opts := Options{
		PageSize:      cfg.PageSize,
		SwitchDelay:   cfg.SwitchDelay,
		LoadThreshold: cfg.LoadThreshold,
		PullThreshold: cfg.PullThreshold,
		PullMax:       cfg.PullMax,
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultOptions().PageSize
	}
	return opts
}

type pullGesture struct {
	startY   float64
	distance float64
	active   bool
}

// Snapshot is a consistent copy of the controller state for rendering.
type Snapshot struct {
	Tabs         []Tab
	CurrentTab   int
	Window       []Item
	FilteredLen  int
	TotalItems   int
	Cursor       int
	HasMore      bool
	Phase        Phase
	PullDistance float64
	PullActive   bool
	TabsErr      error
	ItemsErr     error
	LastRefresh  time.Time
}

// Busy reports whether any phase other than idle is active.
func (s Snapshot) Busy() bool {
	return s.Phase != PhaseIdle
}

// Empty reports whether the current tab has nothing to show.
func (s Snapshot) Empty() bool {
	return s.FilteredLen == 0
}

// Err joins the errors of the most recent fetch, or nil.
func (s Snapshot) Err() error {
	return errors.Join(s.TabsErr, s.ItemsErr)
}

type Controller struct {
	source Source
	opts   Options
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
	log    *debuglog.FieldLogger

	mu         sync.Mutex
	phase      Phase
	switchSeq  uint64
	tabs       []Tab
	items      []Item
	currentTab int
	filtered   []Item
	window     []Item
	cursor     int
	scrollTop  float64
	pull       pullGesture
	tabsErr    error
	itemsErr   error
	refreshed  time.Time
	listeners  []Listener
}

func NewController(source Source, opts Options) *Controller {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultOptions().PageSize
	}
	return &Controller{
		source: source,
		opts:   opts,
		sleep:  sleepContext,
		now:    time.Now,
		log:    debuglog.WithFields(map[string]interface{}{"component": "feed"}),
	}
}

// AddListener registers l for item replacements. It is not called for the
// collection that is already loaded.
func (c *Controller) AddListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// setPhase applies a checked transition. Callers hold c.mu.
func (c *Controller) setPhase(next Phase) bool {
	if !c.phase.CanTransition(next) {
		c.log.Debugf("rejected transition %s -> %s", c.phase, next)
		return false
	}
	c.phase = next
	return true
}

// Initialize fetches tabs and items concurrently and shows the first page
// of tab 0. A failed half leaves its collection empty.
func (c *Controller) Initialize(ctx context.Context) bool {
	c.mu.Lock()
	if !c.setPhase(PhaseInitializing) {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()

	res := c.fetch(ctx)

	c.mu.Lock()
	c.tabs = res.tabs
	c.items = res.items
	c.tabsErr = res.tabsErr
	c.itemsErr = res.itemsErr
	c.currentTab = 0
	c.recompute()
	c.refreshed = c.now()
	c.setPhase(PhaseIdle)
	listeners := c.listenersLocked()
	c.mu.Unlock()

	c.log.Infof("initialized with %d tabs and %d items", len(res.tabs), len(res.items))
	notify(listeners, res.items)
	return true
}

// SwitchTab selects tab index. The highlight moves immediately; the window
// is rebuilt after the switch delay. A newer switch supersedes one still
// waiting, whose completion is then dropped.
func (c *Controller) SwitchTab(ctx context.Context, index int) bool {
	c.mu.Lock()
	if index < 0 || index >= len(c.tabs) {
		c.mu.Unlock()
		c.log.Debugf("ignoring switch to tab %d of %d", index, len(c.tabs))
		return false
	}
	if !c.setPhase(PhaseSwitching) {
		c.mu.Unlock()
		return false
	}
	c.switchSeq++
	seq := c.switchSeq
	c.currentTab = index
	c.mu.Unlock()

	// Cancellation only cuts the delay short; the switch still lands.
	_ = c.sleep(ctx, c.opts.SwitchDelay)

	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.switchSeq || c.phase != PhaseSwitching {
		c.log.Debugf("dropping superseded switch to tab %d", index)
		return false
	}
	c.recompute()
	c.setPhase(PhaseIdle)
	return true
}

// LoadMore reveals the next page of the current tab. It never touches
// the network.
func (c *Controller) LoadMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cursor >= len(c.filtered) || !c.setPhase(PhaseLoadingMore) {
		return false
	}

	end := c.cursor + c.opts.PageSize
	if end > len(c.filtered) {
		end = len(c.filtered)
	}
	c.window = append(c.window, c.filtered[c.cursor:end]...)
	c.cursor = end

	c.setPhase(PhaseIdle)
	return true
}

// OnScroll records the scroll position and loads the next page once the
// bottom is within the load threshold.
func (c *Controller) OnScroll(scrollTop, scrollHeight, clientHeight float64) bool {
	c.mu.Lock()
	c.scrollTop = scrollTop
	suppressed := c.phase.suppressesScroll()
	c.mu.Unlock()

	if suppressed || scrollHeight-scrollTop-clientHeight >= c.opts.LoadThreshold {
		return false
	}
	return c.LoadMore()
}

// Refresh re-fetches everything. Each collection is replaced only by a
// successful, non-empty result. The current tab survives unless the new
// tab list is too short for it.
func (c *Controller) Refresh(ctx context.Context) bool {
	c.mu.Lock()
	if !c.setPhase(PhaseRefreshing) {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()

	res := c.fetch(ctx)

	c.mu.Lock()
	c.tabsErr = res.tabsErr
	c.itemsErr = res.itemsErr
	if res.tabsErr == nil && len(res.tabs) > 0 {
		c.tabs = res.tabs
	}
	replaced := res.itemsErr == nil && len(res.items) > 0
	if replaced {
		c.items = res.items
	}
	if c.currentTab >= len(c.tabs) {
		c.currentTab = 0
	}
	c.recompute()
	c.refreshed = c.now()
	c.pull = pullGesture{}
	c.setPhase(PhaseIdle)
	var listeners []Listener
	if replaced {
		listeners = c.listenersLocked()
	}
	tabCount, itemCount, tab := len(c.tabs), len(c.items), c.currentTab
	c.mu.Unlock()

	c.log.Infof("refreshed: tabs=%d items=%d tab=%d", tabCount, itemCount, tab)
	notify(listeners, res.items)
	return true
}

// Restore rebuilds the window when data is loaded but nothing is shown,
// as happens when the client regains focus after a reset.
func (c *Controller) Restore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseIdle || len(c.items) == 0 || len(c.window) > 0 {
		return false
	}
	c.recompute()
	return len(c.window) > 0
}

// OnTouchStart begins a pull gesture when the list is at the top.
func (c *Controller) OnTouchStart(y float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase.suppressesPull() || c.scrollTop > 0 {
		return
	}
	c.pull = pullGesture{startY: y, active: true}
}

// OnTouchMove tracks the pull distance, capped at PullMax.
func (c *Controller) OnTouchMove(y float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.pull.active || c.scrollTop != 0 {
		return
	}
	diff := y - c.pull.startY
	if diff <= 0 {
		return
	}
	if diff > c.opts.PullMax {
		diff = c.opts.PullMax
	}
	c.pull.distance = diff
}

// OnTouchEnd finishes the gesture and refreshes if the pull went past
// PullThreshold. It blocks for the duration of the refresh. The gesture
// is cleared on every path; a refresh clears it when it finishes.
func (c *Controller) OnTouchEnd(ctx context.Context) bool {
	c.mu.Lock()
	if c.phase.suppressesPull() || c.pull.distance <= c.opts.PullThreshold {
		c.pull = pullGesture{}
		c.mu.Unlock()
		return false
	}
	c.pull.active = false
	c.mu.Unlock()

	if c.Refresh(ctx) {
		return true
	}
	c.mu.Lock()
	c.pull = pullGesture{}
	c.mu.Unlock()
	return false
}

// Snapshot copies the state for rendering.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Tabs:         append([]Tab(nil), c.tabs...),
		CurrentTab:   c.currentTab,
		Window:       append([]Item(nil), c.window...),
		FilteredLen:  len(c.filtered),
		TotalItems:   len(c.items),
		Cursor:       c.cursor,
		HasMore:      c.cursor < len(c.filtered),
		Phase:        c.phase,
		PullDistance: c.pull.distance,
		PullActive:   c.pull.active,
		TabsErr:      c.tabsErr,
		ItemsErr:     c.itemsErr,
		LastRefresh:  c.refreshed,
	}
}

// Items returns the full collection across all tabs.
func (c *Controller) Items() []Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Item(nil), c.items...)
}

// recompute rebuilds filtered and the first page of the window for the
// current tab. Callers hold c.mu.
func (c *Controller) recompute() {
	want := c.currentTab + 1
	filtered := make([]Item, 0, len(c.items))
	for _, item := range c.items {
		if item.Type == want {
			filtered = append(filtered, item)
		}
	}
	c.filtered = filtered

	c.cursor = c.opts.PageSize
	if c.cursor > len(filtered) {
		c.cursor = len(filtered)
	}
	c.window = append([]Item(nil), filtered[:c.cursor]...)
}

type fetchResult struct {
	tabs     []Tab
	items    []Item
	tabsErr  error
	itemsErr error
}

func (c *Controller) fetch(ctx context.Context) fetchResult {
	var (
		res fetchResult
		g   errgroup.Group
	)

	// Both halves always run to completion so one failure cannot hide the
	// other's data.
	g.Go(func() error {
		res.tabs, res.tabsErr = c.source.FetchTabs(ctx)
		if res.tabsErr != nil {
			c.log.Warnf("fetching tabs: %v", res.tabsErr)
			res.tabs = nil
		}
		return nil
	})
	g.Go(func() error {
		res.items, res.itemsErr = c.source.FetchItems(ctx)
		if res.itemsErr != nil {
			c.log.Warnf("fetching items: %v", res.itemsErr)
			res.items = nil
		}
		return nil
	})
	_ = g.Wait()

	return res
}

func (c *Controller) listenersLocked() []Listener {
	return append([]Listener(nil), c.listeners...)
}

func notify(listeners []Listener, items []Item) {
	for _, l := range listeners {
		l.OnItemsReplaced(items)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
