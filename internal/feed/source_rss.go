package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"

	"github.com/pders01/cspfeed/internal/config"
	"github.com/pders01/cspfeed/internal/debuglog"
	"github.com/pders01/cspfeed/internal/validation"
)

const (
	rssAccept          = "application/rss+xml, application/atom+xml, application/xml, text/xml"
	rssFetchLimit      = 4
	publishedLayoutOut = "2006-01-02 15:04:05"
)

type RSSOptions struct {
	UserAgent  string
	Timeout    time.Duration
	AllowLocal bool
}

// cachedFeed remembers validators and the parsed items so a 304 can be
// answered without parsing.
type cachedFeed struct {
	etag         string
	lastModified string
	items        []Item
}

// RSSSource turns configured RSS/Atom feeds into tabs. Entries of the
// n-th configured feed become items of type n+1.
type RSSSource struct {
	tabs      []config.RSSTab
	client    *http.Client
	userAgent string

	mu    sync.Mutex
	cache map[string]cachedFeed
}

func NewRSSSource(tabs []config.RSSTab, opts RSSOptions) (*RSSSource, error) {
	if len(tabs) == 0 {
		return nil, errors.New("no RSS feeds configured")
	}

	validator := validation.NewURLValidator()
	if opts.AllowLocal {
		validator = validation.NewPermissiveURLValidator()
	}

	normalized := make([]config.RSSTab, 0, len(tabs))
	for _, t := range tabs {
		u, err := validator.ValidateFeedURL(t.URL)
		if err != nil {
			return nil, fmt.Errorf("feed %q: %w", t.URL, err)
		}
		name := t.Name
		if name == "" {
			if parsed, err := url.Parse(u); err == nil {
				name = parsed.Hostname()
			}
		}
		normalized = append(normalized, config.RSSTab{Name: name, URL: u})
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &RSSSource{
		tabs:      normalized,
		client:    &http.Client{Timeout: timeout},
		userAgent: opts.UserAgent,
		cache:     make(map[string]cachedFeed),
	}, nil
}

func (s *RSSSource) FetchTabs(_ context.Context) ([]Tab, error) {
	tabs := make([]Tab, 0, len(s.tabs))
	for i, t := range s.tabs {
		tabs = append(tabs, Tab{ID: strconv.Itoa(i + 1), Name: t.Name, Code: t.URL})
	}
	return tabs, nil
}

// FetchItems fetches every feed. Feeds that fail are skipped; an error is
// returned only when none succeeded.
func (s *RSSSource) FetchItems(ctx context.Context) ([]Item, error) {
	results := make([][]Item, len(s.tabs))
	errs := make([]error, len(s.tabs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rssFetchLimit)
	for i, t := range s.tabs {
		g.Go(func() error {
			items, err := s.fetchFeed(gctx, t.URL, i+1)
			if err != nil {
				debuglog.WithFields(map[string]interface{}{"url": t.URL}).Warnf("fetching feed: %v", err)
				errs[i] = err
				return nil
			}
			results[i] = items
			return nil
		})
	}
	_ = g.Wait()

	var (
		items  []Item
		failed int
	)
	for i := range s.tabs {
		if errs[i] != nil {
			failed++
			continue
		}
		items = append(items, results[i]...)
	}
	if failed == len(s.tabs) {
		return nil, errors.Join(errs...)
	}
	return items, nil
}

func (s *RSSSource) fetchFeed(ctx context.Context, feedURL string, itemType int) ([]Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	req.Header.Set("Accept", rssAccept)

	s.mu.Lock()
	cached, hasCache := s.cache[feedURL]
	s.mu.Unlock()
	if hasCache {
		if cached.etag != "" {
			req.Header.Set("If-None-Match", cached.etag)
		}
		if cached.lastModified != "" {
			req.Header.Set("If-Modified-Since", cached.lastModified)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && hasCache {
		return cached.items, nil
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP error: %d", resp.StatusCode)
	}
	// 304 without a cached copy and other 3xx carry no feed to parse
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	// gofeed parsers keep per-parse state, so each fetch gets its own.
	parsed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}
	items := itemsFromFeed(parsed, itemType)

	s.mu.Lock()
	s.cache[feedURL] = cachedFeed{
		etag:         resp.Header.Get("ETag"),
		lastModified: resp.Header.Get("Last-Modified"),
		items:        items,
	}
	s.mu.Unlock()

	return items, nil
}

func itemsFromFeed(parsed *gofeed.Feed, itemType int) []Item {
	items := make([]Item, 0, len(parsed.Items))
	for i, entry := range parsed.Items {
		item := Item{
			ID:      entryID(itemType, entry, i),
			Title:   entry.Title,
			Content: entryContent(entry),
			Type:    itemType,
			Icon:    entryImage(entry),
			Link:    entry.Link,
		}
		if entry.PublishedParsed != nil {
			item.PublishedDate = entry.PublishedParsed.Local().Format(publishedLayoutOut)
		} else if entry.UpdatedParsed != nil {
			item.PublishedDate = entry.UpdatedParsed.Local().Format(publishedLayoutOut)
		}
		items = append(items, item)
	}
	return items
}

func entryContent(entry *gofeed.Item) string {
	if entry.Content != "" {
		return entry.Content
	}
	return entry.Description
}

func entryImage(entry *gofeed.Item) string {
	if entry.Image != nil && entry.Image.URL != "" {
		return entry.Image.URL
	}
	for _, enclosure := range entry.Enclosures {
		if enclosure.URL != "" && len(enclosure.Type) >= 6 && enclosure.Type[:6] == "image/" {
			return enclosure.URL
		}
	}
	return ""
}

// entryID is stable across refreshes: the GUID, else the link, else the
// position in the feed.
func entryID(itemType int, entry *gofeed.Item, index int) string {
	switch {
	case entry.GUID != "":
		return fmt.Sprintf("rss%d:%s", itemType, entry.GUID)
	case entry.Link != "":
		return fmt.Sprintf("rss%d:%s", itemType, entry.Link)
	default:
		return fmt.Sprintf("rss%d:#%d", itemType, index)
	}
}
