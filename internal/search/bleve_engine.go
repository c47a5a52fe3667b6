package search

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	bleveQuery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/pders01/cspfeed/internal/debuglog"
	"github.com/pders01/cspfeed/internal/feed"
)

// BleveEngine keeps an in-memory bleve index of the fetched collection.
// News items are never persisted, so neither is the index.
type BleveEngine struct {
	mu    sync.RWMutex
	idx   bleve.Index
	items map[string]feed.Item
	scan  *Engine
}

func NewBleveEngine() (*BleveEngine, error) {
	idx, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("creating search index: %w", err)
	}
	return &BleveEngine{
		idx:   idx,
		items: make(map[string]feed.Item),
		scan:  NewEngine(),
	}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	im.DefaultAnalyzer = standard.Name

	dm := bleve.NewDocumentMapping()

	title := bleve.NewTextFieldMapping()
	title.Analyzer = standard.Name
	title.Store = false
	title.IncludeTermVectors = true

	content := bleve.NewTextFieldMapping()
	content.Analyzer = standard.Name
	content.Store = false
	content.IncludeTermVectors = false

	tab := bleve.NewTextFieldMapping()
	tab.Analyzer = keyword.Name
	tab.Store = false

	dm.AddFieldMappingsAt("title", title)
	dm.AddFieldMappingsAt("content", content)
	dm.AddFieldMappingsAt("tab", tab)

	im.DefaultMapping = dm
	return im
}

// OnItemsReplaced rebuilds the index from items. The previous index is
// dropped rather than diffed since the collection is replaced wholesale.
func (b *BleveEngine) OnItemsReplaced(items []feed.Item) {
	idx, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		debuglog.Errorf("rebuilding search index: %v", err)
		return
	}

	byID := make(map[string]feed.Item, len(items))
	batch := idx.NewBatch()
	for _, item := range items {
		byID[item.ID] = item
		_ = batch.Index(docIDForItem(item.ID), map[string]any{
			"title":   item.Title,
			"content": PlainText(item.Content),
			"tab":     strconv.Itoa(item.Type),
		})
	}
	if err := idx.Batch(batch); err != nil {
		debuglog.Errorf("indexing %d items: %v", len(items), err)
		_ = idx.Close()
		return
	}

	b.mu.Lock()
	old := b.idx
	b.idx = idx
	b.items = byID
	b.mu.Unlock()
	_ = old.Close()

	debuglog.Debugf("search index rebuilt with %d items", len(items))
}

func (b *BleveEngine) Search(query string, limit int) ([]*Result, error) {
	if len(strings.TrimSpace(query)) < 2 {
		return []*Result{}, nil
	}
	if limit <= 0 {
		limit = 50
	}

	tokens := tokenize(query)
	var qs []bleveQuery.Query
	for _, tok := range tokens {
		qt := bleve.NewMatchQuery(tok)
		qt.SetField("title")
		qt.SetBoost(4.0)
		qs = append(qs, qt)
		qtp := bleve.NewPrefixQuery(tok)
		qtp.SetField("title")
		qtp.SetBoost(3.5)
		qs = append(qs, qtp)

		qc := bleve.NewMatchQuery(tok)
		qc.SetField("content")
		qc.SetBoost(1.0)
		qs = append(qs, qc)
		qcp := bleve.NewPrefixQuery(tok)
		qcp.SetField("content")
		qcp.SetBoost(0.8)
		qs = append(qs, qcp)
	}
	if len(qs) == 0 {
		return []*Result{}, nil
	}

	req := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery(qs...), limit, 0, false)

	b.mu.RLock()
	defer b.mu.RUnlock()

	res, err := b.idx.Search(req)
	if err != nil {
		return nil, err
	}

	out := make([]*Result, 0, len(res.Hits))
	for _, h := range res.Hits {
		item, ok := b.items[strings.TrimPrefix(h.ID, "item:")]
		if !ok {
			continue
		}
		r := &Result{Item: item, Score: h.Score}
		// Reuse the scan scorer for snippets
		if scored := b.scan.scoreItem(item, PlainText(item.Content), tokens); scored != nil {
			r.Matches = scored.Matches
		}
		out = append(out, r)
	}
	return out, nil
}

// SearchInItem scans the single item without touching the index.
func (b *BleveEngine) SearchInItem(item feed.Item, query string) ([]*Result, error) {
	return b.scan.SearchInItem(item, query)
}

// DocCount reports total documents in the index.
func (b *BleveEngine) DocCount() (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n, err := b.idx.DocCount()
	return int(n), err
}

func docIDForItem(id string) string { return "item:" + id }
