package search

import "github.com/pders01/cspfeed/internal/feed"

// Searcher defines the minimal search API used by the TUI and CLI. Every
// implementation also listens for collection replacements.
type Searcher interface {
	feed.Listener
	Search(query string, limit int) ([]*Result, error)
	SearchInItem(item feed.Item, query string) ([]*Result, error)
}

// Result is one matching item.
type Result struct {
	Item    feed.Item
	Score   float64
	Matches []Match
}

// Match represents where text was found
type Match struct {
	Field  string // "title" or "content"
	Text   string // matched text snippet
	Weight float64
}

// DebugStatser provides lightweight stats for visibility/debugging.
type DebugStatser interface {
	DocCount() (int, error)
}

// New returns the bleve backed searcher, or the scan engine if the index
// cannot be created.
func New() Searcher {
	be, err := NewBleveEngine()
	if err != nil {
		return NewEngine()
	}
	return be
}
