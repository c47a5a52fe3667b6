package search

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/pders01/cspfeed/internal/feed"
)

type indexedItem struct {
	item feed.Item
	text string
}

// Engine scores items by scanning them in memory. It needs no index and
// serves find-in-article as well as a fallback for the bleve engine.
type Engine struct {
	mu    sync.RWMutex
	items []indexedItem
	now   func() time.Time
}

// NewEngine creates a new search engine
func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// OnItemsReplaced swaps the searched collection.
func (e *Engine) OnItemsReplaced(items []feed.Item) {
	indexed := make([]indexedItem, 0, len(items))
	for _, item := range items {
		indexed = append(indexed, indexedItem{item: item, text: PlainText(item.Content)})
	}
	e.mu.Lock()
	e.items = indexed
	e.mu.Unlock()
}

func (e *Engine) DocCount() (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.items), nil
}

// Search ranks every item against query
func (e *Engine) Search(query string, limit int) ([]*Result, error) {
	if len(strings.TrimSpace(query)) < 2 {
		return []*Result{}, nil
	}

	terms := tokenize(query)
	if len(terms) == 0 {
		return []*Result{}, nil
	}

	e.mu.RLock()
	var results []*Result
	for _, it := range e.items {
		if result := e.scoreItem(it.item, it.text, terms); result != nil {
			results = append(results, result)
		}
	}
	e.mu.RUnlock()

	// Sort by relevance score (highest first)
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	if results == nil {
		results = []*Result{}
	}
	return results, nil
}

// SearchInItem searches within a single item
func (e *Engine) SearchInItem(item feed.Item, query string) ([]*Result, error) {
	if len(strings.TrimSpace(query)) < 2 {
		return []*Result{}, nil
	}

	terms := tokenize(query)
	if len(terms) == 0 {
		return []*Result{}, nil
	}

	if result := e.scoreItem(item, PlainText(item.Content), terms); result != nil {
		return []*Result{result}, nil
	}
	return []*Result{}, nil
}

func (e *Engine) scoreItem(item feed.Item, text string, terms []string) *Result {
	var matches []Match
	var totalScore float64

	if titleScore := scoreField(item.Title, terms, 4.0); titleScore > 0 {
		matches = append(matches, Match{
			Field:  "title",
			Text:   item.Title,
			Weight: titleScore,
		})
		totalScore += titleScore
	}

	if contentScore := scoreField(text, terms, 1.0); contentScore > 0 {
		matches = append(matches, Match{
			Field:  "content",
			Text:   findBestSnippet(text, terms, 200),
			Weight: contentScore,
		})
		totalScore += contentScore
	}

	if totalScore == 0 {
		return nil
	}

	if published, ok := item.Published(); ok {
		totalScore *= 1.0 + recencyBoost(published, e.now())
	}

	return &Result{
		Item:    item,
		Score:   totalScore,
		Matches: matches,
	}
}

// scoreField calculates relevance score for a field
func scoreField(text string, terms []string, weight float64) float64 {
	if text == "" {
		return 0
	}

	lower := strings.ToLower(text)
	words := tokenize(text)
	if len(words) == 0 {
		words = []string{lower}
	}

	var score float64
	matchedTerms := 0

	for _, term := range terms {
		// Substring match covers scripts written without spaces
		if strings.Contains(lower, term) {
			score += 2.0
			matchedTerms++
		}

		for _, word := range words {
			switch {
			case word == term:
				score += 1.5
				matchedTerms++
			case strings.HasPrefix(word, term) || strings.HasSuffix(word, term):
				score += 1.0
				matchedTerms++
			case strings.Contains(word, term):
				score += 0.5
				matchedTerms++
			}
		}
	}

	if len(terms) > 1 && matchedTerms > 1 {
		score *= 1.0 + float64(matchedTerms)/float64(len(terms))
	}

	tf := float64(matchedTerms) / float64(len(words))
	score *= 1.0 + math.Log(1.0+tf)

	return score * weight
}

// findBestSnippet finds the most relevant text snippet containing search terms
func findBestSnippet(text string, terms []string, maxLength int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}

	windowSize := maxLength / 8
	if windowSize > len(words) {
		return truncate(text, maxLength)
	}

	bestScore := 0.0
	bestStart := 0
	for i := 0; i <= len(words)-windowSize; i++ {
		windowText := strings.ToLower(strings.Join(words[i:i+windowSize], " "))
		score := 0.0
		for _, term := range terms {
			if strings.Contains(windowText, term) {
				score += 1.0
			}
		}
		if score > bestScore {
			bestScore = score
			bestStart = i
		}
	}

	return truncate(strings.Join(words[bestStart:bestStart+windowSize], " "), maxLength)
}

// tokenize breaks text into lowercase terms. Single ASCII characters are
// dropped; a single CJK character is a meaningful term.
func tokenize(text string) []string {
	var terms []string
	current := strings.Builder{}

	flush := func() {
		if current.Len() > 1 {
			terms = append(terms, current.String())
		}
		current.Reset()
	}

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			current.WriteRune(unicode.ToLower(r))
		} else {
			flush()
		}
	}
	flush()

	return terms
}

// truncate limits text to maxLen runes with an ellipsis
func truncate(text string, maxLen int) string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen-1]) + "…"
}

// recencyBoost is up to 10% for items published in the last week and
// fades to nothing over a month.
func recencyBoost(published, now time.Time) float64 {
	age := now.Sub(published)
	switch {
	case age < 0:
		return 0.1
	case age <= 7*24*time.Hour:
		return 0.1
	case age >= 30*24*time.Hour:
		return 0
	default:
		remaining := float64(30*24*time.Hour-age) / float64(23*24*time.Hour)
		return 0.1 * remaining
	}
}
