package feed

import (
	"strings"
	"time"
)

// Item is one news entry. Type is the 1-based index of the tab it
// belongs to.
type Item struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Content       string `json:"content"`
	PublishedDate string `json:"published_date,omitempty"`
	Type          int    `json:"type"`
	Icon          string `json:"icon,omitempty"`
	Link          string `json:"link,omitempty"`
}

var publishedLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
}

// Published parses PublishedDate. The backend sends several layouts and
// local times are read in the local zone.
func (i Item) Published() (time.Time, bool) {
	value := strings.TrimSpace(i.PublishedDate)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range publishedLayouts {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Tab is one news category. Its position in the tab list is the tab index.
type Tab struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Code string `json:"code"`
}

var tabNames = map[string]string{
	"最新资讯": "Latest News",
	"公告":   "Announcements",
	"集团资讯": "Group News",
	"资讯":   "News",
	"活动":   "Activities",
	"新闻":   "News",
}

// TranslateTabName maps known dictionary names to English. Unknown names
// are returned unchanged.
func TranslateTabName(name string) string {
	trimmed := strings.TrimSpace(name)
	if english, ok := tabNames[trimmed]; ok {
		return english
	}
	return trimmed
}
