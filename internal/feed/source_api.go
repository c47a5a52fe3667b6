package feed

import (
	"context"
	"fmt"

	"github.com/pders01/cspfeed/internal/api"
)

// NewsAPI is the slice of the backend client used for the feed.
type NewsAPI interface {
	DataItems(ctx context.Context, code string) ([]api.DataItem, error)
	NewsList(ctx context.Context, params map[string]interface{}) ([]api.NewsRecord, error)
}

// APISource reads tabs from the NewsType dictionary and items from the
// news list.
type APISource struct {
	client NewsAPI
}

func NewAPISource(client NewsAPI) *APISource {
	return &APISource{client: client}
}

func (s *APISource) FetchTabs(ctx context.Context) ([]Tab, error) {
	entries, err := s.client.DataItems(ctx, api.NewsTypeCode)
	if err != nil {
		return nil, err
	}
	tabs := make([]Tab, 0, len(entries))
	for _, e := range entries {
		tabs = append(tabs, Tab{
			ID:   string(e.ID),
			Name: TranslateTabName(e.ItemName),
			Code: e.ItemCode,
		})
	}
	return tabs, nil
}

func (s *APISource) FetchItems(ctx context.Context) ([]Item, error) {
	records, err := s.client.NewsList(ctx, api.DefaultNewsListParams())
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(records))
	for i, r := range records {
		id := string(r.ID)
		if id == "" {
			id = fmt.Sprintf("news:%d", i)
		}
		items = append(items, Item{
			ID:            id,
			Title:         r.Title,
			Content:       r.Content,
			PublishedDate: r.PublishedDate,
			Type:          int(r.Type),
			Icon:          r.Icon,
		})
	}
	return items, nil
}
