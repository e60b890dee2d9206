package sources

import (
	"context"
	"encoding/xml"
	"fmt"
	"time"

	"github.com/knakagawa/trendwatch/pkg/trends"
)

const hatenaBaseURL = "https://b.hatena.ne.jp"

// hatenaFeed is the hot-entry RDF feed, reduced to the fields we keep.
type hatenaFeed struct {
	Items []struct {
		Title         string `xml:"title"`
		Link          string `xml:"link"`
		BookmarkCount int    `xml:"bookmarkcount"`
	} `xml:"item"`
}

// NewHatena returns the Hatena Bookmark hot-entry source. An empty baseURL
// selects the production endpoint.
func NewHatena(deps Deps, baseURL string) (trends.Source, error) {
	if baseURL == "" {
		baseURL = hatenaBaseURL
	}
	client := deps.client()
	limiter := deps.Limiters.Get("hatena")

	fetch := func(ctx context.Context, region string) ([]byte, int, error) {
		body, err := get(ctx, client, baseURL+"/hotentry/all.rss")
		if err != nil {
			return nil, 0, err
		}

		var feed hatenaFeed
		if err := xml.Unmarshal(body, &feed); err != nil {
			return nil, 0, fmt.Errorf("decoding hot-entry feed: %w", err)
		}
		if len(feed.Items) == 0 {
			return nil, 0, fmt.Errorf("empty hot-entry feed")
		}

		items := make([]trends.Item, 0, len(feed.Items))
		for i, it := range feed.Items {
			items = append(items, trends.Item{
				Rank:  i + 1,
				Title: it.Title,
				URL:   it.Link,
				Score: float64(it.BookmarkCount),
			})
		}
		return marshalItems(items)
	}

	return trends.NewCachedSource("hatena", []string{"JP"}, deps.maxAge("hatena", 6*time.Hour),
		deps.Store, limiter, fetch, deps.Logger), nil
}
