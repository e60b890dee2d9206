package sources

import (
	"context"
	"fmt"
	"time"

	"github.com/knakagawa/trendwatch/pkg/trends"
)

const hackerNewsBaseURL = "https://hn.algolia.com"

// hnResponse is the Algolia search API shape, reduced to the fields we keep.
type hnResponse struct {
	Hits []struct {
		Title  string `json:"title"`
		URL    string `json:"url"`
		Points int    `json:"points"`
	} `json:"hits"`
}

// NewHackerNews returns the Hacker News front-page source. An empty baseURL
// selects the production endpoint.
func NewHackerNews(deps Deps, baseURL string) (trends.Source, error) {
	if baseURL == "" {
		baseURL = hackerNewsBaseURL
	}
	client := deps.client()
	limiter := deps.Limiters.Get("hackernews")

	fetch := func(ctx context.Context, region string) ([]byte, int, error) {
		var resp hnResponse
		url := baseURL + "/api/v1/search?tags=front_page&hitsPerPage=30"
		if err := getJSON(ctx, client, url, &resp); err != nil {
			return nil, 0, err
		}
		if len(resp.Hits) == 0 {
			return nil, 0, fmt.Errorf("empty front page response")
		}

		items := make([]trends.Item, 0, len(resp.Hits))
		for i, hit := range resp.Hits {
			items = append(items, trends.Item{
				Rank:  i + 1,
				Title: hit.Title,
				URL:   hit.URL,
				Score: float64(hit.Points),
			})
		}
		return marshalItems(items)
	}

	return trends.NewCachedSource("hackernews", []string{"US"}, deps.maxAge("hackernews", 3*time.Hour),
		deps.Store, limiter, fetch, deps.Logger), nil
}
