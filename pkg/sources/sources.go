// Package sources holds the data-source integrations. Each source wraps the
// shared cached-fetch pipeline with its own API, regions, rate-limiter name
// and staleness threshold.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/knakagawa/trendwatch/pkg/ratelimit"
	"github.com/knakagawa/trendwatch/pkg/trends"
)

// Deps carries the shared collaborators every source needs.
type Deps struct {
	Store    trends.Store
	Limiters *ratelimit.Registry
	Client   *http.Client
	Logger   *slog.Logger
	MaxAges  map[string]time.Duration
}

func (d Deps) client() *http.Client {
	if d.Client != nil {
		return d.Client
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// maxAge returns the configured staleness threshold for a source, or the
// source's built-in default when none is configured.
func (d Deps) maxAge(name string, def time.Duration) time.Duration {
	if age, ok := d.MaxAges[name]; ok {
		return age
	}
	return def
}

// RegisterAll registers every stock source against its production endpoint.
// Sources that fail to construct are logged and omitted by the registry.
func RegisterAll(reg *trends.Registry, deps Deps) {
	reg.Register("hackernews", func() (trends.Source, error) {
		return NewHackerNews(deps, "")
	})
	reg.Register("crypto", func() (trends.Source, error) {
		return NewCrypto(deps, "")
	})
	reg.Register("hatena", func() (trends.Source, error) {
		return NewHatena(deps, "")
	})
}

// get issues a GET with context and returns the response body, treating any
// non-2xx status as an error.
func get(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "trendwatch/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 4<<20))
}

// getJSON issues a GET and decodes the JSON body into v.
func getJSON(ctx context.Context, client *http.Client, url string, v interface{}) error {
	body, err := get(ctx, client, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decoding response from %s: %w", url, err)
	}
	return nil
}

// marshalItems encodes ranked items as the cache payload.
func marshalItems(items []trends.Item) ([]byte, int, error) {
	payload, err := json.Marshal(items)
	if err != nil {
		return nil, 0, err
	}
	return payload, len(items), nil
}
