package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client talks to a running daemon's admin API. Used by the trendctl CLI.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the daemon listening at baseURL, e.g.
// "http://localhost:8087".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// TrendResponse is a cached trend read.
type TrendResponse struct {
	Source      string          `json:"source"`
	Region      string          `json:"region"`
	RecordCount int             `json:"record_count"`
	LastUpdated time.Time       `json:"last_updated"`
	Items       json.RawMessage `json:"items"`
}

// Trends fetches the cached payload for one source. Region may be empty to
// use the source's first region.
func (c *Client) Trends(ctx context.Context, source, region string) (*TrendResponse, error) {
	u := c.baseURL + "/api/trends/" + url.PathEscape(source)
	if region != "" {
		u += "?region=" + url.QueryEscape(region)
	}
	var resp TrendResponse
	if err := c.get(ctx, u, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SchedulerStatus returns the scheduler's status snapshot, decoded loosely
// so the CLI stays compatible across daemon versions.
func (c *Client) SchedulerStatus(ctx context.Context) (map[string]interface{}, error) {
	var resp map[string]interface{}
	if err := c.get(ctx, c.baseURL+"/api/scheduler/status", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// CacheStatus returns per-key cache freshness and aggregate stats.
func (c *Client) CacheStatus(ctx context.Context) (map[string]interface{}, error) {
	var resp map[string]interface{}
	if err := c.get(ctx, c.baseURL+"/api/cache/status", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// RecentRuns returns the most recent refresh run records.
func (c *Client) RecentRuns(ctx context.Context, limit int) (map[string]interface{}, error) {
	u := c.baseURL + "/api/runs/recent"
	if limit > 0 {
		u += fmt.Sprintf("?limit=%d", limit)
	}
	var resp map[string]interface{}
	if err := c.get(ctx, u, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Refresh asks the daemon for an immediate forced refresh. Returns an error
// when a run is already in progress.
func (c *Client) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/refresh", bytes.NewReader(nil))
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted:
		return nil
	case http.StatusConflict:
		return fmt.Errorf("refresh already in progress")
	default:
		return fmt.Errorf("unexpected daemon response: %s", resp.Status)
	}
}

// InvalidateCache removes one cached (source, region) entry.
func (c *Client) InvalidateCache(ctx context.Context, source, region string) error {
	u := c.baseURL + "/api/cache/" + url.PathEscape(source) + "?region=" + url.QueryEscape(region)
	return c.del(ctx, u)
}

// ClearCache removes every cached entry.
func (c *Client) ClearCache(ctx context.Context) error {
	return c.del(ctx, c.baseURL+"/api/cache/")
}

func (c *Client) del(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected daemon response: %s", resp.Status)
	}
	return nil
}

// Health reports whether the daemon answers its health endpoint.
func (c *Client) Health(ctx context.Context) error {
	var resp map[string]interface{}
	return c.get(ctx, c.baseURL+"/api/health", &resp)
}

func (c *Client) get(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("unexpected daemon response: %s", resp.Status)
	}
	return json.Unmarshal(body, out)
}
