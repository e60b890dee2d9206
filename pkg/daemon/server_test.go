package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knakagawa/trendwatch/pkg/cache"
	"github.com/knakagawa/trendwatch/pkg/scheduler"
	"github.com/knakagawa/trendwatch/pkg/trends"
	"github.com/knakagawa/trendwatch/pkg/window"
)

// staticSource serves a fixed payload for server tests.
type staticSource struct {
	name    string
	regions []string
}

func (s *staticSource) Name() string      { return s.name }
func (s *staticSource) Regions() []string { return s.regions }
func (s *staticSource) Fetch(ctx context.Context, region string, force bool) (*trends.FetchResult, error) {
	return &trends.FetchResult{Key: trends.Key{Source: s.name, Region: region}}, nil
}

type noopRunner struct{}

func (noopRunner) RefreshAll(ctx context.Context, force bool) *trends.RunResult {
	return trends.NewRunResult(time.Now())
}

func newTestServer(t *testing.T) (*Server, *cache.Store) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))

	store, err := cache.Open(filepath.Join(t.TempDir(), "trends.db"), mock)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry := trends.NewRegistry(nil)
	registry.Register("crypto", func() (trends.Source, error) {
		return &staticSource{name: "crypto", regions: []string{"JP", "US"}}, nil
	})

	wcfg := window.Config{
		Morning:   window.Window{Name: window.Morning, Hour: 7, Minute: 0},
		Afternoon: window.Window{Name: window.Afternoon, Hour: 14, Minute: 0},
		Grace:     time.Hour,
		Location:  time.UTC,
	}
	guard, err := window.NewGuard(wcfg, store, mock, nil)
	require.NoError(t, err)
	sched, err := scheduler.New(wcfg, guard, noopRunner{}, store, nil, false, mock, nil)
	require.NoError(t, err)

	logger := NewLogger("test", LogLevelError)
	return NewServer(store, registry, sched, 0, logger), store
}

func TestServer_TrendsReturnsCachedPayload(t *testing.T) {
	server, store := newTestServer(t)
	key := trends.Key{Source: "crypto", Region: "JP"}
	require.NoError(t, store.Put(key, []byte(`[{"rank":1,"title":"Bitcoin"}]`), 1))

	req := httptest.NewRequest(http.MethodGet, "/api/trends/crypto?region=JP", nil)
	rec := httptest.NewRecorder()
	server.handleTrends(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "crypto", body["source"])
	assert.Equal(t, "JP", body["region"])
	assert.Equal(t, float64(1), body["record_count"])
}

func TestServer_TrendsDefaultsToFirstRegion(t *testing.T) {
	server, store := newTestServer(t)
	require.NoError(t, store.Put(trends.Key{Source: "crypto", Region: "JP"}, []byte(`[]`), 0))

	req := httptest.NewRequest(http.MethodGet, "/api/trends/crypto", nil)
	rec := httptest.NewRecorder()
	server.handleTrends(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "JP", body["region"])
}

func TestServer_TrendsSourceWithoutRegionsIs400(t *testing.T) {
	// Given a registered source that reports no regions
	server, _ := newTestServer(t)
	server.registry.Register("empty", func() (trends.Source, error) {
		return &staticSource{name: "empty"}, nil
	})

	// When no region is given either
	req := httptest.NewRequest(http.MethodGet, "/api/trends/empty", nil)
	rec := httptest.NewRecorder()
	server.handleTrends(rec, req)

	// Then there is no default to fall back on
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_TrendsUnknownSourceIs404(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/trends/spotify", nil)
	rec := httptest.NewRecorder()
	server.handleTrends(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown source")
}

func TestServer_TrendsUncachedKeyIs404(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/trends/crypto?region=US", nil)
	rec := httptest.NewRecorder()
	server.handleTrends(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "no cached data")
}

func TestServer_TrendsRootListsSources(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/trends/", nil)
	rec := httptest.NewRecorder()
	server.handleTrends(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"crypto"}, body["sources"])
}

func TestServer_RefreshIsAcceptedAsynchronously(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/refresh", nil)
	rec := httptest.NewRecorder()
	server.handleRefresh(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "accepted")
}

func TestServer_RefreshRejectsGet(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/refresh", nil)
	rec := httptest.NewRecorder()
	server.handleRefresh(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_SchedulerStatus(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/scheduler/status", nil)
	rec := httptest.NewRecorder()
	server.handleSchedulerStatus(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var status scheduler.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Running)
	assert.Len(t, status.Jobs, 2)
}

func TestServer_CacheStatusListsEntries(t *testing.T) {
	server, store := newTestServer(t)
	require.NoError(t, store.Put(trends.Key{Source: "crypto", Region: "JP"}, []byte(`[]`), 7))

	req := httptest.NewRequest(http.MethodGet, "/api/cache/status", nil)
	rec := httptest.NewRecorder()
	server.handleCacheStatus(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Entries []cache.KeyStatus      `json:"entries"`
		Stats   map[string]interface{} `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Entries, 1)
	assert.Equal(t, trends.Key{Source: "crypto", Region: "JP"}, body.Entries[0].Key)
	assert.Equal(t, 7, body.Entries[0].RecordCount)
	assert.Equal(t, float64(1), body.Stats["cache_entries"])
}

func TestServer_CacheInvalidateRemovesOneEntry(t *testing.T) {
	server, store := newTestServer(t)
	keep := trends.Key{Source: "crypto", Region: "JP"}
	drop := trends.Key{Source: "crypto", Region: "US"}
	require.NoError(t, store.Put(keep, []byte(`[]`), 1))
	require.NoError(t, store.Put(drop, []byte(`[]`), 1))

	req := httptest.NewRequest(http.MethodDelete, "/api/cache/crypto?region=US", nil)
	rec := httptest.NewRecorder()
	server.handleCacheEntry(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalidated")
	gone, err := store.Get(drop)
	require.NoError(t, err)
	assert.Nil(t, gone)
	kept, err := store.Get(keep)
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

func TestServer_CacheInvalidateRequiresRegion(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/cache/crypto", nil)
	rec := httptest.NewRecorder()
	server.handleCacheEntry(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_CacheClearRemovesEverything(t *testing.T) {
	server, store := newTestServer(t)
	require.NoError(t, store.Put(trends.Key{Source: "crypto", Region: "JP"}, []byte(`[]`), 1))
	require.NoError(t, store.Put(trends.Key{Source: "hatena", Region: "JP"}, []byte(`[]`), 1))

	req := httptest.NewRequest(http.MethodDelete, "/api/cache/", nil)
	rec := httptest.NewRecorder()
	server.handleCacheEntry(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cleared")
	entries, err := store.Status()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestServer_CacheEntryRejectsGet(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/cache/crypto", nil)
	rec := httptest.NewRecorder()
	server.handleCacheEntry(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_RecentRunsHonorsLimit(t *testing.T) {
	server, store := newTestServer(t)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.RecordRun(cache.RunEntry{
			RunID: id, Window: "morning",
			StartedAt: time.Now(), FinishedAt: time.Now(), Status: "success",
		}))
	}

	req := httptest.NewRequest(http.MethodGet, "/api/runs/recent?limit=2", nil)
	rec := httptest.NewRecorder()
	server.handleRecentRuns(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Runs  []cache.RunEntry `json:"runs"`
		Count int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Len(t, body.Runs, 2)
}

func TestServer_Health(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	server.handleHealth(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}
