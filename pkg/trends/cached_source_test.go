package trends

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory Store for tests.
type memStore struct {
	records map[Key]*Record
	stale   map[Key]bool
	putErr  error
}

func newMemStore() *memStore {
	return &memStore{
		records: make(map[Key]*Record),
		stale:   make(map[Key]bool),
	}
}

func (m *memStore) Get(key Key) (*Record, error) {
	return m.records[key], nil
}

func (m *memStore) Put(key Key, payload []byte, recordCount int) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.records[key] = &Record{
		Key:         key,
		Payload:     payload,
		RecordCount: recordCount,
		LastUpdated: time.Now(),
	}
	m.stale[key] = false
	return nil
}

func (m *memStore) IsStale(key Key, maxAge time.Duration) (bool, error) {
	if _, ok := m.records[key]; !ok {
		return true, nil
	}
	return m.stale[key], nil
}

func (m *memStore) Invalidate(key Key) error {
	delete(m.records, key)
	return nil
}

// countingLimiter records how many times Wait was called.
type countingLimiter struct{ waits int }

func (l *countingLimiter) Wait() { l.waits++ }

func TestCachedSource_FreshCacheSkipsExternalCall(t *testing.T) {
	// Given a store holding a fresh payload
	store := newMemStore()
	limiter := &countingLimiter{}
	key := Key{Source: "crypto", Region: "JP"}
	require.NoError(t, store.Put(key, []byte(`["cached"]`), 1))

	fetchCalls := 0
	src := NewCachedSource("crypto", []string{"JP"}, 6*time.Hour, store, limiter,
		func(ctx context.Context, region string) ([]byte, int, error) {
			fetchCalls++
			return []byte(`["live"]`), 1, nil
		}, nil)

	// When fetching without force
	result, err := src.Fetch(context.Background(), "JP", false)

	// Then the cached payload is served and nothing external happened
	require.NoError(t, err)
	assert.True(t, result.Cached)
	assert.JSONEq(t, `["cached"]`, string(result.Payload))
	assert.Equal(t, 0, fetchCalls)
	assert.Equal(t, 0, limiter.waits)
}

func TestCachedSource_StaleCacheTriggersFetchAndWriteThrough(t *testing.T) {
	// Given a store whose entry has gone stale
	store := newMemStore()
	limiter := &countingLimiter{}
	key := Key{Source: "crypto", Region: "JP"}
	require.NoError(t, store.Put(key, []byte(`["old"]`), 1))
	store.stale[key] = true

	src := NewCachedSource("crypto", []string{"JP"}, 6*time.Hour, store, limiter,
		func(ctx context.Context, region string) ([]byte, int, error) {
			return []byte(`["fresh"]`), 1, nil
		}, nil)

	// When fetching
	result, err := src.Fetch(context.Background(), "JP", false)

	// Then the limiter gated one external call and the store was updated
	require.NoError(t, err)
	assert.False(t, result.Cached)
	assert.JSONEq(t, `["fresh"]`, string(result.Payload))
	assert.Equal(t, 1, limiter.waits)
	assert.JSONEq(t, `["fresh"]`, string(store.records[key].Payload))
}

func TestCachedSource_ForceBypassesFreshness(t *testing.T) {
	// Given a fresh cache entry
	store := newMemStore()
	limiter := &countingLimiter{}
	key := Key{Source: "hatena", Region: "JP"}
	require.NoError(t, store.Put(key, []byte(`["cached"]`), 1))

	fetchCalls := 0
	src := NewCachedSource("hatena", []string{"JP"}, 6*time.Hour, store, limiter,
		func(ctx context.Context, region string) ([]byte, int, error) {
			fetchCalls++
			return []byte(`["forced"]`), 1, nil
		}, nil)

	// When fetching with force
	result, err := src.Fetch(context.Background(), "JP", true)

	// Then the external call happens despite the fresh cache
	require.NoError(t, err)
	assert.False(t, result.Cached)
	assert.Equal(t, 1, fetchCalls)
	assert.Equal(t, 1, limiter.waits)
}

func TestCachedSource_FetchErrorLeavesCacheIntact(t *testing.T) {
	// Given a stale entry and a failing upstream
	store := newMemStore()
	key := Key{Source: "hackernews", Region: "US"}
	require.NoError(t, store.Put(key, []byte(`["stale-but-present"]`), 1))
	store.stale[key] = true

	src := NewCachedSource("hackernews", []string{"US"}, 3*time.Hour, store, &countingLimiter{},
		func(ctx context.Context, region string) ([]byte, int, error) {
			return nil, 0, errors.New("upstream 503")
		}, nil)

	// When the fetch fails
	_, err := src.Fetch(context.Background(), "US", false)

	// Then the error surfaces and the previous payload is untouched
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream 503")
	assert.JSONEq(t, `["stale-but-present"]`, string(store.records[key].Payload))
}

func TestCachedSource_PutErrorSurfaces(t *testing.T) {
	store := newMemStore()
	store.putErr = errors.New("disk full")

	src := NewCachedSource("crypto", []string{"JP"}, time.Hour, store, &countingLimiter{},
		func(ctx context.Context, region string) ([]byte, int, error) {
			return []byte(`[]`), 0, nil
		}, nil)

	_, err := src.Fetch(context.Background(), "JP", false)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestCachedSource_RegionsReturnsCopy(t *testing.T) {
	src := NewCachedSource("crypto", []string{"JP", "US"}, time.Hour, newMemStore(), &countingLimiter{}, nil, nil)

	regions := src.Regions()
	regions[0] = "XX"

	assert.Equal(t, []string{"JP", "US"}, src.Regions())
}
