package trends

import (
	"context"
	"time"
)

// Source is the uniform capability every data-source integration exposes.
// Implementations must be safe to call repeatedly and must return failures
// as errors rather than panicking.
type Source interface {
	// Name is the source category, unique within a registry.
	Name() string
	// Regions lists the regions this source is configured to serve.
	Regions() []string
	// Fetch returns trend data for one region. When force is false a fresh
	// cached payload may be returned without any external call.
	Fetch(ctx context.Context, region string, force bool) (*FetchResult, error)
}

// Store is the cache surface sources consult before and after an external
// call. Satisfied by cache.Store.
type Store interface {
	Get(key Key) (*Record, error)
	Put(key Key, payload []byte, recordCount int) error
	IsStale(key Key, maxAge time.Duration) (bool, error)
	Invalidate(key Key) error
}
