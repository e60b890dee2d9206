package trends

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Limiter gates external calls for one API. Satisfied by ratelimit.Limiter.
type Limiter interface {
	Wait()
}

// FetchFunc performs the actual external call for one region and returns the
// payload blob plus the number of records it contains.
type FetchFunc func(ctx context.Context, region string) ([]byte, int, error)

// CachedSource implements the shared fetch pipeline every adapter follows:
// consult the freshness store, return the cached payload when it is fresh and
// the call is not forced, otherwise admit through the rate limiter, perform
// the external call and write the result through to the store.
type CachedSource struct {
	name    string
	regions []string
	maxAge  time.Duration
	store   Store
	limiter Limiter
	fetch   FetchFunc
	logger  *slog.Logger
}

// NewCachedSource builds a source around an external fetch function.
func NewCachedSource(name string, regions []string, maxAge time.Duration, store Store, limiter Limiter, fetch FetchFunc, logger *slog.Logger) *CachedSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedSource{
		name:    name,
		regions: regions,
		maxAge:  maxAge,
		store:   store,
		limiter: limiter,
		fetch:   fetch,
		logger:  logger.With("source", name),
	}
}

func (s *CachedSource) Name() string { return s.name }

func (s *CachedSource) Regions() []string {
	regions := make([]string, len(s.regions))
	copy(regions, s.regions)
	return regions
}

// MaxAge returns the staleness threshold this source supplies to the store.
func (s *CachedSource) MaxAge() time.Duration { return s.maxAge }

// Fetch implements Source.
func (s *CachedSource) Fetch(ctx context.Context, region string, force bool) (*FetchResult, error) {
	key := Key{Source: s.name, Region: region}

	if !force {
		stale, err := s.store.IsStale(key, s.maxAge)
		if err != nil {
			return nil, fmt.Errorf("freshness check for %s: %w", key, err)
		}
		if !stale {
			rec, err := s.store.Get(key)
			if err != nil {
				return nil, fmt.Errorf("cache read for %s: %w", key, err)
			}
			if rec != nil {
				s.logger.Debug("serving cached payload", "region", region, "last_updated", rec.LastUpdated)
				return &FetchResult{
					Key:         key,
					Payload:     rec.Payload,
					RecordCount: rec.RecordCount,
					Cached:      true,
				}, nil
			}
		}
	}

	s.limiter.Wait()

	payload, count, err := s.fetch(ctx, region)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}

	if err := s.store.Put(key, payload, count); err != nil {
		return nil, fmt.Errorf("cache write for %s: %w", key, err)
	}

	s.logger.Info("refreshed source", "region", region, "records", count)
	return &FetchResult{
		Key:         key,
		Payload:     payload,
		RecordCount: count,
	}, nil
}
