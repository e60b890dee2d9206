// Package refresh fans a run out to every registered source and aggregates
// the independent outcomes.
package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/knakagawa/trendwatch/pkg/trends"
)

const defaultConcurrency = 4

// Orchestrator invokes every registered source for every region it serves.
// Sources fail independently: no failure, including a panic inside an
// adapter, prevents any other (source, region) pair from being attempted.
type Orchestrator struct {
	registry    *trends.Registry
	clock       clock.Clock
	logger      *slog.Logger
	concurrency int
}

// New creates an orchestrator over a source registry. Concurrency bounds how
// many fetches run in parallel; values below one select the default.
func New(registry *trends.Registry, concurrency int, clk clock.Clock, logger *slog.Logger) *Orchestrator {
	if concurrency < 1 {
		concurrency = defaultConcurrency
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		registry:    registry,
		clock:       clk,
		logger:      logger,
		concurrency: concurrency,
	}
}

// RefreshAll runs one fan-out pass and returns one outcome per
// (source, region) attempted. It never returns early on a source failure.
func (o *Orchestrator) RefreshAll(ctx context.Context, force bool) *trends.RunResult {
	result := trends.NewRunResult(o.clock.Now())

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)

	for _, src := range o.registry.Sources() {
		src := src
		for _, region := range src.Regions() {
			region := region
			g.Go(func() error {
				key := trends.Key{Source: src.Name(), Region: region}
				outcome := o.fetchOne(ctx, src, region, force)

				mu.Lock()
				result.Entries[key] = outcome
				mu.Unlock()
				return nil
			})
		}
	}

	// Tasks record their own failures and return nil.
	g.Wait() //nolint:errcheck

	result.Finished = o.clock.Now()
	o.logger.Info("refresh run finished",
		"total", len(result.Entries),
		"succeeded", result.Succeeded(),
		"failed", result.Failed(),
		"forced", force,
		"duration", result.Finished.Sub(result.Started))
	return result
}

// fetchOne calls a single source for one region, converting errors and
// panics into a failed outcome.
func (o *Orchestrator) fetchOne(ctx context.Context, src trends.Source, region string, force bool) (outcome trends.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = trends.Outcome{Error: fmt.Sprintf("panic: %v", r)}
			o.logger.Error("source panicked", "source", src.Name(), "region", region, "panic", r)
		}
	}()

	res, err := src.Fetch(ctx, region, force)
	if err != nil {
		o.logger.Warn("source fetch failed", "source", src.Name(), "region", region, "error", err)
		return trends.Outcome{Error: err.Error()}
	}
	return trends.Outcome{
		Success:     true,
		RecordCount: res.RecordCount,
		Cached:      res.Cached,
	}
}
