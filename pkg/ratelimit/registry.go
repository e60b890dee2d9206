package ratelimit

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Config is the admission bound for one API name.
type Config struct {
	MaxRequests int
	Window      time.Duration
}

// defaultLimits holds conservative bounds for the APIs the stock sources
// target. Entries are keyed by lower-case API name.
var defaultLimits = map[string]Config{
	"youtube":    {MaxRequests: 100, Window: 100 * time.Second},
	"spotify":    {MaxRequests: 10, Window: time.Second},
	"worldnews":  {MaxRequests: 10, Window: time.Minute},
	"podcast":    {MaxRequests: 10, Window: time.Minute},
	"rakuten":    {MaxRequests: 10, Window: time.Second},
	"twitch":     {MaxRequests: 800, Window: time.Minute},
	"google":     {MaxRequests: 10, Window: time.Minute},
	"stock":      {MaxRequests: 20, Window: time.Minute},
	"crypto":     {MaxRequests: 10, Window: time.Minute},
	"news":       {MaxRequests: 10, Window: time.Minute},
	"nhk":        {MaxRequests: 10, Window: time.Minute},
	"hatena":     {MaxRequests: 10, Window: time.Minute},
	"hackernews": {MaxRequests: 10, Window: time.Minute},
	"cnn":        {MaxRequests: 10, Window: time.Minute},
}

// fallback is applied to API names with neither an override nor a default.
var fallback = Config{MaxRequests: 10, Window: time.Minute}

// Registry hands out one shared Limiter per API name for the lifetime of the
// process. It replaces ambient singletons: construct one per composition
// root and pass references down.
type Registry struct {
	mu        sync.Mutex
	limiters  map[string]*Limiter
	overrides map[string]Config
	clock     clock.Clock
}

// NewRegistry creates a limiter registry. Overrides take precedence over the
// built-in defaults and are keyed by lower-case API name.
func NewRegistry(overrides map[string]Config, clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{
		limiters:  make(map[string]*Limiter),
		overrides: overrides,
		clock:     clk,
	}
}

// Get returns the shared limiter for an API name, creating it on first use.
func (r *Registry) Get(name string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[name]; ok {
		return l
	}

	cfg, ok := r.overrides[name]
	if !ok {
		cfg, ok = defaultLimits[name]
	}
	if !ok {
		cfg = fallback
	}

	l := NewLimiter(name, cfg.MaxRequests, cfg.Window, r.clock)
	r.limiters[name] = l
	return l
}

// Names returns the API names with an instantiated limiter.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.limiters))
	for name := range r.limiters {
		names = append(names, name)
	}
	return names
}
