package trends

import (
	"log/slog"
	"sync"
)

// Registry holds the sources that initialized successfully. It is built once
// at startup; a source whose constructor fails is logged and omitted, and the
// rest are still served.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	sources map[string]Source
	logger  *slog.Logger
}

// NewRegistry creates an empty source registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sources: make(map[string]Source),
		logger:  logger,
	}
}

// Register constructs a source and adds it to the registry. Construction
// failures are logged as warnings and the source is skipped.
func (r *Registry) Register(name string, construct func() (Source, error)) {
	src, err := construct()
	if err != nil {
		r.logger.Warn("source initialization failed, skipping", "source", name, "error", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sources[name]; !exists {
		r.order = append(r.order, name)
	}
	r.sources[name] = src
	r.logger.Info("source registered", "source", name, "regions", src.Regions())
}

// Get returns a registered source by name.
func (r *Registry) Get(name string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[name]
	return src, ok
}

// Sources returns all registered sources in registration order.
func (r *Registry) Sources() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Source, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.sources[name])
	}
	return out
}

// Names returns the names of all registered sources in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered sources.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}
