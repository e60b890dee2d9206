package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/knakagawa/trendwatch/pkg/cache"
	"github.com/knakagawa/trendwatch/pkg/scheduler"
	"github.com/knakagawa/trendwatch/pkg/trends"
)

// Server is the admin HTTP API: trend reads, cache inspection, run history
// and manual refresh.
type Server struct {
	store      *cache.Store
	registry   *trends.Registry
	scheduler  *scheduler.Scheduler
	port       int
	logger     *Logger
	httpServer *http.Server
}

// NewServer creates a new HTTP server instance
func NewServer(store *cache.Store, registry *trends.Registry, sched *scheduler.Scheduler, port int, logger *Logger) *Server {
	return &Server{
		store:     store,
		registry:  registry,
		scheduler: sched,
		port:      port,
		logger:    logger.WithComponent("http"),
	}
}

// Start starts the HTTP server and blocks until it exits.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/trends/", s.handleTrends)
	mux.HandleFunc("/api/refresh", s.handleRefresh)
	mux.HandleFunc("/api/scheduler/status", s.handleSchedulerStatus)
	mux.HandleFunc("/api/cache/status", s.handleCacheStatus)
	mux.HandleFunc("/api/cache/", s.handleCacheEntry)
	mux.HandleFunc("/api/runs/recent", s.handleRecentRuns)
	mux.HandleFunc("/api/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("http server listening", "port", s.port)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// handleTrends handles GET /api/trends/{source}?region=XX
func (s *Server) handleTrends(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/trends/"), "/")
	if name == "" {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"sources": s.registry.Names()})
		return
	}

	src, ok := s.registry.Get(name)
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("unknown source %q", name))
		return
	}

	region := r.URL.Query().Get("region")
	if region == "" {
		regions := src.Regions()
		if len(regions) == 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("source %q has no default region", name))
			return
		}
		region = regions[0]
	}

	rec, err := s.store.Get(trends.Key{Source: name, Region: region})
	if err != nil {
		s.logger.Warn("trend read failed", "source", name, "region", region, "error", err)
		s.writeError(w, http.StatusInternalServerError, "cache read failed")
		return
	}
	if rec == nil {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("no cached data for %s/%s", name, region))
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"source":       rec.Key.Source,
		"region":       rec.Key.Region,
		"record_count": rec.RecordCount,
		"last_updated": rec.LastUpdated,
		"items":        rec.Payload,
	})
}

// handleRefresh handles POST /api/refresh. The refresh runs in the
// background; the response only acknowledges the request.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if s.scheduler.Status().Window.InProgress {
		s.writeError(w, http.StatusConflict, "refresh already in progress")
		return
	}

	go func() {
		if result, ok := s.scheduler.Force(context.Background()); ok {
			s.logger.Info("manual refresh finished",
				"succeeded", result.Succeeded(),
				"failed", result.Failed(),
				"status", result.Status())
		}
	}()

	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handleSchedulerStatus handles GET /api/scheduler/status
func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.scheduler.Status())
}

// handleCacheStatus handles GET /api/cache/status
func (s *Server) handleCacheStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	entries, err := s.store.Status()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "cache status failed")
		return
	}
	stats, err := s.store.Stats()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "cache stats failed")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"stats":   stats,
	})
}

// handleCacheEntry handles DELETE /api/cache/{source}?region=XX. An empty
// source clears the whole cache.
func (s *Server) handleCacheEntry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/cache/"), "/")
	if name == "" {
		if err := s.store.Clear(); err != nil {
			s.writeError(w, http.StatusInternalServerError, "cache clear failed")
			return
		}
		s.logger.Info("cache cleared")
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
		return
	}

	region := r.URL.Query().Get("region")
	if region == "" {
		s.writeError(w, http.StatusBadRequest, "region query parameter required")
		return
	}
	key := trends.Key{Source: name, Region: region}
	if err := s.store.Invalidate(key); err != nil {
		s.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	s.logger.Info("cache entry invalidated", "key", key.String())
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// handleRecentRuns handles GET /api/runs/recent
func (s *Server) handleRecentRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	runs, err := s.store.RecentRuns(limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "run history read failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// handleHealth handles GET /api/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}
