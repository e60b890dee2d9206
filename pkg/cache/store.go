package cache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"
	_ "github.com/mattn/go-sqlite3"

	"github.com/knakagawa/trendwatch/pkg/trends"
)

// Store is the durable key-value cache behind the freshness checks. One row
// exists per (source, region); writes fully replace payload, count and
// timestamp. It also persists the scheduler's window marks and the run log
// so the at-most-once-per-window guarantee survives restarts.
type Store struct {
	db    *sql.DB
	path  string
	clock clock.Clock
}

// KeyStatus describes the freshness of one cache entry without its payload.
type KeyStatus struct {
	Key         trends.Key `json:"key"`
	RecordCount int        `json:"record_count"`
	LastUpdated time.Time  `json:"last_updated"`
}

// Open creates or opens the cache database at path and initializes the
// schema.
func Open(path string, clk clock.Clock) (*Store, error) {
	if clk == nil {
		clk = clock.New()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, path: path, clock: clk}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS trend_cache (
		source TEXT NOT NULL,
		region TEXT NOT NULL,
		payload BLOB NOT NULL,
		record_count INTEGER NOT NULL,
		last_updated INTEGER NOT NULL,
		PRIMARY KEY (source, region)
	);

	CREATE TABLE IF NOT EXISTS window_state (
		window TEXT PRIMARY KEY,
		last_run_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS run_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL UNIQUE,
		window TEXT NOT NULL,
		forced BOOLEAN NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL,
		total INTEGER NOT NULL,
		succeeded INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		status TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trend_cache_updated ON trend_cache(last_updated);
	CREATE INDEX IF NOT EXISTS idx_run_log_started ON run_log(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get returns the record for key, or nil when no record exists.
func (s *Store) Get(key trends.Key) (*trends.Record, error) {
	row := s.db.QueryRow(
		`SELECT payload, record_count, last_updated FROM trend_cache WHERE source = ? AND region = ?`,
		key.Source, key.Region)

	rec := &trends.Record{Key: key}
	var updated int64
	if err := row.Scan(&rec.Payload, &rec.RecordCount, &updated); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	rec.LastUpdated = time.Unix(updated, 0)
	return rec, nil
}

// Put upserts the record for key, stamping it with the current time. The
// timestamp is clamped to be monotonically non-decreasing per key.
func (s *Store) Put(key trends.Key, payload []byte, recordCount int) error {
	now := s.clock.Now().Unix()
	_, err := s.db.Exec(`
		INSERT INTO trend_cache (source, region, payload, record_count, last_updated)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (source, region) DO UPDATE SET
			payload = excluded.payload,
			record_count = excluded.record_count,
			last_updated = MAX(trend_cache.last_updated, excluded.last_updated)`,
		key.Source, key.Region, payload, recordCount, now)
	return err
}

// IsStale reports whether key is absent or older than maxAge.
func (s *Store) IsStale(key trends.Key, maxAge time.Duration) (bool, error) {
	var updated int64
	err := s.db.QueryRow(
		`SELECT last_updated FROM trend_cache WHERE source = ? AND region = ?`,
		key.Source, key.Region).Scan(&updated)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	age := s.clock.Now().Sub(time.Unix(updated, 0))
	return age > maxAge, nil
}

// LastUpdated returns when key was last written; ok is false when the key is
// absent.
func (s *Store) LastUpdated(key trends.Key) (time.Time, bool, error) {
	var updated int64
	err := s.db.QueryRow(
		`SELECT last_updated FROM trend_cache WHERE source = ? AND region = ?`,
		key.Source, key.Region).Scan(&updated)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.Unix(updated, 0), true, nil
}

// Invalidate removes the record for key. Removing an absent key is not an
// error.
func (s *Store) Invalidate(key trends.Key) error {
	_, err := s.db.Exec(
		`DELETE FROM trend_cache WHERE source = ? AND region = ?`,
		key.Source, key.Region)
	return err
}

// Clear removes every cache record. Window marks and the run log are kept.
func (s *Store) Clear() error {
	_, err := s.db.Exec(`DELETE FROM trend_cache`)
	return err
}

// Status lists every cache entry's key, count and timestamp, newest first.
func (s *Store) Status() ([]KeyStatus, error) {
	rows, err := s.db.Query(
		`SELECT source, region, record_count, last_updated FROM trend_cache ORDER BY last_updated DESC, source, region`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []KeyStatus
	for rows.Next() {
		var st KeyStatus
		var updated int64
		if err := rows.Scan(&st.Key.Source, &st.Key.Region, &st.RecordCount, &updated); err != nil {
			return nil, err
		}
		st.LastUpdated = time.Unix(updated, 0)
		out = append(out, st)
	}
	return out, rows.Err()
}

// WindowLastRun returns the persisted completion mark for a named window; ok
// is false when the window has never completed.
func (s *Store) WindowLastRun(window string) (time.Time, bool, error) {
	var at int64
	err := s.db.QueryRow(
		`SELECT last_run_at FROM window_state WHERE window = ?`, window).Scan(&at)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.Unix(at, 0), true, nil
}

// SetWindowLastRun persists the completion mark for a named window.
func (s *Store) SetWindowLastRun(window string, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO window_state (window, last_run_at) VALUES (?, ?)
		ON CONFLICT (window) DO UPDATE SET last_run_at = excluded.last_run_at`,
		window, at.Unix())
	return err
}

// Stats returns storage statistics for the admin surface.
func (s *Store) Stats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var entries int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM trend_cache`).Scan(&entries); err != nil {
		return nil, err
	}
	stats["cache_entries"] = entries

	var runs int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM run_log`).Scan(&runs); err != nil {
		return nil, err
	}
	stats["recorded_runs"] = runs

	var newest *int64
	if err := s.db.QueryRow(`SELECT MAX(last_updated) FROM trend_cache`).Scan(&newest); err != nil {
		return nil, err
	}
	if newest != nil {
		stats["newest_entry"] = time.Unix(*newest, 0)
	}

	if info, err := os.Stat(s.path); err == nil {
		stats["database_size_bytes"] = info.Size()
	}
	return stats, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
