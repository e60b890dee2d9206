package cache

import "time"

// RunEntry is one row of refresh-run history.
type RunEntry struct {
	RunID      string    `json:"run_id"`
	Window     string    `json:"window"`
	Forced     bool      `json:"forced"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Total      int       `json:"total"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Status     string    `json:"status"`
}

// RecordRun appends one completed run to the run log.
func (s *Store) RecordRun(entry RunEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO run_log (run_id, window, forced, started_at, finished_at, total, succeeded, failed, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID, entry.Window, entry.Forced,
		entry.StartedAt.Unix(), entry.FinishedAt.Unix(),
		entry.Total, entry.Succeeded, entry.Failed, entry.Status)
	return err
}

// RecentRuns returns the most recent runs, newest first.
func (s *Store) RecentRuns(limit int) ([]RunEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(`
		SELECT run_id, window, forced, started_at, finished_at, total, succeeded, failed, status
		FROM run_log ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunEntry
	for rows.Next() {
		var e RunEntry
		var started, finished int64
		if err := rows.Scan(&e.RunID, &e.Window, &e.Forced, &started, &finished,
			&e.Total, &e.Succeeded, &e.Failed, &e.Status); err != nil {
			return nil, err
		}
		e.StartedAt = time.Unix(started, 0)
		e.FinishedAt = time.Unix(finished, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneRuns removes run log rows older than maxAge.
func (s *Store) PruneRuns(maxAge time.Duration) error {
	cutoff := s.clock.Now().Add(-maxAge).Unix()
	_, err := s.db.Exec(`DELETE FROM run_log WHERE started_at < ?`, cutoff)
	return err
}
