package trends

import "time"

// Outcome records how a single (source, region) fetch ended.
type Outcome struct {
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	RecordCount int    `json:"record_count"`
	Cached      bool   `json:"cached"`
}

// RunResult aggregates the outcomes of one fan-out run. It is consumed
// immediately by the scheduler and is not persisted beyond the run log.
type RunResult struct {
	Started  time.Time       `json:"started"`
	Finished time.Time       `json:"finished"`
	Entries  map[Key]Outcome `json:"entries"`
}

// NewRunResult returns an empty result stamped with the start time.
func NewRunResult(started time.Time) *RunResult {
	return &RunResult{
		Started: started,
		Entries: make(map[Key]Outcome),
	}
}

// Success reports whether every entry succeeded.
func (r *RunResult) Success() bool {
	for _, o := range r.Entries {
		if !o.Success {
			return false
		}
	}
	return true
}

// Succeeded returns the number of successful entries.
func (r *RunResult) Succeeded() int {
	n := 0
	for _, o := range r.Entries {
		if o.Success {
			n++
		}
	}
	return n
}

// Failed returns the number of failed entries.
func (r *RunResult) Failed() int {
	return len(r.Entries) - r.Succeeded()
}

// Status summarizes the run the way the run log records it.
func (r *RunResult) Status() string {
	switch {
	case len(r.Entries) == 0:
		return "empty"
	case r.Failed() == 0:
		return "success"
	case r.Succeeded() > 0:
		return "partial_success"
	default:
		return "failed"
	}
}
