// Package window decides whether a trigger firing represents a genuine new
// refresh window or a duplicate, a misfire, or a firing outside any window.
package window

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Names of the two daily windows.
const (
	Morning   = "morning"
	Afternoon = "afternoon"
)

// Trigger identifies what caused an evaluation.
type Trigger int

const (
	// TriggerScheduled is a timer firing at a configured time of day.
	TriggerScheduled Trigger = iota
	// TriggerCatchup is the one-time evaluation performed at process start.
	TriggerCatchup
	// TriggerForced is an explicit operator request. It bypasses the window
	// checks but still respects the in-progress mutual exclusion.
	TriggerForced
)

func (t Trigger) String() string {
	switch t {
	case TriggerScheduled:
		return "scheduled"
	case TriggerCatchup:
		return "catchup"
	case TriggerForced:
		return "forced"
	default:
		return "unknown"
	}
}

// Window is one fixed daily trigger time.
type Window struct {
	Name   string
	Hour   int
	Minute int
}

// triggerOn returns the window's trigger instant on the day containing t.
func (w Window) triggerOn(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, w.Hour, w.Minute, 0, 0, loc)
}

// Config defines the two windows, the grace period during which a late
// firing still counts as on time, and the timezone all comparisons use.
type Config struct {
	Morning   Window
	Afternoon Window
	Grace     time.Duration
	Location  *time.Location
}

// DefaultConfig returns the stock 07:00 / 14:00 JST windows with a one hour
// grace period.
func DefaultConfig() Config {
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		loc = time.UTC
	}
	return Config{
		Morning:   Window{Name: Morning, Hour: 7, Minute: 0},
		Afternoon: Window{Name: Afternoon, Hour: 14, Minute: 0},
		Grace:     time.Hour,
		Location:  loc,
	}
}

// Decision is the outcome of one guard evaluation.
type Decision struct {
	Proceed bool
	// Windows lists the window names this run is attributed to. Empty for
	// forced runs, which never claim a window. A catch-up that finds both
	// windows outstanding coalesces them into one run claiming both.
	Windows []string
	Forced  bool
	Reason  string
}

// StateStore persists window completion marks across restarts. Satisfied by
// cache.Store.
type StateStore interface {
	WindowLastRun(window string) (time.Time, bool, error)
	SetWindowLastRun(window string, at time.Time) error
}

// Guard owns the window state machine. All transitions are atomic with
// respect to concurrent trigger firings; a single mutex guards entry into
// Proceed.
type Guard struct {
	cfg    Config
	store  StateStore
	clock  clock.Clock
	logger *slog.Logger

	mu            sync.Mutex
	inProgress    bool
	lastMorning   time.Time
	lastAfternoon time.Time
}

// NewGuard creates a guard and loads persisted window marks from the store.
func NewGuard(cfg Config, store StateStore, clk clock.Clock, logger *slog.Logger) (*Guard, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Grace <= 0 {
		cfg.Grace = time.Hour
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}

	g := &Guard{cfg: cfg, store: store, clock: clk, logger: logger}

	if at, ok, err := store.WindowLastRun(cfg.Morning.Name); err != nil {
		return nil, fmt.Errorf("loading %s window state: %w", cfg.Morning.Name, err)
	} else if ok {
		g.lastMorning = at
	}
	if at, ok, err := store.WindowLastRun(cfg.Afternoon.Name); err != nil {
		return nil, fmt.Errorf("loading %s window state: %w", cfg.Afternoon.Name, err)
	} else if ok {
		g.lastAfternoon = at
	}
	return g, nil
}

// InProgress reports whether a run is currently executing.
func (g *Guard) InProgress() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inProgress
}

// Begin evaluates the trigger and, when the decision is Proceed, marks a run
// as in progress. Every Proceed must be paired with a Finish call.
func (g *Guard) Begin(trigger Trigger) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inProgress {
		return Decision{Reason: "run already in progress"}
	}

	d := g.evaluate(g.clock.Now().In(g.cfg.Location), trigger)
	if d.Proceed {
		g.inProgress = true
	}
	return d
}

// Finish clears the in-progress flag and records the decision's windows as
// serviced. Forced runs are administrative and never claim a window, so a
// later scheduled firing for the same window still proceeds.
func (g *Guard) Finish(d Decision) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.inProgress = false
	if d.Forced {
		return
	}

	now := g.clock.Now().In(g.cfg.Location)
	for _, name := range d.Windows {
		switch name {
		case g.cfg.Morning.Name:
			g.lastMorning = now
		case g.cfg.Afternoon.Name:
			g.lastAfternoon = now
		default:
			continue
		}
		if err := g.store.SetWindowLastRun(name, now); err != nil {
			g.logger.Warn("failed to persist window mark", "window", name, "error", err)
		}
	}
}

// evaluate classifies now against the configured windows. Caller holds g.mu.
//
// The comparison is by local date and hour range rather than a true
// idempotency token; around DST transitions or under clock skew a window can
// be misclassified. Runs carry a unique id in the run log for forensics, but
// the guard keeps the date-based check.
func (g *Guard) evaluate(now time.Time, trigger Trigger) Decision {
	switch trigger {
	case TriggerForced:
		return Decision{Proceed: true, Forced: true, Reason: "forced run"}

	case TriggerCatchup:
		var due []string
		if !now.Before(g.cfg.Morning.triggerOn(now, g.cfg.Location)) && !g.morningServiced(now) {
			due = append(due, g.cfg.Morning.Name)
		}
		if !now.Before(g.cfg.Afternoon.triggerOn(now, g.cfg.Location)) && !g.afternoonServiced(now) {
			due = append(due, g.cfg.Afternoon.Name)
		}
		if len(due) == 0 {
			return Decision{Reason: "no window outstanding"}
		}
		return Decision{Proceed: true, Windows: due, Reason: "startup catch-up"}

	default: // TriggerScheduled
		if w, ok := g.classify(now); ok {
			switch w.Name {
			case g.cfg.Morning.Name:
				if g.morningServiced(now) {
					return Decision{Reason: "morning window already serviced today"}
				}
			case g.cfg.Afternoon.Name:
				if g.afternoonServiced(now) {
					return Decision{Reason: "afternoon window already serviced"}
				}
			}
			return Decision{Proceed: true, Windows: []string{w.Name}, Reason: "inside " + w.Name + " window"}
		}
		return Decision{Reason: "outside any window"}
	}
}

// classify returns the window whose [trigger, trigger+grace) range contains
// now.
func (g *Guard) classify(now time.Time) (Window, bool) {
	for _, w := range []Window{g.cfg.Morning, g.cfg.Afternoon} {
		start := w.triggerOn(now, g.cfg.Location)
		if !now.Before(start) && now.Before(start.Add(g.cfg.Grace)) {
			return w, true
		}
	}
	return Window{}, false
}

// morningServiced reports whether the morning window already completed on
// now's calendar date.
func (g *Guard) morningServiced(now time.Time) bool {
	if g.lastMorning.IsZero() {
		return false
	}
	y1, m1, d1 := g.lastMorning.In(g.cfg.Location).Date()
	y2, m2, d2 := now.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// afternoonServiced reports whether the afternoon window was already
// serviced: a run completed within the last hour, or at any point since
// today's afternoon trigger time.
func (g *Guard) afternoonServiced(now time.Time) bool {
	if g.lastAfternoon.IsZero() {
		return false
	}
	if now.Sub(g.lastAfternoon) < time.Hour {
		return true
	}
	trigger := g.cfg.Afternoon.triggerOn(now, g.cfg.Location)
	return !g.lastAfternoon.In(g.cfg.Location).Before(trigger)
}

// State is a snapshot of the guard for the status surface.
type State struct {
	InProgress    bool      `json:"in_progress"`
	LastMorning   time.Time `json:"last_morning_run,omitempty"`
	LastAfternoon time.Time `json:"last_afternoon_run,omitempty"`
}

// Snapshot returns the current guard state.
func (g *Guard) Snapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return State{
		InProgress:    g.inProgress,
		LastMorning:   g.lastMorning,
		LastAfternoon: g.lastAfternoon,
	}
}
