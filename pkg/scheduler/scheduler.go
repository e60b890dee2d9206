// Package scheduler owns the daily trigger loop and drives refresh runs
// through the window guard.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/gorhill/cronexpr"

	"github.com/knakagawa/trendwatch/pkg/cache"
	"github.com/knakagawa/trendwatch/pkg/trends"
	"github.com/knakagawa/trendwatch/pkg/window"
)

// Runner executes one fan-out refresh pass. Satisfied by
// refresh.Orchestrator.
type Runner interface {
	RefreshAll(ctx context.Context, force bool) *trends.RunResult
}

// RunRecorder persists run history. Satisfied by cache.Store.
type RunRecorder interface {
	RecordRun(entry cache.RunEntry) error
}

// Notifier is told, best effort, that a scheduled run completed. Failures
// are logged and never affect the run.
type Notifier interface {
	Notify(ctx context.Context) error
}

// job is one daily trigger bound to a window name.
type job struct {
	name string
	expr *cronexpr.Expression
}

// JobStatus reports one trigger's next fire time.
type JobStatus struct {
	Name    string    `json:"name"`
	NextRun time.Time `json:"next_run"`
}

// Status is the observability snapshot of the scheduler.
type Status struct {
	Running bool         `json:"running"`
	Jobs    []JobStatus  `json:"scheduled_jobs"`
	Window  window.State `json:"window_state"`
}

// Scheduler fires the two daily windows, enforces single-flight execution
// through the guard, and records every run.
type Scheduler struct {
	cfg      window.Config
	guard    *window.Guard
	runner   Runner
	recorder RunRecorder
	notifier Notifier
	clock    clock.Clock
	logger   *slog.Logger
	catchup  bool

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	jobs    []job
}

// New builds a scheduler. When catchup is true, Start evaluates both windows
// once against the current time to recover from the process having been down
// across a trigger.
func New(cfg window.Config, guard *window.Guard, runner Runner, recorder RunRecorder, notifier Notifier, catchup bool, clk clock.Clock, logger *slog.Logger) (*Scheduler, error) {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}

	s := &Scheduler{
		cfg:      cfg,
		guard:    guard,
		runner:   runner,
		recorder: recorder,
		notifier: notifier,
		clock:    clk,
		logger:   logger,
		catchup:  catchup,
	}

	for _, w := range []window.Window{cfg.Morning, cfg.Afternoon} {
		expr, err := cronexpr.Parse(fmt.Sprintf("%d %d * * *", w.Minute, w.Hour))
		if err != nil {
			return nil, fmt.Errorf("trigger expression for %s window: %w", w.Name, err)
		}
		s.jobs = append(s.jobs, job{name: w.Name, expr: expr})
	}
	return s, nil
}

// Start launches the trigger loop. Safe to call once; subsequent calls are
// no-ops while running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("scheduler started", "catchup", s.catchup)
}

// Stop detaches the trigger loop. An in-flight run is allowed to finish;
// Stop blocks until the loop has exited.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Force runs an immediate refresh with forceRefresh set, bypassing the
// window checks. The run is silent: the notifier is not invoked. Returns nil
// and false when a run is already in progress.
func (s *Scheduler) Force(ctx context.Context) (*trends.RunResult, bool) {
	result := s.runOnce(ctx, window.TriggerForced)
	return result, result != nil
}

// Status reports whether the loop is running and each trigger's next fire
// time.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	now := s.clock.Now().In(s.cfg.Location)
	st := Status{Running: running, Window: s.guard.Snapshot()}
	for _, j := range s.jobs {
		st.Jobs = append(st.Jobs, JobStatus{Name: j.name, NextRun: j.expr.Next(now)})
	}
	return st
}

// loop is the long-lived trigger goroutine: one catch-up pass, then sleep
// until the earliest next trigger, run, repeat. ctx only interrupts the wait
// between runs; a run that has started is handed an independent context so a
// shutdown never aborts its in-flight fetches.
func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	if s.catchup {
		s.runOnce(context.Background(), window.TriggerCatchup)
	}

	for {
		now := s.clock.Now().In(s.cfg.Location)
		next := s.nextFire(now)
		timer := s.clock.Timer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.runOnce(context.Background(), window.TriggerScheduled)
		}
	}
}

// nextFire returns the earliest upcoming trigger instant after now.
func (s *Scheduler) nextFire(now time.Time) time.Time {
	var next time.Time
	for _, j := range s.jobs {
		if t := j.expr.Next(now); next.IsZero() || t.Before(next) {
			next = t
		}
	}
	return next
}

// runOnce asks the guard whether this firing is genuine and, if so, executes
// one fan-out run, records it, and notifies on scheduled completions.
// Returns nil when the guard skipped the firing.
func (s *Scheduler) runOnce(ctx context.Context, trigger window.Trigger) *trends.RunResult {
	decision := s.guard.Begin(trigger)
	if !decision.Proceed {
		s.logger.Debug("refresh skipped", "trigger", trigger.String(), "reason", decision.Reason)
		return nil
	}

	// The in-progress flag must clear even if the runner panics.
	defer s.guard.Finish(decision)

	runID := uuid.NewString()
	label := strings.Join(decision.Windows, "+")
	if decision.Forced {
		label = "manual"
	}
	s.logger.Info("refresh run starting", "run_id", runID, "trigger", trigger.String(), "window", label)

	started := s.clock.Now()
	result := s.runner.RefreshAll(ctx, decision.Forced)
	finished := s.clock.Now()

	entry := cache.RunEntry{
		RunID:      runID,
		Window:     label,
		Forced:     decision.Forced,
		StartedAt:  started,
		FinishedAt: finished,
		Total:      len(result.Entries),
		Succeeded:  result.Succeeded(),
		Failed:     result.Failed(),
		Status:     result.Status(),
	}
	if err := s.recorder.RecordRun(entry); err != nil {
		s.logger.Warn("failed to record run", "run_id", runID, "error", err)
	}

	if !decision.Forced && result.Succeeded() > 0 {
		if err := s.notifier.Notify(ctx); err != nil {
			s.logger.Warn("notifier failed", "run_id", runID, "error", err)
		}
	}
	return result
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context) error { return nil }
