package daemon

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/knakagawa/trendwatch/pkg/cache"
	"github.com/knakagawa/trendwatch/pkg/config"
	"github.com/knakagawa/trendwatch/pkg/notify"
	"github.com/knakagawa/trendwatch/pkg/ratelimit"
	"github.com/knakagawa/trendwatch/pkg/refresh"
	"github.com/knakagawa/trendwatch/pkg/scheduler"
	"github.com/knakagawa/trendwatch/pkg/sources"
	"github.com/knakagawa/trendwatch/pkg/trends"
	"github.com/knakagawa/trendwatch/pkg/window"
)

// Daemon wires the cache store, source registry, window guard, scheduler
// and admin HTTP server together and manages their lifecycle.
type Daemon struct {
	config    *config.Config
	version   string
	logger    *Logger
	store     *cache.Store
	registry  *trends.Registry
	scheduler *scheduler.Scheduler
	server    *Server
	wg        sync.WaitGroup
	stopOnce  sync.Once
	done      chan struct{}
}

// New builds a daemon from validated configuration.
func New(cfg *config.Config, version string) (*Daemon, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	logger := NewLogger("trendwatchd", LogLevel(cfg.LogLevel))
	clk := clock.New()

	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone: %w", err)
	}

	store, err := cache.Open(cfg.DBPath, clk)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache store: %w", err)
	}

	overrides := make(map[string]ratelimit.Config, len(cfg.RateLimits))
	for name, rl := range cfg.RateLimits {
		overrides[name] = ratelimit.Config{
			MaxRequests: rl.MaxRequests,
			Window:      time.Duration(rl.WindowSeconds) * time.Second,
		}
	}
	limiters := ratelimit.NewRegistry(overrides, clk)

	registry := trends.NewRegistry(logger.Logger)
	sources.RegisterAll(registry, sources.Deps{
		Store:    store,
		Limiters: limiters,
		Logger:   logger.Logger,
		MaxAges:  cfg.MaxAges,
	})
	if registry.Len() == 0 {
		store.Close() //nolint:errcheck
		return nil, fmt.Errorf("no trend sources available")
	}

	wcfg, err := windowConfig(cfg, loc)
	if err != nil {
		store.Close() //nolint:errcheck
		return nil, err
	}
	guard, err := window.NewGuard(wcfg, store, clk, logger.Logger)
	if err != nil {
		store.Close() //nolint:errcheck
		return nil, fmt.Errorf("failed to create window guard: %w", err)
	}

	orch := refresh.New(registry, cfg.Concurrency, clk, logger.Logger)

	var notifier scheduler.Notifier = notify.Nop{}
	if cfg.NotificationsEnabled() {
		smtp := notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}
		notifier = notify.NewEmailNotifier(smtp, cfg.Subscribers, store, loc, clk, logger.Logger)
	}

	sched, err := scheduler.New(wcfg, guard, orch, store, notifier, cfg.StartupCatchup, clk, logger.Logger)
	if err != nil {
		store.Close() //nolint:errcheck
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	d := &Daemon{
		config:    cfg,
		version:   version,
		logger:    logger,
		store:     store,
		registry:  registry,
		scheduler: sched,
		done:      make(chan struct{}),
	}
	d.server = NewServer(store, registry, sched, cfg.HTTPPort, logger)
	return d, nil
}

// windowConfig translates the flat trigger configuration into the guard's
// window definitions.
func windowConfig(cfg *config.Config, loc *time.Location) (window.Config, error) {
	mh, mm, err := config.ParseTrigger(cfg.MorningTrigger)
	if err != nil {
		return window.Config{}, fmt.Errorf("morning trigger: %w", err)
	}
	ah, am, err := config.ParseTrigger(cfg.AfternoonTrigger)
	if err != nil {
		return window.Config{}, fmt.Errorf("afternoon trigger: %w", err)
	}
	return window.Config{
		Morning:   window.Window{Name: window.Morning, Hour: mh, Minute: mm},
		Afternoon: window.Window{Name: window.Afternoon, Hour: ah, Minute: am},
		Grace:     cfg.Grace,
		Location:  loc,
	}, nil
}

// Start writes the PID file, launches the scheduler loop and the admin
// server, and installs signal handling.
func (d *Daemon) Start() error {
	d.logger.LogDaemonStart(d.config.HTTPPort, d.version)

	if err := d.writePidFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	d.scheduler.Start()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.server.Start(); err != nil {
			d.logger.LogError("http server", err)
		}
	}()

	d.setupSignalHandling()

	d.logger.Info("daemon started", "sources", d.registry.Names())
	return nil
}

// Stop shuts the daemon down gracefully. An in-flight refresh run is
// allowed to finish.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		d.logger.Info("stopping daemon")

		d.scheduler.Stop()
		if err := d.server.Stop(); err != nil {
			d.logger.LogError("http server shutdown", err)
		}
		if err := d.store.Close(); err != nil {
			d.logger.LogError("cache store close", err)
		}

		d.removePidFile()
		close(d.done)
		d.logger.Info("daemon stopped")
	})
	d.wg.Wait()
	return nil
}

// Wait blocks until the daemon has been stopped.
func (d *Daemon) Wait() {
	<-d.done
	d.wg.Wait()
}

// setupSignalHandling stops the daemon on SIGINT or SIGTERM.
func (d *Daemon) setupSignalHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		select {
		case sig := <-sigChan:
			d.logger.Info("received signal, shutting down", "signal", sig.String())
			go func() {
				_ = d.Stop()
			}()
		case <-d.done:
		}
	}()
}

// writePidFile writes the process ID to a file
func (d *Daemon) writePidFile() error {
	if d.config.PidFile == "" {
		return nil
	}

	dir := filepath.Dir(d.config.PidFile)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	pid := os.Getpid()
	return os.WriteFile(d.config.PidFile, []byte(fmt.Sprintf("%d\n", pid)), 0o644)
}

// removePidFile removes the PID file
func (d *Daemon) removePidFile() {
	if d.config.PidFile != "" {
		os.Remove(d.config.PidFile)
	}
}

// IsRunning checks if the daemon is running by checking the PID file
func IsRunning(pidFile string) (bool, int, error) {
	if pidFile == "" {
		return false, 0, nil
	}

	data, err := os.ReadFile(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, err
	}

	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return false, 0, fmt.Errorf("invalid PID file format: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false, pid, nil
	}

	if err := process.Signal(syscall.Signal(0)); err != nil {
		return false, pid, nil
	}
	return true, pid, nil
}
