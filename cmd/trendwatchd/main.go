package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/knakagawa/trendwatch/pkg/config"
	"github.com/knakagawa/trendwatch/pkg/daemon"
)

var (
	configFile  = flag.String("config", "", "Configuration file path (TOML)")
	dbPath      = flag.String("db", "", "SQLite database path (overrides config)")
	httpPort    = flag.Int("port", 0, "HTTP admin API port (overrides config)")
	pidFile     = flag.String("pid-file", "", "PID file path (overrides config)")
	logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
	noCatchup   = flag.Bool("no-catchup", false, "Skip the startup catch-up evaluation")
	showVersion = flag.Bool("version", false, "Show version information")
	showStatus  = flag.Bool("status", false, "Show daemon status")
	stopDaemon  = flag.Bool("stop", false, "Stop running daemon")
)

const version = "1.0.0"

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("trendwatchd version %s\n", version)
		os.Exit(0)
	}

	cfg, err := loadConfiguration()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if *showStatus {
		showDaemonStatus(cfg)
		os.Exit(0)
	}

	if *stopDaemon {
		stopRunningDaemon(cfg)
		os.Exit(0)
	}

	if running, pid, _ := daemon.IsRunning(cfg.PidFile); running {
		fmt.Fprintf(os.Stderr, "Daemon is already running with PID %d\n", pid)
		os.Exit(1)
	}

	d, err := daemon.New(cfg, version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating daemon: %v\n", err)
		os.Exit(1)
	}

	if err := d.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting daemon: %v\n", err)
		os.Exit(1)
	}

	d.Wait()
}

// loadConfiguration loads daemon configuration from file and applies flag
// overrides.
func loadConfiguration() (*config.Config, error) {
	cfg, err := config.Load(*configFile)
	if err != nil {
		return nil, err
	}

	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *httpPort != 0 {
		cfg.HTTPPort = *httpPort
	}
	if *pidFile != "" {
		cfg.PidFile = *pidFile
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *noCatchup {
		cfg.StartupCatchup = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// showDaemonStatus shows the current daemon status
func showDaemonStatus(cfg *config.Config) {
	running, pid, err := daemon.IsRunning(cfg.PidFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error checking daemon status: %v\n", err)
		return
	}

	if running {
		fmt.Printf("Daemon is running with PID %d\n", pid)
		fmt.Printf("HTTP Port: %d\n", cfg.HTTPPort)
		fmt.Printf("Database: %s\n", cfg.DBPath)
	} else {
		fmt.Println("Daemon is not running")
		if pid != 0 {
			fmt.Printf("Stale PID file found with PID %d\n", pid)
		}
	}
}

// stopRunningDaemon stops a running daemon
func stopRunningDaemon(cfg *config.Config) {
	running, pid, err := daemon.IsRunning(cfg.PidFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error checking daemon status: %v\n", err)
		return
	}

	if !running {
		fmt.Println("Daemon is not running")
		return
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error finding process %d: %v\n", pid, err)
		return
	}

	if err := process.Signal(os.Interrupt); err != nil {
		fmt.Fprintf(os.Stderr, "Error stopping daemon: %v\n", err)
		return
	}

	fmt.Printf("Sent stop signal to daemon (PID %d)\n", pid)

	time.Sleep(2 * time.Second)
	if running, _, _ := daemon.IsRunning(cfg.PidFile); !running {
		fmt.Println("Daemon stopped successfully")
	} else {
		fmt.Println("Daemon may still be running, check status")
	}
}
