package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/yoanbernabeu/indexsync/config"
	"github.com/yoanbernabeu/indexsync/daemon"
	"github.com/yoanbernabeu/indexsync/engine"
	"github.com/yoanbernabeu/indexsync/index"
	"github.com/yoanbernabeu/indexsync/internal/fileutil"
)

var (
	serveBackground bool
	serveLogDir     string
	serveStatus     bool
	serveStop       bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the directory sync daemon",
	Long: `Start the process that watches the configured source trees and keeps the
remote indexes in sync.

The daemon will:
- Report files already on disk so the index converges with current state
- Monitor filesystem events (create, modify, delete, rename)
- Coalesce rapid changes per path before shipping them
- Retry failed index deliveries with backoff, up to a bounded attempt count
- Fall back to polling when native filesystem watches are unavailable

Background mode:
  indexsync serve --background       Run in background with default log directory
  indexsync serve --status           Check if the background daemon is running
  indexsync serve --stop             Stop the background daemon

Send SIGHUP to a running daemon to reload the sources from the config file.

Logs are not rotated automatically; truncate or archive the log file
periodically, or set up logrotate.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveBackground, "background", false, "Run in background mode")
	serveCmd.Flags().StringVar(&serveLogDir, "log-dir", "", "Directory for log files (default: OS-specific)")
	serveCmd.Flags().BoolVar(&serveStatus, "status", false, "Show background daemon status")
	serveCmd.Flags().BoolVar(&serveStop, "stop", false, "Stop the background daemon")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	activeFlags := 0
	if serveBackground {
		activeFlags++
	}
	if serveStatus {
		activeFlags++
	}
	if serveStop {
		activeFlags++
	}
	if activeFlags > 1 {
		return fmt.Errorf("flags --background, --status, and --stop are mutually exclusive")
	}

	logDir := serveLogDir
	if logDir == "" {
		var err error
		logDir, err = daemon.GetDefaultLogDir()
		if err != nil {
			return fmt.Errorf("failed to get default log directory: %w", err)
		}
	}

	if serveStatus {
		return showServeStatus(logDir)
	}
	if serveStop {
		return stopServeDaemon(logDir)
	}
	if serveBackground {
		return startBackgroundServe(logDir)
	}

	// Check if already running in background (cleans up stale PIDs).
	pid, err := daemon.GetRunningPID(logDir)
	if err != nil {
		return fmt.Errorf("failed to check running status: %w", err)
	}
	if pid > 0 {
		return fmt.Errorf("daemon is already running in background (PID %d)\nUse 'indexsync serve --stop' to stop it", pid)
	}

	return runServeForeground(logDir)
}

func buildIndexClient(ctx context.Context, cfg *config.Config) (index.Client, error) {
	switch cfg.Index.Backend {
	case "marqo":
		return index.NewMarqoClient(cfg.Index.Marqo.Endpoint, time.Duration(cfg.Index.Marqo.TimeoutMs)*time.Millisecond)
	case "postgres":
		return index.NewPostgresClient(ctx, cfg.Index.Postgres.DSN, cfg.Index.Postgres.Table)
	case "memory":
		return index.NewMemoryClient(), nil
	default:
		return nil, fmt.Errorf("unknown index backend: %s", cfg.Index.Backend)
	}
}

func engineOptions(cfg *config.Config) engine.Options {
	return engine.Options{
		QuietWindow:    cfg.Watch.QuietWindow(),
		MaxPending:     cfg.Watch.MaxPending(),
		PollInterval:   cfg.Watch.PollInterval(),
		ForcePolling:   cfg.Watch.ForcePolling,
		RestartMax:     cfg.Watch.RestartMax,
		IgnorePatterns: cfg.Ignore,
		SkipExtensions: config.DefaultSkipExtensions(),
	}
}

func runServeForeground(logDir string) error {
	isBackgroundChild := daemon.IsBackgroundChild()
	if isBackgroundChild {
		log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
		log.SetPrefix("[indexsync] ")
		if err := daemon.WritePIDFile(logDir); err != nil {
			return err
		}
		defer func() {
			_ = daemon.RemoveReadyFile(logDir)
			_ = daemon.RemovePIDFile(logDir)
		}()
	}

	configPath, err := resolveConfigPath()
	if err != nil {
		return err
	}
	if !config.Exists(configPath) {
		return fmt.Errorf("no configuration found at %s\nRun 'indexsync init' first", configPath)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	roots := engine.RootsFromConfig(cfg)
	if len(roots) == 0 {
		log.Printf("Warning: no sources configured in %s, nothing will be watched until the next reload", configPath)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := buildIndexClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	log.Printf("Starting sync engine (backend: %s, sources: %d)", cfg.Index.Backend, len(roots))

	dispatcher := index.NewDispatcher(client, index.DispatcherConfig{
		Workers:      cfg.Index.Workers,
		MaxAttempts:  cfg.Index.MaxAttempts,
		QueueSize:    cfg.Index.QueueSize,
		RateLimit:    cfg.Index.RateLimit,
		RetryInitial: time.Duration(cfg.Index.RetryInitialMs) * time.Millisecond,
	})
	dispatcher.Start(ctx)

	eng := engine.New(engineOptions(cfg), roots, dispatcher)
	eng.Start(ctx)

	if isBackgroundChild {
		if err := daemon.WriteReadyFile(logDir); err != nil {
			log.Printf("Warning: failed to write ready file: %v", err)
		}
		log.Println("Watching for changes...")
	} else {
		fmt.Println("\nWatching for changes... (Press Ctrl+C to stop)")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	reloadChan := make(chan os.Signal, 1)
	signal.Notify(reloadChan, syscall.SIGHUP)
	stopCh := daemon.StopChannel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runStatusWriter(gCtx, eng, logDir)
	})

	g.Go(func() error {
		defer cancel()
		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-sigChan:
				if isBackgroundChild {
					log.Println("Shutting down...")
				} else {
					fmt.Println("\nShutting down...")
				}
				return shutdownEngine(eng, dispatcher)
			case <-stopCh:
				log.Println("Stop file detected, shutting down...")
				return shutdownEngine(eng, dispatcher)
			case <-reloadChan:
				reloadSources(eng, configPath)
			}
		}
	})

	return g.Wait()
}

// shutdownEngine drains buffered and in-flight work before returning, bounded
// so a dead remote cannot hang shutdown forever.
func shutdownEngine(eng *engine.Engine, dispatcher *index.Dispatcher) error {
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer drainCancel()

	if err := eng.Close(drainCtx); err != nil {
		log.Printf("Warning: shutdown drain incomplete: %v", err)
	}

	counters := dispatcher.Counters()
	log.Printf("Shutdown complete: %d delivered, %d abandoned", counters.Succeeded, counters.Abandoned)
	return nil
}

// reloadSources re-reads the config file and reconciles the watched roots.
// Index backend settings are not hot-swappable; those changes need a restart.
func reloadSources(eng *engine.Engine, configPath string) {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("Warning: reload failed, keeping current sources: %v", err)
		return
	}
	roots := engine.RootsFromConfig(cfg)
	eng.Reconcile(roots)
	log.Printf("Reloaded sources from %s (%d configured)", configPath, len(roots))
}

// runStatusWriter periodically snapshots the engine state to a JSON file so
// the status command and external dashboards can read it without talking to
// the daemon.
func runStatusWriter(ctx context.Context, eng *engine.Engine, logDir string) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			writeStatusSnapshot(eng, logDir)
			return nil
		case <-ticker.C:
			writeStatusSnapshot(eng, logDir)
		}
	}
}

func writeStatusSnapshot(eng *engine.Engine, logDir string) {
	data, err := json.MarshalIndent(eng.Snapshot(), "", "  ")
	if err != nil {
		log.Printf("Warning: failed to marshal status snapshot: %v", err)
		return
	}
	if err := fileutil.WriteFileAtomic(daemon.GetStatusFile(logDir), data, 0644); err != nil {
		log.Printf("Warning: failed to write status snapshot: %v", err)
	}
}

func showServeStatus(logDir string) error {
	pid, err := daemon.GetRunningPID(logDir)
	if err != nil {
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	if pid == 0 {
		fmt.Println("Status: not running")
		fmt.Printf("Log directory: %s\n", logDir)
		return nil
	}

	fmt.Println("Status: running")
	fmt.Printf("PID: %d\n", pid)
	fmt.Printf("Log file: %s\n", daemon.GetLogFile(logDir))

	data, err := os.ReadFile(daemon.GetStatusFile(logDir))
	if err != nil {
		return nil
	}
	var snap engine.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil
	}

	fmt.Printf("\nRoots (as of %s):\n", snap.UpdatedAt.Format(time.RFC3339))
	for _, root := range snap.Roots {
		line := fmt.Sprintf("  %-30s %s", root.RootID, root.State)
		if root.Strategy != "" {
			line += fmt.Sprintf(" (%s)", root.Strategy)
		}
		if root.LastError != "" {
			line += fmt.Sprintf(" last error: %s", root.LastError)
		}
		fmt.Println(line)
	}
	fmt.Printf("\nQueue: %d queued, %d in flight, %d pending debounce\n",
		snap.Counters.Queued, snap.Counters.InFlight, snap.Pending)
	fmt.Printf("Delivered: %d, abandoned: %d\n", snap.Counters.Succeeded, snap.Counters.Abandoned)
	return nil
}

func stopServeDaemon(logDir string) error {
	pid, err := daemon.GetRunningPID(logDir)
	if err != nil {
		return fmt.Errorf("failed to read PID file: %w", err)
	}
	if pid == 0 {
		fmt.Println("No background daemon is running")
		return nil
	}

	fmt.Printf("Stopping background daemon (PID %d)...\n", pid)
	if err := daemon.StopProcess(pid); err != nil {
		return fmt.Errorf("failed to stop process: %w", err)
	}

	const shutdownTimeout = 30 * time.Second
	const shutdownPollInterval = 500 * time.Millisecond
	deadline := time.Now().Add(shutdownTimeout)
	lastProgress := time.Now()

	for time.Now().Before(deadline) {
		if !daemon.IsProcessRunning(pid) {
			break
		}
		if time.Since(lastProgress) >= 5*time.Second {
			fmt.Println("Waiting for graceful shutdown...")
			lastProgress = time.Now()
		}
		time.Sleep(shutdownPollInterval)
	}

	if daemon.IsProcessRunning(pid) {
		return fmt.Errorf("process did not stop within %v\nStill running? Try: kill -9 %d\nOr check logs at: %s",
			shutdownTimeout, pid, daemon.GetLogFile(logDir))
	}

	if err := daemon.RemovePIDFile(logDir); err != nil {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}

	fmt.Println("Background daemon stopped")
	return nil
}

func startBackgroundServe(logDir string) error {
	pid, err := daemon.GetRunningPID(logDir)
	if err != nil {
		return fmt.Errorf("failed to check running status: %w", err)
	}
	if pid > 0 {
		return fmt.Errorf("daemon is already running (PID %d)", pid)
	}

	args := []string{"serve"}
	if rootConfigPath != "" {
		args = append(args, "--config", rootConfigPath)
	}
	if serveLogDir != "" {
		args = append(args, "--log-dir", serveLogDir)
	}

	childPID, exitCh, err := daemon.SpawnBackground(logDir, args)
	if err != nil {
		return fmt.Errorf("failed to start background process: %w", err)
	}

	logFile := daemon.GetLogFile(logDir)
	const startupTimeout = 30 * time.Second
	const pollInterval = 250 * time.Millisecond
	deadline := time.Now().Add(startupTimeout)

	for time.Now().Before(deadline) {
		if daemon.IsReady(logDir) {
			fmt.Printf("Background daemon started (PID %d)\n", childPID)
			fmt.Printf("Logs: %s\n", logFile)
			fmt.Printf("\nUse 'indexsync serve --status' to check status\n")
			fmt.Printf("Use 'indexsync serve --stop' to stop the daemon\n")
			return nil
		}

		// Detect early child exit instead of waiting for the full timeout.
		select {
		case <-exitCh:
			return fmt.Errorf("background process failed to start (check logs at %s)", logFile)
		default:
		}

		time.Sleep(pollInterval)
	}

	return fmt.Errorf("timeout waiting for process to become ready after %v (check logs at %s)", startupTimeout, logFile)
}
