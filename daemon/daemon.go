// Package daemon provides lifecycle management for the indexsync serve daemon.
//
// It handles PID file management, process spawning, and shutdown signalling
// for running indexsync serve in background mode.
//
// The PID file contains a single line with the process ID as a decimal
// integer. PID file writes use file locking to prevent races when multiple
// processes attempt to start simultaneously.
package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/yoanbernabeu/indexsync/internal/fileutil"
)

const (
	pidFileName    = "indexsync-serve.pid"
	logFileName    = "indexsync-serve.log"
	readyFileName  = "indexsync-serve.ready"
	statusFileName = "indexsync-serve.status.json"

	// BackgroundEnv is set on the spawned child so it can tell it is the
	// background instance and adjust its logging accordingly.
	BackgroundEnv = "INDEXSYNC_BACKGROUND"
)

// GetDefaultLogDir returns the OS-specific default log directory.
//
//   - Linux:   $XDG_STATE_HOME/indexsync/logs or ~/.local/state/indexsync/logs
//   - macOS:   ~/Library/Logs/indexsync
//   - Windows: %LOCALAPPDATA%\indexsync\logs
func GetDefaultLogDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir, "Library", "Logs", "indexsync"), nil
	case "windows":
		if base := os.Getenv("LOCALAPPDATA"); base != "" {
			return filepath.Join(base, "indexsync", "logs"), nil
		}
		return filepath.Join(homeDir, "AppData", "Local", "indexsync", "logs"), nil
	default:
		if base := os.Getenv("XDG_STATE_HOME"); base != "" {
			return filepath.Join(base, "indexsync", "logs"), nil
		}
		return filepath.Join(homeDir, ".local", "state", "indexsync", "logs"), nil
	}
}

// GetLogFile returns the daemon log file path inside logDir.
func GetLogFile(logDir string) string {
	return filepath.Join(logDir, logFileName)
}

// GetStatusFile returns the status snapshot path inside logDir.
func GetStatusFile(logDir string) string {
	return filepath.Join(logDir, statusFileName)
}

// WritePIDFile writes the current process ID to the PID file. The lock file
// stays open and locked for the lifetime of the process; the OS releases it
// on exit.
func WritePIDFile(logDir string) error {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	pidPath := filepath.Join(logDir, pidFileName)
	lockPath := pidPath + ".lock"

	lockFh, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}

	if err := fileutil.FlockExclusive(lockFh, true); err != nil {
		lockFh.Close()
		return fmt.Errorf("another indexsync serve process is starting (lock held)")
	}

	content := fmt.Sprintf("%d\n", os.Getpid())
	if err := fileutil.WriteFileAtomic(pidPath, []byte(content), 0600); err != nil {
		lockFh.Close()
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	// Intentionally keep lockFh open: the held lock is the liveness signal
	// against concurrent starts.
	return nil
}

// ReadPIDFile reads the process ID from the PID file. A missing file is not
// an error and reports pid 0. This does not check whether the process is
// actually running; use GetRunningPID for that.
func ReadPIDFile(logDir string) (int, error) {
	pidPath := filepath.Join(logDir, pidFileName)

	data, err := os.ReadFile(pidPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}

	return pid, nil
}

// RemovePIDFile removes the PID file and its associated lock file.
func RemovePIDFile(logDir string) error {
	pidPath := filepath.Join(logDir, pidFileName)
	_ = os.Remove(pidPath + ".lock")

	if err := os.Remove(pidPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// GetRunningPID returns the PID of the running daemon, or 0 if not running.
// Stale PID files (process no longer exists) are cleaned up along the way.
func GetRunningPID(logDir string) (int, error) {
	pid, err := ReadPIDFile(logDir)
	if err != nil {
		return 0, err
	}
	if pid == 0 {
		return 0, nil
	}

	if !IsProcessRunning(pid) {
		_ = RemovePIDFile(logDir)
		return 0, nil
	}

	return pid, nil
}

// WriteReadyFile marks the daemon as initialized. Called once the engine is
// watching, so the parent of a background spawn can stop polling.
func WriteReadyFile(logDir string) error {
	readyPath := filepath.Join(logDir, readyFileName)
	content := fmt.Sprintf("ready\n%d\n", os.Getpid())
	if err := os.WriteFile(readyPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write ready file: %w", err)
	}
	return nil
}

// RemoveReadyFile removes the ready marker file.
func RemoveReadyFile(logDir string) error {
	readyPath := filepath.Join(logDir, readyFileName)
	if err := os.Remove(readyPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove ready file: %w", err)
	}
	return nil
}

// IsReady checks if the ready marker file exists.
func IsReady(logDir string) bool {
	_, err := os.Stat(filepath.Join(logDir, readyFileName))
	return err == nil
}

// SpawnBackground re-executes the current binary as a detached background
// process with stdout/stderr redirected to the daemon log file.
//
// Returns the child PID and an exit channel. The exit channel receives when
// the child terminates, which lets callers detect early failures without
// relying on kill(0), which reports zombies as alive.
func SpawnBackground(logDir string, args []string) (int, <-chan struct{}, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return 0, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	executable, err := os.Executable()
	if err != nil {
		return 0, nil, fmt.Errorf("failed to get executable path: %w", err)
	}

	logFile, err := os.OpenFile(GetLogFile(logDir), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	liveness, err := newLivenessCheck()
	if err != nil {
		logFile.Close()
		return 0, nil, err
	}

	cmd := exec.Command(executable, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil
	cmd.Env = append(os.Environ(), BackgroundEnv+"=1")
	cmd.SysProcAttr = sysProcAttr()
	liveness.configureCmd(cmd)

	if err := cmd.Start(); err != nil {
		logFile.Close()
		liveness.cleanup()
		return 0, nil, fmt.Errorf("failed to start background process: %w", err)
	}

	logFile.Close()
	exitCh := liveness.start(cmd.Process.Pid)

	return cmd.Process.Pid, exitCh, nil
}

// IsBackgroundChild reports whether this process was spawned by
// SpawnBackground.
func IsBackgroundChild() bool {
	return os.Getenv(BackgroundEnv) == "1"
}
