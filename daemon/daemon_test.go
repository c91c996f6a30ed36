package daemon

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func skipIfWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("flock semantics differ on Windows")
	}
}

func TestGetDefaultLogDir(t *testing.T) {
	logDir, err := GetDefaultLogDir()
	if err != nil {
		t.Fatalf("GetDefaultLogDir() failed: %v", err)
	}

	if !filepath.IsAbs(logDir) {
		t.Errorf("expected absolute path, got: %s", logDir)
	}
	if !strings.Contains(logDir, "indexsync") {
		t.Errorf("expected path to contain 'indexsync', got: %s", logDir)
	}
}

func TestWriteAndReadPIDFile(t *testing.T) {
	skipIfWindows(t)
	logDir := t.TempDir()

	if err := WritePIDFile(logDir); err != nil {
		t.Fatalf("WritePIDFile() failed: %v", err)
	}

	pid, err := ReadPIDFile(logDir)
	if err != nil {
		t.Fatalf("ReadPIDFile() failed: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("ReadPIDFile() = %d, want %d", pid, os.Getpid())
	}
}

func TestReadPIDFile_NotExists(t *testing.T) {
	pid, err := ReadPIDFile(t.TempDir())
	if err != nil {
		t.Fatalf("ReadPIDFile() failed: %v", err)
	}
	if pid != 0 {
		t.Errorf("ReadPIDFile() = %d, want 0", pid)
	}
}

func TestReadPIDFile_InvalidContent(t *testing.T) {
	logDir := t.TempDir()
	pidPath := filepath.Join(logDir, "indexsync-serve.pid")
	if err := os.WriteFile(pidPath, []byte("not-a-number\n"), 0644); err != nil {
		t.Fatalf("failed to write invalid PID file: %v", err)
	}

	if _, err := ReadPIDFile(logDir); err == nil {
		t.Error("ReadPIDFile() succeeded on garbage, want error")
	}
}

func TestGetRunningPIDCleansStaleFile(t *testing.T) {
	logDir := t.TempDir()
	pidPath := filepath.Join(logDir, "indexsync-serve.pid")

	// A PID that almost certainly does not exist.
	if err := os.WriteFile(pidPath, []byte("999999\n"), 0644); err != nil {
		t.Fatalf("failed to write PID file: %v", err)
	}

	pid, err := GetRunningPID(logDir)
	if err != nil {
		t.Fatalf("GetRunningPID() failed: %v", err)
	}
	if pid != 0 {
		t.Errorf("GetRunningPID() = %d, want 0 for a dead process", pid)
	}
	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Error("stale PID file was not cleaned up")
	}
}

func TestReadyFileLifecycle(t *testing.T) {
	logDir := t.TempDir()

	if IsReady(logDir) {
		t.Fatal("IsReady() = true before WriteReadyFile")
	}

	if err := WriteReadyFile(logDir); err != nil {
		t.Fatalf("WriteReadyFile() failed: %v", err)
	}
	if !IsReady(logDir) {
		t.Fatal("IsReady() = false after WriteReadyFile")
	}

	if err := RemoveReadyFile(logDir); err != nil {
		t.Fatalf("RemoveReadyFile() failed: %v", err)
	}
	if IsReady(logDir) {
		t.Fatal("IsReady() = true after RemoveReadyFile")
	}
}

func TestRemovePIDFile_NotExists(t *testing.T) {
	if err := RemovePIDFile(t.TempDir()); err != nil {
		t.Errorf("RemovePIDFile() on empty dir failed: %v", err)
	}
}

func TestIsProcessRunning(t *testing.T) {
	if !IsProcessRunning(os.Getpid()) {
		t.Error("IsProcessRunning(self) = false, want true")
	}
	if IsProcessRunning(0) {
		t.Error("IsProcessRunning(0) = true, want false")
	}
	if IsProcessRunning(-1) {
		t.Error("IsProcessRunning(-1) = true, want false")
	}
}
