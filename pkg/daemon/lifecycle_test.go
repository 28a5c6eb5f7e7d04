package daemon_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jamesainslie/sift/pkg/daemon"
)

func TestWriteAndReadPID(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "run", "siftd.pid")

	if err := daemon.WritePIDFile(pidPath); err != nil {
		t.Fatalf("WritePIDFile failed: %v", err)
	}

	pid, err := daemon.ReadPIDFile(pidPath)
	if err != nil {
		t.Fatalf("ReadPIDFile failed: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("Expected PID %d, got %d", os.Getpid(), pid)
	}
}

func TestReadPIDFile_Invalid(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{
		"garbage":  "not-a-pid",
		"negative": "-4",
		"zero":     "0\n",
	} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := daemon.ReadPIDFile(path); err == nil {
			t.Errorf("ReadPIDFile(%s) expected error", name)
		}
	}
}

func TestIsDaemonRunning(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "siftd.pid")

	// No PID file = not running
	if daemon.IsDaemonRunning(pidPath) {
		t.Error("Expected false when PID file doesn't exist")
	}

	if err := daemon.WritePIDFile(pidPath); err != nil {
		t.Fatal(err)
	}
	if !daemon.IsDaemonRunning(pidPath) {
		t.Error("Expected true when PID file has current process")
	}

	if err := os.WriteFile(pidPath, []byte("999999999"), 0o644); err != nil {
		t.Fatal(err)
	}
	if daemon.IsDaemonRunning(pidPath) {
		t.Error("Expected false when PID is not a live process")
	}
}

func TestRemovePIDFile(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "siftd.pid")

	if err := daemon.WritePIDFile(pidPath); err != nil {
		t.Fatalf("WritePIDFile failed: %v", err)
	}
	if err := daemon.RemovePIDFile(pidPath); err != nil {
		t.Fatalf("RemovePIDFile failed: %v", err)
	}
	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Error("PID file should have been removed")
	}

	// Removing again is fine.
	if err := daemon.RemovePIDFile(pidPath); err != nil {
		t.Errorf("RemovePIDFile on missing file: %v", err)
	}
}

func TestIsProcessRunning(t *testing.T) {
	if !daemon.IsProcessRunning(os.Getpid()) {
		t.Error("Expected current process to be running")
	}
	if daemon.IsProcessRunning(999999999) {
		t.Error("Expected non-existent PID to not be running")
	}
}
