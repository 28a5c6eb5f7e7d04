package daemon

import (
	"os"
	"path/filepath"

	"github.com/jamesainslie/sift/pkg/sift/logging"
)

// RecoverFromStaleDaemon removes what a crashed daemon left behind: its pid
// file, socket, status file and the badger directory lock of indexPath.
// It returns ErrDaemonAlreadyRunning if the recorded process is alive.
func RecoverFromStaleDaemon(cfg Config, indexPath string) error {
	pid, err := ReadPIDFile(cfg.PIDPath)
	if err != nil {
		// No PID file or invalid PID means nothing to recover.
		return nil //nolint:nilerr // a missing or invalid pid file is not an error condition
	}

	if IsProcessRunning(pid) {
		return ErrDaemonAlreadyRunning
	}

	log := logging.Get("daemon")
	log.Warn("cleaning up stale daemon files", "stale_pid", pid)

	// The files may not exist.
	_ = os.Remove(cfg.PIDPath)
	_ = os.Remove(cfg.SocketPath)
	_ = os.Remove(cfg.StatusPath())
	if info, err := os.Stat(indexPath); err == nil && info.IsDir() {
		_ = os.Remove(filepath.Join(indexPath, "LOCK"))
	}

	return nil
}
