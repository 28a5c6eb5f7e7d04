package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/jamesainslie/sift/pkg/daemon"
	"github.com/jamesainslie/sift/pkg/sift/config"
)

const (
	startAttempts = 50
	startInterval = 100 * time.Millisecond
	stopAttempts  = 20
	stopInterval  = 250 * time.Millisecond
	stopTimeout   = 10 * time.Second
)

// IsDaemonRunning reports whether the process named in the PID file is alive.
func IsDaemonRunning(pidPath string) bool {
	return daemon.IsDaemonRunning(pidPath)
}

// EnsureDaemon starts siftd unless it is already running.
func EnsureDaemon(paths DaemonPaths) error {
	return StartDaemon(paths)
}

// StartDaemon launches siftd detached from the caller and waits until it
// reports ready. It is a no-op when the daemon already runs.
func StartDaemon(paths DaemonPaths) error {
	paths = paths.withDefaults()
	if IsDaemonRunning(paths.PID) {
		return nil
	}

	binary, err := resolveBinary(paths.Binary)
	if err != nil {
		return fmt.Errorf("find %s: %w", config.DaemonBinary, err)
	}

	statusPath := daemon.StatusPath(paths.Socket)
	_ = os.Remove(statusPath)

	if err := spawn(binary, paths.Config); err != nil {
		return err
	}
	return waitReady(paths.Socket, statusPath, startAttempts, startInterval)
}

// spawn starts binary without tying its lifetime to ours.
func spawn(binary, configFile string) error {
	var args []string
	if configFile != "" {
		args = []string{"--config", configFile}
	}

	cmd := exec.Command(binary, args...) //nolint:gosec,noctx // the daemon outlives the caller
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	return cmd.Process.Release()
}

// StopDaemon asks a running daemon to shut down and waits for its PID file
// to go stale. It is a no-op when no daemon runs.
func StopDaemon(paths DaemonPaths) error {
	paths = paths.withDefaults()
	if !IsDaemonRunning(paths.PID) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	c, err := ConnectWithContext(ctx, paths.Socket)
	if err != nil {
		return fmt.Errorf("connect to daemon: %w", err)
	}
	defer c.Close()

	if err := c.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown daemon: %w", err)
	}

	stopped := poll(stopAttempts, stopInterval, func() (bool, error) {
		return !IsDaemonRunning(paths.PID), nil
	})
	if stopped != nil {
		return errors.New("daemon did not stop within timeout")
	}
	return nil
}

// RestartDaemon stops and then starts the daemon.
func RestartDaemon(paths DaemonPaths) error {
	if err := StopDaemon(paths); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	if err := StartDaemon(paths); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	return nil
}

var errPollExhausted = errors.New("condition not met")

// poll calls check every interval until it reports done or fails, giving
// up after the given number of attempts.
func poll(attempts int, interval time.Duration, check func() (bool, error)) error {
	for range attempts {
		time.Sleep(interval)
		done, err := check()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return errPollExhausted
}

// waitReady waits for the daemon's status file or socket to appear. A
// status file carrying an error ends the wait early.
func waitReady(socketPath, statusPath string, attempts int, interval time.Duration) error {
	err := poll(attempts, interval, func() (bool, error) {
		if st, err := daemon.ReadStatus(statusPath); err == nil {
			switch st.Status {
			case daemon.StatusReady:
				return true, nil
			case daemon.StatusError:
				return false, fmt.Errorf("daemon failed to start: %s", st.Error)
			}
		}
		_, err := os.Stat(socketPath)
		return err == nil, nil
	})
	if errors.Is(err, errPollExhausted) {
		return errors.New("daemon did not become ready within timeout")
	}
	return err
}

// resolveBinary locates siftd. An explicitly configured path must exist.
// Otherwise the directory of the running executable is tried first, then
// the Go bin directory, then PATH.
func resolveBinary(configured string) (string, error) {
	if configured != "" {
		if _, err := os.Stat(configured); err != nil {
			return "", fmt.Errorf("configured binary not found: %s", configured)
		}
		return configured, nil
	}

	var candidates []string
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), config.DaemonBinary))
	}
	if p := config.DefaultBinaryPath(); p != "" {
		candidates = append(candidates, p)
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}

	if p, err := exec.LookPath(config.DaemonBinary); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("%s not found", config.DaemonBinary)
}
