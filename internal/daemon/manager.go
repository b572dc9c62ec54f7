package daemon

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lukemartinlogan/labstor/internal/command"
	"github.com/lukemartinlogan/labstor/internal/config"
)

const (
	startupTimeout = 3 * time.Second
	pollInterval   = 100 * time.Millisecond
)

// EnsureDaemonRunning makes sure labstord is reachable at sockPath, starting
// it in the background (re-exec'ing this same binary as "start
// --foreground") if it is not already, so a labstorctl invocation never has
// to be preceded by a manual daemon start.
func EnsureDaemonRunning(sockPath string) error {
	if socketAlive(sockPath) {
		return nil
	}
	return startDaemonInBackground(sockPath)
}

// StopDaemon sends SIGTERM to the process named by pidFile and waits briefly
// for it to exit, cleaning up the PID file and socket regardless of whether
// the process had already gone away.
func StopDaemon(pidFile, sockPath string) error {
	pid, err := readPIDFile(pidFile)
	if err != nil {
		return fmt.Errorf("daemon: not running (%w)", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("daemon: signaling pid %d: %w", pid, err)
	}

	time.Sleep(500 * time.Millisecond)
	os.Remove(sockPath)
	os.Remove(pidFile)
	return nil
}

// socketAlive reports whether a labstord control channel is accepting
// connections at sockPath, by sending it a real JSON-RPC request rather than
// merely stat-ing the socket file (a stale, unlistened socket file can
// survive an unclean shutdown).
func socketAlive(sockPath string) bool {
	client := command.NewUDSClient(sockPath, 500*time.Millisecond)
	return client.Ping(context.Background()) == nil
}

// startDaemonInBackground re-execs the running binary as "start
// --foreground" in a new session, so it survives the parent labstorctl
// process exiting, and polls the control socket until it comes up or
// startupTimeout elapses.
func startDaemonInBackground(sockPath string) error {
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("daemon: resolving own executable: %w", err)
	}

	logPath := filepath.Join(os.TempDir(), "labstord.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("daemon: opening daemon log %s: %w", logPath, err)
	}
	defer logFile.Close()

	cmd := exec.Command(execPath, "start", "--foreground")
	cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%s", config.ServerConfigEnvVar, config.ServerConfigPath()))
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("daemon: starting labstord: %w", err)
	}

	deadline := time.Now().Add(startupTimeout)
	for time.Now().Before(deadline) {
		if socketAlive(sockPath) {
			return nil
		}
		time.Sleep(pollInterval)
	}
	return fmt.Errorf("daemon: labstord started but socket %s not ready after %s", sockPath, startupTimeout)
}

func readPIDFile(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, err
	}
	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return 0, fmt.Errorf("daemon: malformed PID file %s: %w", pidFile, err)
	}
	return pid, nil
}
