package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, sockPath string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "server.yaml")
	content := "work_orchestrator:\n" +
		"  max_workers: 2\n" +
		"  request_unit: 4096\n" +
		"  queue_depth: 64\n" +
		"rpc_host_names: [\"localhost\"]\n" +
		"rpc_protocol: tcp\n" +
		"rpc_port: 17381\n" +
		"log:\n" +
		"  level: debug\n" +
		"metrics:\n" +
		"  enabled: false\n" +
		"control_socket: " + sockPath + "\n"
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))
	return configPath
}

func TestDaemonStartRunStop(t *testing.T) {
	tmpDir := t.TempDir()
	sockPath := filepath.Join(tmpDir, "labstord.sock")
	pidPath := filepath.Join(tmpDir, "labstord.pid")
	configPath := writeTestConfig(t, sockPath)

	d, err := New(configPath, pidPath)
	require.NoError(t, err)
	require.NoError(t, d.Start())

	_, err = os.Stat(pidPath)
	require.NoError(t, err)

	runDone := make(chan error, 1)
	go func() { runDone <- d.Run() }()

	time.Sleep(50 * time.Millisecond)
	close(d.shutdownChan)

	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop within timeout")
	}

	_, err = os.Stat(pidPath)
	require.True(t, os.IsNotExist(err))
}

func TestDaemonStartStopWithoutRun(t *testing.T) {
	tmpDir := t.TempDir()
	sockPath := filepath.Join(tmpDir, "labstord.sock")
	pidPath := filepath.Join(tmpDir, "labstord.pid")
	configPath := writeTestConfig(t, sockPath)

	d, err := New(configPath, pidPath)
	require.NoError(t, err)
	require.NoError(t, d.Start())

	d.Stop()

	_, err = os.Stat(pidPath)
	require.True(t, os.IsNotExist(err))
}
