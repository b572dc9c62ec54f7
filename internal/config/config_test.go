package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "conf.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadServerConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "rpc_host_names: [\"node1\"]\n")

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)
	require.Equal(t, 4, cfg.WorkOrchestrator.MaxWorkers)
	require.Equal(t, 1024, cfg.WorkOrchestrator.QueueDepth)
	require.Equal(t, "tcp", cfg.RPC.Protocol)
	require.Equal(t, []string{"node1"}, cfg.RPC.HostNames)
	require.False(t, cfg.Metrics.Enabled)
}

func TestLoadServerConfigOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
work_orchestrator:
  max_workers: 16
  queue_depth: 2048
rpc_host_names: ["a", "b"]
rpc_port: 9999
metrics:
  enabled: true
  listen: ":9100"
`)

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)
	require.Equal(t, 16, cfg.WorkOrchestrator.MaxWorkers)
	require.Equal(t, 2048, cfg.WorkOrchestrator.QueueDepth)
	require.Equal(t, []string{"a", "b"}, cfg.RPC.HostNames)
	require.Equal(t, 9999, cfg.RPC.Port)
	require.True(t, cfg.Metrics.Enabled)
	require.Equal(t, ":9100", cfg.Metrics.Listen)
}

func TestLoadServerConfigRejectsZeroWorkers(t *testing.T) {
	path := writeConfig(t, `
work_orchestrator:
  max_workers: 0
rpc_host_names: ["node1"]
`)

	_, err := LoadServerConfig(path)
	require.Error(t, err)
}

func TestLoadServerConfigRejectsMissingRPCHosts(t *testing.T) {
	path := writeConfig(t, "rpc_host_names: []\n")

	_, err := LoadServerConfig(path)
	require.Error(t, err)
}

func TestLoadServerConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadServerConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, 4, cfg.WorkOrchestrator.MaxWorkers)
	require.Equal(t, []string{"localhost"}, cfg.RPC.HostNames)
}

func TestLoadClientConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "rpc_host_names: [\"node1\"]\n")

	cfg, err := LoadClientConfig(path)
	require.NoError(t, err)
	require.Equal(t, "tcp", cfg.RPC.Protocol)
	require.Equal(t, 8080, cfg.RPC.Port)
}

func TestConfigPathsReadEnvVars(t *testing.T) {
	t.Setenv(ServerConfigEnvVar, "/tmp/custom-server.yaml")
	require.Equal(t, "/tmp/custom-server.yaml", ServerConfigPath())

	t.Setenv(ClientConfigEnvVar, "/tmp/custom-client.yaml")
	require.Equal(t, "/tmp/custom-client.yaml", ClientConfigPath())
}
