// Package config loads the server and client configuration documents:
// work orchestrator sizing, RPC cluster membership, logging, and metrics.
// Grounded in
// original_source/include/labstor/config/config_server.h (WorkOrchestratorInfo,
// RpcInfo) and original_source/src/config_server.cc (ParseWorkOrchestrator,
// ParseRpcInfo), ported from hand-rolled YAML-node parsing onto
// github.com/spf13/viper + mapstructure: defaults are set explicitly before
// unmarshalling, never inferred by reflection.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// WorkOrchestratorConfig mirrors labstor::config::WorkOrchestratorInfo.
type WorkOrchestratorConfig struct {
	MaxWorkers   int    `mapstructure:"max_workers"`
	RequestUnit  int    `mapstructure:"request_unit"`
	QueueDepth   int    `mapstructure:"queue_depth"`
	ShmAllocator string `mapstructure:"shm_allocator"`
	ShmName      string `mapstructure:"shm_name"`
	ShmSize      int64  `mapstructure:"shm_size"`
}

// RPCConfig mirrors labstor::config::RpcInfo.
type RPCConfig struct {
	HostFile  string   `mapstructure:"rpc_host_file"`
	HostNames []string `mapstructure:"rpc_host_names"`
	Protocol  string   `mapstructure:"rpc_protocol"`
	Domain    string   `mapstructure:"rpc_domain"`
	Port      int      `mapstructure:"rpc_port"`
}

// LogConfig is shared by ServerConfig and ClientConfig; it feeds
// internal/log.LoggerConfig directly.
type LogConfig struct {
	Level   string            `mapstructure:"level"`
	Pattern string            `mapstructure:"pattern"`
	Time    string            `mapstructure:"time"`
	File    *FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures internal/log's lumberjack-backed file appender.
type FileOutputConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig configures internal/metrics.Server.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ServerConfig is the recognized server option set:
// {max_workers, request_unit, queue_depth, shm_allocator, shm_name,
// shm_size, rpc_host_file, rpc_host_names, rpc_protocol, rpc_domain,
// rpc_port}, plus the ambient Log/Metrics sections.
type ServerConfig struct {
	WorkOrchestrator WorkOrchestratorConfig `mapstructure:"work_orchestrator"`
	RPC              RPCConfig              `mapstructure:",squash"`
	Log              LogConfig              `mapstructure:"log"`
	Metrics          MetricsConfig          `mapstructure:"metrics"`
	ControlSocket    string                 `mapstructure:"control_socket"`
}

// ClientConfig is the subset of options a labstorctl/client process needs:
// enough RPC context to reach the cluster's admin queue, plus logging.
type ClientConfig struct {
	RPC           RPCConfig `mapstructure:",squash"`
	Log           LogConfig `mapstructure:"log"`
	ControlSocket string    `mapstructure:"control_socket"`
}

// ServerConfigEnvVar / ClientConfigEnvVar name the env vars the config
// paths are read from.
const (
	ServerConfigEnvVar = "SERVER_CONF"
	ClientConfigEnvVar = "CLIENT_CONF"
)

// ServerConfigPath resolves the server config path from SERVER_CONF,
// falling back to the default when unset.
func ServerConfigPath() string {
	if p := os.Getenv(ServerConfigEnvVar); p != "" {
		return p
	}
	return "/etc/labstor/server.yaml"
}

// ClientConfigPath resolves the client config path from CLIENT_CONF.
func ClientConfigPath() string {
	if p := os.Getenv(ClientConfigEnvVar); p != "" {
		return p
	}
	return "/etc/labstor/client.yaml"
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return v, nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	return v, nil
}

func setServerDefaults(v *viper.Viper) {
	v.SetDefault("work_orchestrator.max_workers", 4)
	v.SetDefault("work_orchestrator.request_unit", 4096)
	v.SetDefault("work_orchestrator.queue_depth", 1024)
	v.SetDefault("work_orchestrator.shm_allocator", "posix_shmem_mmap")
	v.SetDefault("work_orchestrator.shm_name", "labstor_shm")
	v.SetDefault("work_orchestrator.shm_size", 1<<30)

	setRPCDefaults(v)
	setLogDefaults(v)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9091")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("control_socket", "/var/run/labstord.sock")
}

func setClientDefaults(v *viper.Viper) {
	setRPCDefaults(v)
	setLogDefaults(v)
	v.SetDefault("control_socket", "/var/run/labstord.sock")
}

func setRPCDefaults(v *viper.Viper) {
	v.SetDefault("rpc_host_file", "")
	v.SetDefault("rpc_host_names", []string{"localhost"})
	v.SetDefault("rpc_protocol", "tcp")
	v.SetDefault("rpc_domain", "")
	v.SetDefault("rpc_port", 8080)
}

func setLogDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pattern", "[%time][%level] %msg")
	v.SetDefault("log.time", "2006-01-02 15:04:05.000")
}

// LoadServerConfig loads and validates a ServerConfig from path.
func LoadServerConfig(path string) (*ServerConfig, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	setServerDefaults(v)

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling server config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadClientConfig loads and validates a ClientConfig from path.
func LoadClientConfig(path string) (*ClientConfig, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	setClientDefaults(v)

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling client config: %w", err)
	}
	if err := cfg.RPC.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *ServerConfig) validate() error {
	if cfg.WorkOrchestrator.MaxWorkers <= 0 {
		return fmt.Errorf("config: work_orchestrator.max_workers must be positive, got %d", cfg.WorkOrchestrator.MaxWorkers)
	}
	if cfg.WorkOrchestrator.QueueDepth <= 0 {
		return fmt.Errorf("config: work_orchestrator.queue_depth must be positive, got %d", cfg.WorkOrchestrator.QueueDepth)
	}
	return cfg.RPC.validate()
}

func (r *RPCConfig) validate() error {
	if r.HostFile == "" && len(r.HostNames) == 0 {
		return fmt.Errorf("config: one of rpc_host_file or rpc_host_names is required")
	}
	if r.Port <= 0 {
		return fmt.Errorf("config: rpc_port must be positive, got %d", r.Port)
	}
	return nil
}
