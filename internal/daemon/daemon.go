// Package daemon implements the labstord process lifecycle: bootstrap of
// every runtime component (registry, queue manager, orchestrator, admin,
// remote queue, process queue, metrics, control channel) from a
// ServerConfig, in dependency order, and graceful start/stop/reload.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"github.com/lukemartinlogan/labstor/internal/admin"
	"github.com/lukemartinlogan/labstor/internal/command"
	"github.com/lukemartinlogan/labstor/internal/config"
	"github.com/lukemartinlogan/labstor/internal/ids"
	logpkg "github.com/lukemartinlogan/labstor/internal/log"
	"github.com/lukemartinlogan/labstor/internal/metrics"
	"github.com/lukemartinlogan/labstor/internal/orchestrator"
	"github.com/lukemartinlogan/labstor/internal/procqueue"
	"github.com/lukemartinlogan/labstor/internal/queuemgr"
	"github.com/lukemartinlogan/labstor/internal/registry"
	"github.com/lukemartinlogan/labstor/internal/remote"
	"github.com/lukemartinlogan/labstor/internal/rpcengine"
)

// Daemon owns every long-lived runtime component and their lifecycle.
type Daemon struct {
	config     *config.ServerConfig
	configPath string
	pidFile    string
	nodeID     ids.NodeId

	registry  *registry.Registry
	queues    *queuemgr.Manager
	rpcCtx    *rpcengine.Context
	rpcEngine *rpcengine.Engine
	orch      *orchestrator.Orchestrator
	adminSt   *admin.Admin
	remoteQ   *remote.Queue
	procQ     *procqueue.Queue

	metricsServer *metrics.Server // nil if disabled
	cmdHandler    *command.CommandHandler
	udsServer     *command.UDSServer

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownChan chan struct{}
	sigChan      chan os.Signal
}

// New loads configPath and constructs a Daemon, without starting anything.
func New(configPath, pidFile string) (*Daemon, error) {
	cfg, err := config.LoadServerConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("daemon: loading config: %w", err)
	}
	d := &Daemon{
		config:       cfg,
		configPath:   configPath,
		pidFile:      pidFile,
		shutdownChan: make(chan struct{}),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Start brings up every runtime component in dependency order. The control
// channel's server is launched in a background goroutine, so Start may
// return before it is accepting connections.
func (d *Daemon) Start() error {
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("daemon: initializing logging: %w", err)
	}
	log := logpkg.Entry().WithField("component", "daemon")
	log.WithField("config", d.configPath).Info("starting labstord")

	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("daemon: writing PID file: %w", err)
	}

	rpcCtx, err := newRPCContext(&d.config.RPC)
	if err != nil {
		return fmt.Errorf("daemon: building rpc context: %w", err)
	}
	d.rpcCtx = rpcCtx
	d.nodeID = rpcCtx.MyNodeID

	d.registry = registry.New(d.nodeID, afero.NewOsFs())
	d.queues, err = queuemgr.NewManager(d.nodeID)
	if err != nil {
		return fmt.Errorf("daemon: constructing queue manager: %w", err)
	}

	d.rpcEngine = rpcengine.NewEngine(rpcCtx)

	resolver := remote.NewHostResolver(rpcCtx)
	remoteID := d.registry.ReserveStateID()
	remoteQ, err := remote.New(remoteID, d.nodeID, d.rpcEngine, d.registry, d.queues, resolver, logpkg.Entry())
	if err != nil {
		return fmt.Errorf("daemon: starting remote queue: %w", err)
	}
	d.remoteQ = remoteQ
	d.registry.BindState(remoteID, "remote_queue", remoteQ)

	d.orch = orchestrator.New(d.nodeID, d.config.WorkOrchestrator.MaxWorkers, d.registry, remoteQ, logpkg.Entry())

	procID := d.registry.ReserveStateID()
	d.procQ = procqueue.New(procID, d.queues)
	d.registry.BindState(procID, "proc_queue", d.procQ)

	d.adminSt = admin.New(d.registry, d.queues, d.orch, logpkg.Entry())
	d.registry.BindState(d.adminSt.ID(), d.adminSt.Name(), d.adminSt)

	d.orch.Start(d.ctx)

	if err := d.startMetrics(); err != nil {
		return fmt.Errorf("daemon: starting metrics server: %w", err)
	}

	searchPaths := []string{"/usr/lib/labstor", "/usr/local/lib/labstor"}
	d.cmdHandler = command.NewCommandHandler(d.adminSt, d.registry, searchPaths, logpkg.Entry())
	d.udsServer = command.NewUDSServer(d.config.ControlSocket, d.cmdHandler, logpkg.Entry())
	go func() {
		if err := d.udsServer.Start(d.ctx); err != nil && err != context.Canceled {
			log.WithError(err).Error("uds server failed")
		}
	}()

	go func() {
		select {
		case <-d.adminSt.StopRequested():
			close(d.shutdownChan)
		case <-d.ctx.Done():
		}
	}()

	log.Info("labstord started successfully")
	return nil
}

// Stop performs graceful shutdown of every component Start brought up.
func (d *Daemon) Stop() {
	log := logpkg.Entry().WithField("component", "daemon")
	log.Info("initiating graceful shutdown")

	if d.udsServer != nil {
		log.Info("stopping uds server")
		d.udsServer.Stop()
	}

	if d.orch != nil {
		d.orch.Finalize()
	}

	if d.rpcEngine != nil {
		d.rpcEngine.Stop()
	}

	if d.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			log.WithError(err).Error("error stopping metrics server")
		}
	}

	d.cancel()

	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	if err := d.removePIDFile(); err != nil {
		log.WithError(err).Error("error removing PID file")
	}

	log.Info("labstord stopped gracefully")
	logpkg.Flush()
}

// Run blocks until a shutdown is triggered by signal, the runtime.stop
// admin command, or context cancellation, and then stops the daemon.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	log := logpkg.Entry().WithField("component", "daemon")
	log.Info("labstord running, waiting for signals or commands")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				log.WithField("signal", sig).Info("received shutdown signal")
				d.Stop()
				return nil
			case syscall.SIGHUP:
				log.Info("received reload signal")
				if err := d.Reload(); err != nil {
					log.WithError(err).Error("failed to reload config")
				} else {
					log.Info("configuration reloaded")
				}
			}
		case <-d.shutdownChan:
			log.Info("shutdown triggered via runtime.stop command")
			d.Stop()
			return nil
		case <-d.ctx.Done():
			log.WithError(d.ctx.Err()).Info("context cancelled")
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// Reload re-reads the config file and re-applies its log settings. Every
// other setting, including worker count, RPC identity, and listen
// addresses, takes effect only after a full restart (documented in
// DESIGN.md).
func (d *Daemon) Reload() error {
	newCfg, err := config.LoadServerConfig(d.configPath)
	if err != nil {
		return fmt.Errorf("daemon: loading new config: %w", err)
	}
	d.config = newCfg
	return d.initLogging()
}

func (d *Daemon) initLogging() error {
	cfg := &logpkg.LoggerConfig{
		Pattern: d.config.Log.Pattern,
		Time:    d.config.Log.Time,
		Level:   d.config.Log.Level,
	}
	if d.config.Log.File != nil {
		cfg.File = &logpkg.FileAppenderOpt{
			Filename:   d.config.Log.File.Filename,
			MaxSize:    d.config.Log.File.MaxSizeMB,
			MaxBackups: d.config.Log.File.MaxBackups,
			MaxAge:     d.config.Log.File.MaxAgeDays,
			Compress:   d.config.Log.File.Compress,
		}
	}
	return logpkg.Init(cfg)
}

func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		return nil
	}
	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path, logpkg.Entry())
	return d.metricsServer.Start(d.ctx)
}

func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	data := []byte(strconv.Itoa(os.Getpid()) + "\n")
	if err := os.WriteFile(d.pidFile, data, 0644); err != nil {
		return fmt.Errorf("daemon: writing PID file %s: %w", d.pidFile, err)
	}
	return nil
}

func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("daemon: removing PID file %s: %w", d.pidFile, err)
	}
	return nil
}

// newRPCContext resolves a ServerConfig/ClientConfig's RPC section into an
// rpcengine.Context, preferring the host file over the inline host-name
// list per config_server.cc's ParseRpcInfo precedence rule.
func newRPCContext(cfg *config.RPCConfig) (*rpcengine.Context, error) {
	hostNames := cfg.HostNames
	if cfg.HostFile != "" {
		names, err := rpcengine.ParseHostfile(cfg.HostFile)
		if err != nil {
			return nil, err
		}
		hostNames = names
	}
	return rpcengine.NewContext(cfg.Protocol, cfg.Domain, cfg.Port, hostNames)
}
