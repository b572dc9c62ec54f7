package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lukemartinlogan/labstor/internal/config"
	"github.com/lukemartinlogan/labstor/internal/daemon"
)

var (
	serverConfigPath string
	pidFilePath      string
	foreground       bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start labstord",
	Long: `Start labstord, the task-execution runtime daemon. By default this
re-execs the daemon detached in the background and returns once its control
socket is accepting connections; --foreground runs it in this process and
blocks, for use under a supervisor (systemd, docker) that wants to own the
process directly.`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&serverConfigPath, "server-config", config.ServerConfigPath(), "path to the server config file")
	startCmd.Flags().StringVar(&pidFilePath, "pid-file", "/var/run/labstord.pid", "path to the daemon's PID file")
	startCmd.Flags().BoolVar(&foreground, "foreground", false, "run the daemon in this process instead of detaching")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	if foreground {
		d, err := daemon.New(serverConfigPath, pidFilePath)
		if err != nil {
			return err
		}
		if err := d.Start(); err != nil {
			return err
		}
		return d.Run()
	}

	sock, err := resolvedSocketPath()
	if err != nil {
		return err
	}
	if err := daemon.EnsureDaemonRunning(sock); err != nil {
		return err
	}
	fmt.Println("labstord started")
	return nil
}
