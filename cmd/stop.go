package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lukemartinlogan/labstor/internal/daemon"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop labstord",
	Long: `Stop labstord. Tries the graceful path first: a runtime.stop command
over the control channel, which lets the orchestrator drain in-flight tasks
before the daemon exits. Falls back to SIGTERM via the PID file if the
control channel is unreachable.`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().StringVar(&pidFilePath, "pid-file", "/var/run/labstord.pid", "path to the daemon's PID file, used as a fallback if the control channel is unreachable")
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	sock, err := resolvedSocketPath()
	if err != nil {
		return err
	}

	resp, callErr := client.RuntimeStop(context.Background())
	if callErr == nil && resp.Error == nil {
		fmt.Println("labstord stopping")
		return nil
	}

	if err := daemon.StopDaemon(pidFilePath, sock); err != nil {
		return fmt.Errorf("labstorctl: stop failed over control channel (%v) and via signal (%w)", callErr, err)
	}
	fmt.Println("labstord stopped")
	return nil
}
