package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Signal labstord to reload its config",
	Long: `Send SIGHUP to the running labstord, which re-reads its config file
and re-applies its log settings. Other settings, such as worker count and
RPC identity, take effect only after a full restart.`,
	RunE: runReload,
}

func init() {
	reloadCmd.Flags().StringVar(&pidFilePath, "pid-file", "/var/run/labstord.pid", "path to the daemon's PID file")
	rootCmd.AddCommand(reloadCmd)
}

func runReload(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(pidFilePath)
	if err != nil {
		return fmt.Errorf("labstorctl: reading PID file %s: %w", pidFilePath, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("labstorctl: malformed PID file %s: %w", pidFilePath, err)
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := process.Signal(syscall.SIGHUP); err != nil {
		return fmt.Errorf("labstorctl: signaling pid %d: %w", pid, err)
	}
	fmt.Println("labstord: reload signal sent")
	return nil
}
