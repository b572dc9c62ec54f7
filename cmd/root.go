// Package cmd implements labstorctl, the command-line control channel for
// labstord: one file per subcommand, persistent flags for the client config
// path and control socket override, talking to the daemon over
// internal/command.UDSClient.
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lukemartinlogan/labstor/internal/command"
	"github.com/lukemartinlogan/labstor/internal/config"
)

var (
	clientConfigPath string
	socketPath       string
	callTimeout      time.Duration
)

// rootCmd is the labstorctl entry point.
var rootCmd = &cobra.Command{
	Use:   "labstorctl",
	Short: "Control channel for the labstor task-execution runtime",
	Long: `labstorctl talks to a running labstord over its Unix domain control
socket: starting and stopping the daemon, loading task libraries, and
creating, inspecting, or destroying task states.`,
	SilenceUsage: true,
}

// Execute runs the labstorctl command tree; on error it prints the error to
// stderr and exits the process with status 1. main.go's sole job is to call
// this.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&clientConfigPath, "config", config.ClientConfigPath(), "path to the client config file")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "override the daemon's control socket path (default: read from config)")
	rootCmd.PersistentFlags().DurationVar(&callTimeout, "timeout", 5*time.Second, "timeout for a single control-channel round trip")
}

// resolvedSocketPath returns the --socket override if set, else the
// control_socket configured in the client config at clientConfigPath.
func resolvedSocketPath() (string, error) {
	if socketPath != "" {
		return socketPath, nil
	}
	cfg, err := config.LoadClientConfig(clientConfigPath)
	if err != nil {
		return "", fmt.Errorf("labstorctl: loading client config %s: %w", clientConfigPath, err)
	}
	return cfg.ControlSocket, nil
}

// newClient resolves the control socket and builds a UDSClient against it.
func newClient() (*command.UDSClient, error) {
	sock, err := resolvedSocketPath()
	if err != nil {
		return nil, err
	}
	return command.NewUDSClient(sock, callTimeout), nil
}

// checkResponse turns a JSON-RPC error response into a Go error, so
// subcommands can use the same "err != nil means fail" pattern for both
// transport failures and application-level errors.
func checkResponse(resp *command.Response, err error) (*command.Response, error) {
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("labstorctl: %s (code %d)", resp.Error.Message, resp.Error.Code)
	}
	return resp, nil
}
