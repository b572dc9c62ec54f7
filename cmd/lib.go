package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var libCmd = &cobra.Command{
	Use:   "lib",
	Short: "Register and destroy task libraries",
}

var libNameFlag string

var libRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Load a task library from the daemon's search path",
	RunE:  runLibRegister,
}

var libDestroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Unload a task library (already-constructed states keep running)",
	RunE:  runLibDestroy,
}

func init() {
	libRegisterCmd.Flags().StringVar(&libNameFlag, "name", "", "task library name, e.g. libhello_world_task (required)")
	libRegisterCmd.MarkFlagRequired("name")
	libDestroyCmd.Flags().StringVar(&libNameFlag, "name", "", "task library name (required)")
	libDestroyCmd.MarkFlagRequired("name")

	libCmd.AddCommand(libRegisterCmd, libDestroyCmd)
	rootCmd.AddCommand(libCmd)
}

func runLibRegister(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	if _, err := checkResponse(client.LibRegister(context.Background(), libNameFlag)); err != nil {
		return err
	}
	fmt.Printf("library %q registered\n", libNameFlag)
	return nil
}

func runLibDestroy(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	if _, err := checkResponse(client.LibDestroy(context.Background(), libNameFlag)); err != nil {
		return err
	}
	fmt.Printf("library %q destroyed\n", libNameFlag)
	return nil
}
