package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Change the orchestrator's runtime scheduling policies",
}

var setQueuePolicyCmd = &cobra.Command{
	Use:   "set-queue [round_robin|hash_ring]",
	Short: "Set the queue-to-worker scheduling policy",
	Args:  cobra.ExactArgs(1),
	RunE:  runSetQueuePolicy,
}

var setProcessPolicyCmd = &cobra.Command{
	Use:   "set-process [no_affinity|round_robin_cpu]",
	Short: "Set the process scheduling policy",
	Args:  cobra.ExactArgs(1),
	RunE:  runSetProcessPolicy,
}

func init() {
	policyCmd.AddCommand(setQueuePolicyCmd, setProcessPolicyCmd)
	rootCmd.AddCommand(policyCmd)
}

func runSetQueuePolicy(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	if _, err := checkResponse(client.SetQueuePolicy(context.Background(), args[0])); err != nil {
		return err
	}
	fmt.Println("queue policy applied")
	return nil
}

func runSetProcessPolicy(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	if _, err := checkResponse(client.SetProcessPolicy(context.Background(), args[0])); err != nil {
		return err
	}
	fmt.Println("process policy applied")
	return nil
}
