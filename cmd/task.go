package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lukemartinlogan/labstor/internal/command"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Create, inspect, and destroy task states",
}

var (
	taskLibName    string
	taskStateName  string
	taskMaxLanes   int
	taskNumLanes   int
	taskQueueDepth int
	taskStateID    string
)

var taskCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a task state from a registered task library",
	RunE:  runTaskCreate,
}

var taskGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Resolve a task state's id by name",
	RunE:  runTaskGet,
}

var taskDestroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Destroy a task state by id",
	RunE:  runTaskDestroy,
}

func init() {
	taskCreateCmd.Flags().StringVar(&taskLibName, "lib", "", "name of the task library to construct from (required)")
	taskCreateCmd.Flags().StringVar(&taskStateName, "name", "", "name to bind the new task state under (required)")
	taskCreateCmd.Flags().IntVar(&taskMaxLanes, "max-lanes", 1, "maximum lane count for the state's queue")
	taskCreateCmd.Flags().IntVar(&taskNumLanes, "num-lanes", 1, "initial lane count for the state's queue")
	taskCreateCmd.Flags().IntVar(&taskQueueDepth, "depth", 1024, "per-lane queue depth")
	taskCreateCmd.MarkFlagRequired("lib")
	taskCreateCmd.MarkFlagRequired("name")

	taskGetCmd.Flags().StringVar(&taskStateName, "name", "", "name of the task state to look up (required)")
	taskGetCmd.MarkFlagRequired("name")

	taskDestroyCmd.Flags().StringVar(&taskStateID, "id", "", "id of the task state to destroy (required)")
	taskDestroyCmd.MarkFlagRequired("id")

	taskCmd.AddCommand(taskCreateCmd, taskGetCmd, taskDestroyCmd)
	rootCmd.AddCommand(taskCmd)
}

func runTaskCreate(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	resp, err := checkResponse(client.TaskCreate(context.Background(), command.TaskCreateParams{
		LibName:   taskLibName,
		StateName: taskStateName,
		MaxLanes:  taskMaxLanes,
		NumLanes:  taskNumLanes,
		Depth:     taskQueueDepth,
	}))
	if err != nil {
		return err
	}
	fmt.Printf("state_id: %v\n", resp.Result.(map[string]interface{})["state_id"])
	return nil
}

func runTaskGet(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	resp, err := checkResponse(client.TaskGet(context.Background(), taskStateName))
	if err != nil {
		return err
	}
	fmt.Printf("state_id: %v\n", resp.Result.(map[string]interface{})["state_id"])
	return nil
}

func runTaskDestroy(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	if _, err := checkResponse(client.TaskDestroy(context.Background(), taskStateID)); err != nil {
		return err
	}
	fmt.Println("task state destroyed")
	return nil
}
