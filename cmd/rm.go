package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rmCmd = &cobra.Command{
	Use:     "rm <id>",
	Aliases: []string{"remove"},
	Short:   "Remove a task from the registry",
	Long: `rm removes a task's bookkeeping entirely. A running task is
cancelled first; use "clear-completed" to sweep every finished task
instead of removing them one at a time.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newRouterClient(cmd)
		if err != nil {
			return err
		}
		if err := client.delete("/tasks/" + args[0]); err != nil {
			return err
		}
		fmt.Printf("removed %s\n", args[0])
		return nil
	},
}

var clearCompletedCmd = &cobra.Command{
	Use:   "clear-completed",
	Short: "Remove every completed task from the registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newRouterClient(cmd)
		if err != nil {
			return err
		}
		var resp bulkResponse
		if err := client.post("/control/clear-completed", nil, &resp); err != nil {
			return err
		}
		fmt.Printf("cleared %d completed task(s)\n", resp.Affected)
		return nil
	},
}

var retryFailedCmd = &cobra.Command{
	Use:   "retry-failed",
	Short: "Requeue every failed task as pending",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newRouterClient(cmd)
		if err != nil {
			return err
		}
		var resp bulkResponse
		if err := client.post("/control/retry-failed", nil, &resp); err != nil {
			return err
		}
		fmt.Printf("requeued %d failed task(s)\n", resp.Affected)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rmCmd, clearCompletedCmd, retryFailedCmd)
}
