package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// lifecycleCmd builds a single-task-or---all subcommand for one of the
// Command Router's /tasks/{id}/<action> and /control/<action>-all routes.
func lifecycleCmd(use, short, singlePath, bulkPath string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " [id]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			all, _ := cmd.Flags().GetBool("all")
			client, err := newRouterClient(cmd)
			if err != nil {
				return err
			}

			if all {
				var resp bulkResponse
				if err := client.post(bulkPath, nil, &resp); err != nil {
					return err
				}
				fmt.Printf("%s: %d task(s) affected\n", use, resp.Affected)
				return nil
			}

			if len(args) != 1 {
				return fmt.Errorf("requires a task id, or --all")
			}
			if err := client.post(fmt.Sprintf(singlePath, args[0]), nil, nil); err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", use, args[0])
			return nil
		},
	}
	cmd.Flags().Bool("all", false, "apply to every task")
	return cmd
}

type bulkResponse struct {
	Affected int `json:"affected"`
}

var startCmd = lifecycleCmd("start", "Start a pending task", "/tasks/%s/start", "/control/start-all")
var pauseCmd = lifecycleCmd("pause", "Pause a downloading task", "/tasks/%s/pause", "/control/pause-all")
var resumeCmd = lifecycleCmd("resume", "Resume a paused task", "/tasks/%s/resume", "/control/resume-all")
var cancelCmd = lifecycleCmd("cancel", "Cancel a task", "/tasks/%s/cancel", "/control/cancel-all")

func init() {
	rootCmd.AddCommand(startCmd, pauseCmd, resumeCmd, cancelCmd)
}
