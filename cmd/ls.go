package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// taskSnapshot mirrors manager.Snapshot's JSON shape; kept separate so
// cmd doesn't import internal/manager just to decode a response body.
type taskSnapshot struct {
	ID              string  `json:"ID"`
	URL             string  `json:"URL"`
	Title           string  `json:"Title"`
	Status          string  `json:"Status"`
	Priority        int     `json:"Priority"`
	DownloadedBytes int64   `json:"DownloadedBytes"`
	TotalBytes      int64   `json:"TotalBytes"`
	Progress        float64 `json:"Progress"`
	Speed           float64 `json:"Speed"`
	ETASeconds      float64 `json:"ETASeconds"`
	LastError       string  `json:"LastError"`
}

var lsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List tasks known to the running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		watch, _ := cmd.Flags().GetBool("watch")

		client, err := newRouterClient(cmd)
		if err != nil {
			return err
		}

		if !watch {
			return printTasks(client, jsonOutput)
		}
		for {
			fmt.Print("\033[H\033[2J")
			if err := printTasks(client, jsonOutput); err != nil {
				return err
			}
			time.Sleep(time.Second)
		}
	},
}

func printTasks(client *routerClient, jsonOutput bool) error {
	var tasks []taskSnapshot
	if err := client.get("/tasks", &tasks); err != nil {
		return err
	}

	if len(tasks) == 0 {
		if jsonOutput {
			fmt.Println("[]")
		} else {
			fmt.Println("No tasks queued.")
		}
		return nil
	}

	if jsonOutput {
		data, err := json.MarshalIndent(tasks, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tSTATUS\tPROGRESS\tSPEED\tETA")
	fmt.Fprintln(w, "--\t-----\t------\t--------\t-----\t---")
	for _, t := range tasks {
		id := t.ID
		if len(id) > 8 {
			id = id[:8]
		}
		title := t.Title
		if title == "" {
			title = t.URL
		}
		if len(title) > 30 {
			title = title[:27] + "..."
		}
		progress := fmt.Sprintf("%.1f%%", t.Progress*100)
		speed := "-"
		if t.Speed > 0 {
			speed = fmt.Sprintf("%.1f MB/s", t.Speed/1_000_000)
		}
		eta := "-"
		if t.ETASeconds > 0 {
			eta = (time.Duration(t.ETASeconds) * time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", id, title, t.Status, progress, speed, eta)
	}
	return w.Flush()
}

func init() {
	rootCmd.AddCommand(lsCmd)
	lsCmd.Flags().Bool("json", false, "output as JSON")
	lsCmd.Flags().Bool("watch", false, "refresh the table every second")
}
