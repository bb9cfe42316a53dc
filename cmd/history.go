package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

type historyEntry struct {
	ID          string        `json:"ID"`
	URL         string        `json:"URL"`
	Filename    string        `json:"Filename"`
	Status      string        `json:"Status"`
	TotalSize   int64         `json:"TotalSize"`
	Downloaded  int64         `json:"Downloaded"`
	CompletedAt time.Time     `json:"CompletedAt"`
	Elapsed     time.Duration `json:"Elapsed"`
	ErrorMsg    string        `json:"ErrorMsg"`
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show every terminal task the daemon has recorded",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newRouterClient(cmd)
		if err != nil {
			return err
		}
		var entries []historyEntry
		if err := client.get("/history", &entries); err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No history recorded.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "FILENAME\tSTATUS\tSIZE\tCOMPLETED\tELAPSED")
		fmt.Fprintln(w, "--------\t------\t----\t---------\t-------")
		for _, e := range entries {
			name := e.Filename
			if len(name) > 30 {
				name = name[:27] + "..."
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				name, e.Status, e.TotalSize, e.CompletedAt.Format(time.RFC3339), e.Elapsed)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
}
