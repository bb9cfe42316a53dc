package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

type statsResponse struct {
	Aggregate struct {
		TotalDownloadedBytes int64   `json:"TotalDownloadedBytes"`
		TotalSizeBytes       int64   `json:"TotalSizeBytes"`
		AggregateSpeed       float64 `json:"AggregateSpeed"`
		ActiveTasks          int     `json:"ActiveTasks"`
		CompletedTasks       int     `json:"CompletedTasks"`
	} `json:"Aggregate"`
	Breakers map[string]string   `json:"Breakers"`
	Retries  map[string][2]int64 `json:"Retries"`
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate throughput, circuit breaker, and retry statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newRouterClient(cmd)
		if err != nil {
			return err
		}
		var s statsResponse
		if err := client.get("/stats", &s); err != nil {
			return err
		}

		fmt.Printf("active:     %d\n", s.Aggregate.ActiveTasks)
		fmt.Printf("completed:  %d\n", s.Aggregate.CompletedTasks)
		fmt.Printf("downloaded: %d bytes\n", s.Aggregate.TotalDownloadedBytes)
		fmt.Printf("total size: %d bytes\n", s.Aggregate.TotalSizeBytes)
		fmt.Printf("speed:      %.1f MB/s\n", s.Aggregate.AggregateSpeed/1_000_000)

		if len(s.Breakers) > 0 {
			fmt.Println("\ncircuit breakers:")
			for host, state := range s.Breakers {
				fmt.Printf("  %s: %s\n", host, state)
			}
		}
		if len(s.Retries) > 0 {
			fmt.Println("\nretries (attempts/failures) by error class:")
			for class, counts := range s.Retries {
				fmt.Printf("  %s: %d/%d\n", class, counts[0], counts[1])
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
