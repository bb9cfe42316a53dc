package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

type addTaskRequest struct {
	URL       string `json:"url"`
	OutputDir string `json:"output_dir"`
	Priority  int    `json:"priority"`
}

type addTaskResponse struct {
	ID      string `json:"id"`
	Created bool   `json:"created"`
}

// readURLsFromFile reads one URL per line, skipping blanks and #-comments.
func readURLsFromFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening batch file: %w", err)
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			urls = append(urls, line)
		}
	}
	return urls, scanner.Err()
}

var addCmd = &cobra.Command{
	Use:     "add <url>...",
	Aliases: []string{"get"},
	Short:   "Queue one or more downloads against the running daemon",
	Args:    cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		batchFile, _ := cmd.Flags().GetString("batch")
		output, _ := cmd.Flags().GetString("output")
		priority, _ := cmd.Flags().GetInt("priority")

		urls := append([]string{}, args...)
		if batchFile != "" {
			fromFile, err := readURLsFromFile(batchFile)
			if err != nil {
				return err
			}
			urls = append(urls, fromFile...)
		}
		if len(urls) == 0 {
			return cmd.Help()
		}

		client, err := newRouterClient(cmd)
		if err != nil {
			return err
		}

		failed := 0
		for _, url := range urls {
			var resp addTaskResponse
			err := client.post("/tasks", addTaskRequest{URL: url, OutputDir: output, Priority: priority}, &resp)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error adding %s: %v\n", url, err)
				failed++
				continue
			}
			if resp.Created {
				fmt.Printf("queued %s (%s)\n", url, resp.ID)
			} else {
				fmt.Printf("already queued %s (%s)\n", url, resp.ID)
			}
		}
		if failed > 0 && failed == len(urls) {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(addCmd)
	addCmd.Flags().StringP("batch", "b", "", "file of URLs to queue, one per line")
	addCmd.Flags().StringP("output", "o", "", "output directory (defaults to the daemon's configured default)")
	addCmd.Flags().IntP("priority", "P", 0, "scheduling priority, higher runs first")
}
