package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set via ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "riftdl",
	Short:   "A concurrent, multi-protocol download manager",
	Long:    `riftdl is a download manager that drives a persistent daemon over a local HTTP control surface; run "riftdl serve" to start it, then "riftdl add <url>" to queue work against it.`,
	Version: Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().IntP("port", "p", 0, "Command Router port (default: read from the running instance's port file)")
	rootCmd.SetVersionTemplate(fmt.Sprintf("riftdl version {{.Version}} (%s)\n", BuildTime))
}
