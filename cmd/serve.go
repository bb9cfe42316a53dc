package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/riftdl/riftdl/internal/api"
	"github.com/riftdl/riftdl/internal/config"
	"github.com/riftdl/riftdl/internal/history"
	"github.com/riftdl/riftdl/internal/logging"
	"github.com/riftdl/riftdl/internal/manager"
	"github.com/riftdl/riftdl/internal/progress"
	"github.com/riftdl/riftdl/internal/protocol"
	"github.com/riftdl/riftdl/internal/resume"
)

// defaultExtractors names the hosts routed to the external-extractor
// downloader variant rather than treated as plain HTTP.
var defaultExtractors = []protocol.ExtractorPattern{
	{HostSuffix: "youtube.com"},
	{HostSuffix: "youtu.be"},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the download manager daemon in the foreground",
	Long: `serve starts the Manager and its Command Router and blocks until
interrupted. Only one instance may run against a given state directory at
a time; use the other riftdl subcommands to drive it from elsewhere.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		isMaster, err := AcquireLock()
		if err != nil {
			return fmt.Errorf("acquiring instance lock: %w", err)
		}
		if !isMaster {
			return fmt.Errorf("riftdl is already running against %s", config.StateDir())
		}
		defer ReleaseLock()

		if err := config.EnsureDirs(); err != nil {
			return err
		}

		log, err := logging.New(config.StateDir(), os.Stderr)
		if err != nil {
			return fmt.Errorf("setting up logging: %w", err)
		}

		settings, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}

		resumeStore := resume.NewStore(config.ResumeDir())

		historyStore, err := history.Open(filepath.Join(config.StateDir(), "history.db"))
		if err != nil {
			return fmt.Errorf("opening history store: %w", err)
		}
		defer historyStore.Close()

		mgr := manager.New(manager.Deps{
			Settings:     settings,
			Resume:       resumeStore,
			History:      historyStore,
			Progress:     progress.NewRegistry(),
			Extractors:   defaultExtractors,
			ExtractorCfg: protocol.ExtractorConfig{Command: "riftdl-extract"},
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		mgr.Run(ctx)

		portFlag, _ := cmd.Flags().GetInt("port")
		ln, port, err := bindPort(portFlag)
		if err != nil {
			return err
		}
		if err := savePort(port); err != nil {
			return fmt.Errorf("saving port file: %w", err)
		}
		defer removePort()

		srv := api.New(mgr, log)
		serveErr := make(chan error, 1)
		go func() { serveErr <- srv.Serve(ln) }()

		log.Info("riftdl daemon started", "port", port, "state_dir", config.StateDir())
		fmt.Printf("riftdl daemon listening on 127.0.0.1:%d (Ctrl+C to stop)\n", port)

		select {
		case <-ctx.Done():
			fmt.Println("shutting down...")
			mgr.Close()
			ln.Close()
		case err := <-serveErr:
			if err != nil {
				return fmt.Errorf("command router: %w", err)
			}
		}
		return nil
	},
}

// bindPort binds preferred if nonzero, else the first free port starting
// at 8080, mirroring how a locally-scoped daemon's listener should never
// need more than loopback-only auto-discovery.
func bindPort(preferred int) (net.Listener, int, error) {
	if preferred > 0 {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", preferred))
		if err != nil {
			return nil, 0, fmt.Errorf("binding port %d: %w", preferred, err)
		}
		return ln, preferred, nil
	}
	for port := 8080; port < 8180; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			return ln, port, nil
		}
	}
	return nil, 0, fmt.Errorf("no free port found in 8080-8179")
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
