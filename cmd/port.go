package cmd

import (
	"fmt"
	"os"

	"github.com/riftdl/riftdl/internal/config"
)

// savePort records the Command Router's bound port for later invocations
// to discover, atomically so a concurrent reader never sees a half-written
// file.
func savePort(port int) error {
	path := config.PortPath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(fmt.Sprintf("%d", port)), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// removePort deletes the port file on a clean daemon shutdown.
func removePort() {
	os.Remove(config.PortPath())
}

// readPort returns the port the running daemon is listening on, or 0 if
// none is recorded.
func readPort() int {
	data, err := os.ReadFile(config.PortPath())
	if err != nil {
		return 0
	}
	var port int
	fmt.Sscanf(string(data), "%d", &port)
	return port
}
