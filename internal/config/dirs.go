package config

import (
	"os"
	"path/filepath"
)

// appDirName is the leaf directory under the user's home directory that
// holds settings.json, history.db, the resume sidecars, the instance
// lock, and the port file.
const appDirName = ".riftdl"

// StateDir returns the directory riftdl keeps all of its on-disk state in.
// RIFTDL_HOME overrides it, which the test suite uses to sandbox runs.
func StateDir() string {
	if dir := os.Getenv("RIFTDL_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, appDirName)
}

// ResumeDir returns the directory resume sidecars are stored in.
func ResumeDir() string {
	return filepath.Join(StateDir(), "resume")
}

// PortPath returns the file the Command Router's bound port is recorded
// in, so a second CLI invocation can discover the running instance.
func PortPath() string {
	return filepath.Join(StateDir(), "port")
}

// LockPath returns the single-instance lock file path.
func LockPath() string {
	return filepath.Join(StateDir(), "riftdl.lock")
}

// LogsDir returns the directory per-run debug trace logs are written to.
// This is distinct from the structured riftdl.log the logging package
// appends to directly under StateDir(); it holds the high-volume,
// one-file-per-process byte-level tracing the chunked engine emits.
func LogsDir() string {
	return filepath.Join(StateDir(), "logs")
}

// EnsureDirs creates the state, resume, and logs directories if they don't exist.
func EnsureDirs() error {
	if err := os.MkdirAll(StateDir(), 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(ResumeDir(), 0o755); err != nil {
		return err
	}
	return os.MkdirAll(LogsDir(), 0o755)
}
