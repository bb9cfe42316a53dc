package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/riftdl/riftdl/internal/config"
)

// debugState holds the lazily-opened per-process trace file. It is
// reconfigurable (ConfigureDebug) so tests can point it at a temp dir
// without leaking a file handle into the real logs directory.
var debugState = struct {
	mu   sync.Mutex
	once *sync.Once
	dir  string
	file *os.File
}{once: &sync.Once{}, dir: config.LogsDir()}

// ConfigureDebug points the debug tracer at dir and forces the next Debug
// call to open a fresh file there, closing any file already open.
func ConfigureDebug(dir string) {
	debugState.mu.Lock()
	defer debugState.mu.Unlock()

	if debugState.file != nil {
		debugState.file.Close()
		debugState.file = nil
	}
	debugState.dir = dir
	debugState.once = &sync.Once{}
}

func openDebugFile() {
	debugState.once.Do(func() {
		if err := os.MkdirAll(debugState.dir, 0o755); err != nil {
			return
		}
		name := fmt.Sprintf("debug-%s.log", time.Now().Format("20060102-150405"))
		f, err := os.OpenFile(filepath.Join(debugState.dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return
		}
		debugState.file = f
	})
}

// Debug appends a timestamped, printf-style trace line to the current
// run's debug log file. It never panics and never returns an error: a
// trace sink that can fail the download it's tracing defeats its purpose.
func Debug(format string, args ...any) {
	openDebugFile()

	debugState.mu.Lock()
	f := debugState.file
	debugState.mu.Unlock()
	if f == nil {
		return
	}

	line := fmt.Sprintf("[%s] %s\n", time.Now().Format(time.RFC3339Nano), fmt.Sprintf(format, args...))
	debugState.mu.Lock()
	f.WriteString(line)
	debugState.mu.Unlock()
}

// CleanupLogs removes the oldest debug-*.log files in the configured logs
// directory, keeping only the keep most recent (the timestamp in the
// filename sorts lexicographically, so a plain name sort suffices).
func CleanupLogs(keep int) {
	debugState.mu.Lock()
	dir := debugState.dir
	debugState.mu.Unlock()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "debug-") && strings.HasSuffix(e.Name(), ".log") {
			names = append(names, e.Name())
		}
	}
	if len(names) <= keep {
		return
	}

	sort.Strings(names)
	for _, name := range names[:len(names)-keep] {
		os.Remove(filepath.Join(dir, name))
	}
}
