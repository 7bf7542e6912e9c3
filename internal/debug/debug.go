// Package debug writes diagnostic output to a rotating log file when
// WBS_DEBUG is set. Disabled it costs one atomic load per call.
package debug

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

const fileName = "debug.log"

var (
	mu      sync.Mutex
	writer  *lumberjack.Logger
	enabled = os.Getenv("WBS_DEBUG") != ""
)

// Enabled reports whether debug logging is active.
func Enabled() bool {
	return enabled
}

// SetLogDir points the rotating log at dir, normally the project's .wbs
// directory. Before this call Logf falls back to stderr.
func SetLogDir(dir string) {
	mu.Lock()
	defer mu.Unlock()
	if writer != nil {
		_ = writer.Close()
	}
	writer = &lumberjack.Logger{
		Filename:   filepath.Join(dir, fileName),
		MaxSize:    5, // megabytes
		MaxBackups: 3,
		MaxAge:     14, // days
		Compress:   true,
	}
}

// Logf records one formatted line with a timestamp prefix. A no-op unless
// WBS_DEBUG is set.
func Logf(format string, args ...any) {
	if !enabled {
		return
	}
	line := fmt.Sprintf("%s %s", time.Now().UTC().Format(time.RFC3339), fmt.Sprintf(format, args...))
	if line[len(line)-1] != '\n' {
		line += "\n"
	}
	mu.Lock()
	defer mu.Unlock()
	if writer == nil {
		fmt.Fprint(os.Stderr, line)
		return
	}
	_, _ = writer.Write([]byte(line))
}

// Close flushes and closes the rotating log.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if writer != nil {
		_ = writer.Close()
		writer = nil
	}
}
