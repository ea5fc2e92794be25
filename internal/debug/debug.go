// Package debug provides runtime-toggleable trace logging. Tracing defaults
// to off and is switched from the command shell (`enable-logging` turns it
// on, an empty line turns it off), so the hot paths guard every message with
// a single atomic load.
package debug

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	enabled atomic.Bool

	outputMu sync.Mutex
	output   io.Writer = os.Stderr
	logFile  *lumberjack.Logger
)

// SetEnabled toggles trace logging at runtime.
func SetEnabled(on bool) { enabled.Store(on) }

// Enabled reports whether trace logging is currently on.
func Enabled() bool { return enabled.Load() }

// SetOutput redirects trace output. Pass nil to discard.
func SetOutput(w io.Writer) {
	outputMu.Lock()
	defer outputMu.Unlock()
	output = w
}

// InitLogFile routes trace output to a size-rotated file. Returns the path
// being written.
func InitLogFile(path string, maxSizeMB int) string {
	outputMu.Lock()
	defer outputMu.Unlock()

	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	logFile = &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: 3,
	}
	output = logFile
	return path
}

// CloseLogFile closes the rotated log file if one is open and falls back to
// stderr.
func CloseLogFile() error {
	outputMu.Lock()
	defer outputMu.Unlock()

	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	output = os.Stderr
	return err
}

// Tracef writes one trace line when tracing is enabled.
func Tracef(format string, args ...any) {
	if !enabled.Load() {
		return
	}

	outputMu.Lock()
	w := output
	outputMu.Unlock()
	if w == nil {
		return
	}

	ts := time.Now().Format("15:04:05.000")
	fmt.Fprintf(w, "[trace %s] %s\n", ts, fmt.Sprintf(format, args...))
}
