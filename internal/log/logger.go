// Package log provides a small leveled logger shared by the library and its
// command-line tools. Messages go to stderr by default.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

type Level int

const (
	LevelNone    Level = iota // Disables logging.
	LevelError                // Failures that prevent an operation from completing.
	LevelWarning              // Anomalies the library recovers from on its own.
	LevelInfo                 // Major events, such as a full login flow starting.
	LevelDebug                // Detailed request/response traffic.
)

var (
	mu     sync.Mutex
	level  Level
	output io.Writer = os.Stderr
)

func (l Level) label() string {
	switch l {
	case LevelError:
		return "[error]"
	case LevelWarning:
		return "[warn ]"
	case LevelInfo:
		return "[info ]"
	case LevelDebug:
		return "[debug]"
	}
	return "[?????]"
}

func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// SetOutput redirects log messages to w. Used by tests to capture output.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
}

func emit(l Level, format string, a ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if l > level {
		return
	}
	fmt.Fprintf(output, "%s %s %s\n", time.Now().Format(time.RFC3339), l.label(), fmt.Sprintf(format, a...))
}

func Debug(format string, a ...interface{}) {
	emit(LevelDebug, format, a...)
}
func Info(format string, a ...interface{}) {
	emit(LevelInfo, format, a...)
}
func Warning(format string, a ...interface{}) {
	emit(LevelWarning, format, a...)
}
func Error(format string, a ...interface{}) {
	emit(LevelError, format, a...)
}
