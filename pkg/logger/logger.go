// Package logger provides the process-wide leveled log used by selfheal.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// Level is a log severity.
type Level int

// Levels, lowest first.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the level tag written in front of each line.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses "debug", "info", "warn" or "error" (case-insensitive).
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

var (
	globalLogger *log.Logger
	logFile      *os.File
	minLevel     = LevelDebug
	mu           sync.Mutex
)

// Init initializes the global logger with the specified log file path.
func Init(logPath string) error {
	mu.Lock()
	defer mu.Unlock()

	// Close previous log file if exists
	if logFile != nil {
		logFile.Close()
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	logFile = f
	globalLogger = log.New(f, "", log.Ltime|log.Lmicroseconds)

	return nil
}

// InitWriter points the global logger at w (stderr in verbose mode, a buffer in tests).
func InitWriter(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	globalLogger = log.New(w, "", log.Ltime|log.Lmicroseconds)
}

// SetLevel drops messages below l.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	minLevel = l
}

// Close closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	globalLogger = nil
}

func logf(l Level, format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	if globalLogger != nil && l >= minLevel {
		globalLogger.Printf("["+l.String()+"] "+format, v...)
	}
}

// Info logs an info message.
func Info(format string, v ...interface{}) { logf(LevelInfo, format, v...) }

// Debug logs a debug message.
func Debug(format string, v ...interface{}) { logf(LevelDebug, format, v...) }

// Error logs an error message.
func Error(format string, v ...interface{}) { logf(LevelError, format, v...) }

// Warn logs a warning message.
func Warn(format string, v ...interface{}) { logf(LevelWarn, format, v...) }

// GetWriter returns the underlying writer for use by drivers.
func GetWriter() io.Writer {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		return logFile
	}
	if globalLogger != nil {
		return globalLogger.Writer()
	}
	return io.Discard
}

// Badger adapts the global logger to badger.Logger, prefixing every line.
func Badger() *BadgerLogger {
	return &BadgerLogger{prefix: "badger: "}
}

// BadgerLogger satisfies the badger.Logger interface.
type BadgerLogger struct {
	prefix string
}

// Errorf logs at error level.
func (b *BadgerLogger) Errorf(format string, v ...interface{}) {
	logf(LevelError, b.prefix+strings.TrimRight(format, "\n"), v...)
}

// Warningf logs at warn level.
func (b *BadgerLogger) Warningf(format string, v ...interface{}) {
	logf(LevelWarn, b.prefix+strings.TrimRight(format, "\n"), v...)
}

// Infof logs at debug level; badger is chatty at info.
func (b *BadgerLogger) Infof(format string, v ...interface{}) {
	logf(LevelDebug, b.prefix+strings.TrimRight(format, "\n"), v...)
}

// Debugf logs at debug level.
func (b *BadgerLogger) Debugf(format string, v ...interface{}) {
	logf(LevelDebug, b.prefix+strings.TrimRight(format, "\n"), v...)
}
