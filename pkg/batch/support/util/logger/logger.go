// Package logger provides leveled logging for chunkflow.
// It wraps the standard `log` package and filters messages by level. The level may be changed
// at any time, including while worker goroutines of a throttled loop are logging.
package logger

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync/atomic"
)

// LogLevel is a type representing the logging level. Smaller numbers are more verbose.
type LogLevel int32

const (
	// LevelTrace is used for per-iteration detail of the repeat engines.
	LevelTrace LogLevel = iota
	// LevelDebug is used for detailed debugging information.
	LevelDebug
	// LevelInfo is used for general informational messages.
	LevelInfo
	// LevelWarn is used for recoverable problems.
	LevelWarn
	// LevelError is used for error messages.
	LevelError
	// LevelFatal is used for errors that terminate the application.
	LevelFatal
	// LevelSilent disables all output except Fatalf.
	LevelSilent
)

var levelNames = map[LogLevel]string{
	LevelTrace:  "TRACE",
	LevelDebug:  "DEBUG",
	LevelInfo:   "INFO",
	LevelWarn:   "WARN",
	LevelError:  "ERROR",
	LevelFatal:  "FATAL",
	LevelSilent: "SILENT",
}

// String returns the level name.
func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LogLevel(%d)", int32(l))
}

var logLevel atomic.Int32

func init() {
	logLevel.Store(int32(LevelInfo))
}

// ParseLogLevel converts a level name (case-insensitive) to a LogLevel.
func ParseLogLevel(level string) (LogLevel, bool) {
	upper := strings.ToUpper(strings.TrimSpace(level))
	for l, name := range levelNames {
		if name == upper {
			return l, true
		}
	}
	return LevelInfo, false
}

// SetLogLevel sets the global log level.
// Valid values are "TRACE", "DEBUG", "INFO", "WARN", "ERROR", "FATAL" and "SILENT" (case-insensitive).
// An invalid value falls back to INFO and prints a warning.
func SetLogLevel(level string) {
	l, ok := ParseLogLevel(level)
	if !ok {
		fmt.Printf("Unknown log level '%s' specified. Defaulting to INFO level.\n", level)
	}
	logLevel.Store(int32(l))
}

// GetLogLevel returns the current global log level.
func GetLogLevel() LogLevel {
	return LogLevel(logLevel.Load())
}

// SetOutput redirects log output, mainly for tests.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

func enabled(l LogLevel) bool {
	return LogLevel(logLevel.Load()) <= l
}

// Tracef outputs a TRACE level message.
func Tracef(format string, v ...interface{}) {
	if enabled(LevelTrace) {
		log.Printf("[TRACE] "+format, v...)
	}
}

// Debugf outputs a DEBUG level message.
func Debugf(format string, v ...interface{}) {
	if enabled(LevelDebug) {
		log.Printf("[DEBUG] "+format, v...)
	}
}

// Infof outputs an INFO level message.
func Infof(format string, v ...interface{}) {
	if enabled(LevelInfo) {
		log.Printf("[INFO] "+format, v...)
	}
}

// Warnf outputs a WARN level message.
func Warnf(format string, v ...interface{}) {
	if enabled(LevelWarn) {
		log.Printf("[WARN] "+format, v...)
	}
}

// Errorf outputs an ERROR level message.
func Errorf(format string, v ...interface{}) {
	if enabled(LevelError) {
		log.Printf("[ERROR] "+format, v...)
	}
}

// Logf outputs a message at the given level.
func Logf(l LogLevel, format string, v ...interface{}) {
	if l >= LevelSilent || !enabled(l) {
		return
	}
	log.Printf("["+l.String()+"] "+format, v...)
}

// Fatalf outputs a FATAL level message and terminates the program with os.Exit(1).
func Fatalf(format string, v ...interface{}) {
	log.Fatalf("[FATAL] "+format, v...)
}
