package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Log levels constants.
const (
	None = iota
	Error
	Warning
	Info
	Debug
)

// Fields is a set of structured key/values attached to a single log line.
type Fields map[string]interface{}

var currentLevel atomic.Int32 // Stores the current logging level atomically.

// logger is the logrus backend. Level filtering happens in logf, so the
// backend itself always runs at its most verbose level.
var logger = newBackend(os.Stderr)

func newBackend(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:    true,
		TimestampFormat:  "2006/01/02 15:04:05.000000",
		DisableColors:    true,
		QuoteEmptyFields: true,
	})
	return l
}

func init() {
	// Default log level is Info.
	currentLevel.Store(Info)
}

// SetLevel atomically sets the global logging level.
// It clamps the input level to the valid range [None, Debug].
func SetLevel(level int) {
	if level < None {
		level = None
	} else if level > Debug {
		level = Debug
	}
	currentLevel.Store(int32(level))
	if level >= Debug {
		logf(nil, Debug, "Log level set to %d", level)
	}
}

// GetLevel atomically retrieves the current logging level.
func GetLevel() int {
	return int(currentLevel.Load())
}

// ParseLevel converts a log level string (case-insensitive) to its integer representation.
// Returns Info level and an error if the string is invalid.
func ParseLevel(levelStr string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "none":
		return None, nil
	case "error":
		return Error, nil
	case "warn", "warning":
		return Warning, nil
	case "info":
		return Info, nil
	case "debug":
		return Debug, nil
	default:
		return Info, fmt.Errorf("invalid log level string: '%s'", levelStr)
	}
}

// SetupLogging configures the logging level based on an input string.
// Logs a warning and uses Info level if the input string is invalid.
// Returns the finally set log level.
func SetupLogging(levelStr string) int {
	level, err := ParseLevel(levelStr)
	if err != nil {
		logf(nil, Warning, "Invalid log level '%s' provided, defaulting to 'info'. Error: %v", levelStr, err)
	}
	SetLevel(level)
	return level
}

// SetOutput changes the output destination of the global logger.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// Entry is a logger bound to a fixed set of fields.
type Entry struct {
	fields Fields
}

// WithFields returns an Entry that attaches fields to every line it logs.
func WithFields(fields Fields) *Entry {
	return &Entry{fields: fields}
}

// Logf logs through the entry with its fields attached.
func (e *Entry) Logf(level int, format string, v ...interface{}) {
	logf(e.fields, level, format, v...)
}

// WithField returns a copy of the entry with one more field.
func (e *Entry) WithField(key string, value interface{}) *Entry {
	merged := make(Fields, len(e.fields)+1)
	for k, val := range e.fields {
		merged[k] = val
	}
	merged[key] = value
	return &Entry{fields: merged}
}

func logf(fields Fields, level int, format string, v ...interface{}) {
	if level <= None || int32(level) > currentLevel.Load() {
		return
	}

	message := fmt.Sprintf(format, v...)

	// Debug lines carry the caller's file:line:func like the log prefix did before.
	if level == Debug {
		caller := "???:0:???"
		if pc, file, line, ok := runtime.Caller(2); ok {
			funcName := "???"
			if f := runtime.FuncForPC(pc); f != nil {
				funcName = filepath.Base(f.Name())
			}
			caller = fmt.Sprintf("%s:%d:%s", filepath.Base(file), line, funcName)
		}
		message = caller + " " + message
	}

	entry := logrus.NewEntry(logger)
	if len(fields) > 0 {
		entry = entry.WithFields(logrus.Fields(fields))
	}

	switch level {
	case Error:
		entry.Error(message)
	case Warning:
		entry.Warn(message)
	case Info:
		entry.Info(message)
	default:
		entry.Debug(message)
	}
}

// Logf logs a formatted message if the specified level is enabled according to the global setting.
func Logf(level int, format string, v ...interface{}) {
	logf(nil, level, format, v...)
}

// gooseLogger satisfies goose.Logger.
type gooseLogger struct{}

// GooseLogger adapts the package logger to the migration tool's Printf/Fatalf interface.
func GooseLogger() interface {
	Printf(format string, v ...interface{})
	Fatalf(format string, v ...interface{})
} {
	return gooseLogger{}
}

func (gooseLogger) Printf(format string, v ...interface{}) {
	logf(Fields{"component": "migrate"}, Info, strings.TrimSuffix(format, "\n"), v...)
}

// Fatalf logs at error level; the caller decides whether to exit.
func (gooseLogger) Fatalf(format string, v ...interface{}) {
	logf(Fields{"component": "migrate"}, Error, strings.TrimSuffix(format, "\n"), v...)
}
