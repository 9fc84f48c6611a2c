package logging

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// Level defines the log severity levels.
type Level int32

// Enumeration of log levels from least to most severe.
const (
	Debug Level = iota
	Info
	Warn
	Error
	Fatal
)

// String provides a string representation of the logging level.
func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	case Fatal:
		return "FATAL"
	default:
		panic("invalid log level")
	}
}

// ParseLevel converts a case-insensitive level name such as "warn" into a Level.
func ParseLevel(name string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return Debug, nil
	case "info", "":
		return Info, nil
	case "warn", "warning":
		return Warn, nil
	case "error":
		return Error, nil
	case "fatal":
		return Fatal, nil
	default:
		return Info, fmt.Errorf("unknown log level %q", name)
	}
}

// Logger writes leveled messages through a standard library logger.
type Logger struct {
	// Logging options that determine behavior such as output destination and log level.
	options options

	// The underlying standard logger.
	base *log.Logger
}

// NewLogger creates a new logger instance with the provided options.
// If no options are provided, messages at Info and above are written
// to stderr.
func NewLogger(opts ...Option) (*Logger, error) {
	var options options
	for _, opt := range opts {
		if err := opt(&options); err != nil {
			return nil, err
		}
	}

	if options.writer == nil {
		options.writer = defaultWriter
	}
	if options.flag == 0 {
		options.flag = defaultFlag
	}
	if options.prefix == "" {
		options.prefix = defaultPrefix
	}
	if !options.levelSet {
		options.level = Info
	}

	return &Logger{
		options: options,
		base:    log.New(options.writer, options.prefix, options.flag),
	}, nil
}

// Level returns the minimum level that is written.
func (l *Logger) Level() Level {
	return l.options.level
}

// Debug logs a debug message with the given arguments.
func (l *Logger) Debug(args ...any) {
	l.print(Debug, args)
}

// Debugf logs a formatted debug message.
func (l *Logger) Debugf(format string, args ...any) {
	l.printf(Debug, format, args)
}

// Info logs an informational message.
func (l *Logger) Info(args ...any) {
	l.print(Info, args)
}

// Infof logs a formatted informational message.
func (l *Logger) Infof(format string, args ...any) {
	l.printf(Info, format, args)
}

// Warn logs a warning message.
func (l *Logger) Warn(args ...any) {
	l.print(Warn, args)
}

// Warnf logs a formatted warning message.
func (l *Logger) Warnf(format string, args ...any) {
	l.printf(Warn, format, args)
}

// Error logs an error message.
func (l *Logger) Error(args ...any) {
	l.print(Error, args)
}

// Errorf logs a formatted error message.
func (l *Logger) Errorf(format string, args ...any) {
	l.printf(Error, format, args)
}

// Fatal logs a fatal error message and then terminates the program.
func (l *Logger) Fatal(args ...any) {
	l.print(Fatal, args)
	os.Exit(1)
}

// Fatalf logs a formatted fatal error message and then terminates the program.
func (l *Logger) Fatalf(format string, args ...any) {
	l.printf(Fatal, format, args)
	os.Exit(1)
}

func (l *Logger) printf(level Level, format string, args []any) {
	if l.options.level > level {
		return
	}
	l.base.Print(level.String() + ": " + fmt.Sprintf(format, args...))
}

func (l *Logger) print(level Level, args []any) {
	if l.options.level > level {
		return
	}
	l.base.Print(level.String() + ": " + fmt.Sprint(args...))
}
