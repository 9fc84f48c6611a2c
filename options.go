package replmap

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jmsadair/replmap/logging"
)

const (
	defaultMergeStateTimeout = time.Duration(30 * time.Second)
	defaultMergeQueueSize    = 8
)

// Logger supports logging messages at the debug, info, warn, error, and
// fatal level.
type Logger interface {
	// Debug logs a message at debug level.
	Debug(args ...any)

	// Debugf logs a formatted message at debug level.
	Debugf(format string, args ...any)

	// Info logs a message at info level.
	Info(args ...any)

	// Infof logs a formatted message at info level.
	Infof(format string, args ...any)

	// Warn logs a message at warn level.
	Warn(args ...any)

	// Warnf logs a formatted message at warn level.
	Warnf(format string, args ...any)

	// Error logs a message at error level.
	Error(args ...any)

	// Errorf logs a formatted message at error level.
	Errorf(format string, args ...any)

	// Fatal logs a message at fatal level.
	Fatal(args ...any)

	// Fatalf logs a formatted message at fatal level.
	Fatalf(format string, args ...any)
}

type options struct {
	// The longest a non-primary member waits for state while resolving a merge.
	mergeStateTimeout time.Duration

	// The number of merge views that may wait to be resolved.
	mergeQueueSize int

	// A logger for debugging and important events.
	logger Logger

	// The level of logged messages when the default logger is used.
	logLevel logging.Level

	// Indicates if log level was set or not.
	levelSet bool

	// Where the metrics of the map are registered, if anywhere.
	registerer prometheus.Registerer
}

// Option is a function that updates the options associated with a Map.
type Option func(options *options) error

// WithMergeStateTimeout sets how long a member outside the primary subgroup
// waits for state when resolving a merge. Once it expires the member keeps
// its current data.
func WithMergeStateTimeout(timeout time.Duration) Option {
	return func(options *options) error {
		if timeout <= 0 {
			return errors.New("merge state timeout must be positive")
		}
		options.mergeStateTimeout = timeout
		return nil
	}
}

// WithMergeQueueSize sets how many merge views may wait to be resolved. When
// the queue is full the oldest waiting view is discarded.
func WithMergeQueueSize(size int) Option {
	return func(options *options) error {
		if size < 1 {
			return errors.New("merge queue size must be at least one")
		}
		options.mergeQueueSize = size
		return nil
	}
}

// WithLogger sets the logger used by the map.
func WithLogger(logger Logger) Option {
	return func(options *options) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		options.logger = logger
		return nil
	}
}

// WithLogLevel sets the level of the default logger. It has no effect
// when a logger is provided with WithLogger.
func WithLogLevel(level logging.Level) Option {
	return func(options *options) error {
		options.logLevel = level
		options.levelSet = true
		return nil
	}
}

// WithRegisterer registers the metrics of the map with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(options *options) error {
		if reg == nil {
			return errors.New("registerer must not be nil")
		}
		options.registerer = reg
		return nil
	}
}

func buildOptions(opts []Option) (options, error) {
	var o options
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return options{}, err
		}
	}

	if o.mergeStateTimeout == 0 {
		o.mergeStateTimeout = defaultMergeStateTimeout
	}
	if o.mergeQueueSize == 0 {
		o.mergeQueueSize = defaultMergeQueueSize
	}
	if o.logger == nil {
		level := logging.Info
		if o.levelSet {
			level = o.logLevel
		}
		logger, err := logging.NewLogger(logging.WithLevel(level))
		if err != nil {
			return options{}, err
		}
		o.logger = logger
	}

	return o, nil
}
