package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	log *logrus.Logger
	mu  sync.Mutex
)

// LogLevel represents the logging level
type LogLevel string

const (
	DEBUG LogLevel = "DEBUG"
	INFO  LogLevel = "INFO"
	WARN  LogLevel = "WARN"
	ERROR LogLevel = "ERROR"
)

// Options configures the global logger
type Options struct {
	Level   string
	Format  string // "json" or "text"
	Service string
	Output  io.Writer
}

// Init initializes the global logger with the specified log level and JSON output.
// logLevel should be one of: DEBUG, INFO, WARN, ERROR. If invalid, defaults to INFO
func Init(logLevel string) {
	Configure(Options{Level: logLevel})
}

// Configure initializes the global logger from opts
func Configure(opts Options) {
	l := logrus.New()

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	l.SetOutput(out)

	if strings.EqualFold(opts.Format, "text") {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			PrettyPrint:     false,
		})
	}

	level, err := logrus.ParseLevel(strings.ToLower(opts.Level))
	if err != nil {
		level = logrus.InfoLevel
		l.Warnf("Invalid log level '%s', defaulting to INFO", opts.Level)
	}
	l.SetLevel(level)

	if opts.Service != "" {
		l.AddHook(serviceHook(opts.Service))
	}

	mu.Lock()
	log = l
	mu.Unlock()

	l.Infof("Logger initialized with level: %s", opts.Level)
}

// serviceHook stamps every entry with the service name
type serviceHook string

func (h serviceHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h serviceHook) Fire(e *logrus.Entry) error {
	if _, ok := e.Data["service"]; !ok {
		e.Data["service"] = string(h)
	}
	return nil
}

// GetLogger returns the global logger instance
func GetLogger() *logrus.Logger {
	mu.Lock()
	l := log
	mu.Unlock()
	if l == nil {
		Init("INFO")
		mu.Lock()
		l = log
		mu.Unlock()
	}
	return l
}

// Debug logs a debug message
func Debug(args ...interface{}) {
	GetLogger().Debug(args...)
}

// Debugf logs a formatted debug message
func Debugf(format string, args ...interface{}) {
	GetLogger().Debugf(format, args...)
}

// Info logs an info message
func Info(args ...interface{}) {
	GetLogger().Info(args...)
}

// Infof logs a formatted info message
func Infof(format string, args ...interface{}) {
	GetLogger().Infof(format, args...)
}

// Warn logs a warning message
func Warn(args ...interface{}) {
	GetLogger().Warn(args...)
}

// Warnf logs a formatted warning message
func Warnf(format string, args ...interface{}) {
	GetLogger().Warnf(format, args...)
}

// Error logs an error message
func Error(args ...interface{}) {
	GetLogger().Error(args...)
}

// Errorf logs a formatted error message
func Errorf(format string, args ...interface{}) {
	GetLogger().Errorf(format, args...)
}

// Fatal logs a fatal message and exits
func Fatal(args ...interface{}) {
	GetLogger().Fatal(args...)
}

// Fatalf logs a formatted fatal message and exits
func Fatalf(format string, args ...interface{}) {
	GetLogger().Fatalf(format, args...)
}

// WithField returns a logger entry with a single field
func WithField(key string, value interface{}) *logrus.Entry {
	return GetLogger().WithField(key, value)
}

// WithFields returns a logger entry with multiple fields
func WithFields(fields logrus.Fields) *logrus.Entry {
	return GetLogger().WithFields(fields)
}

// WithError returns a logger entry carrying err
func WithError(err error) *logrus.Entry {
	return GetLogger().WithError(err)
}

// ForDeployment returns an entry scoped to a deployment
func ForDeployment(deploymentID string) *logrus.Entry {
	return GetLogger().WithField("deployment_id", deploymentID)
}

// ForClaim returns an entry scoped to a domain claim
func ForClaim(claimID string) *logrus.Entry {
	return GetLogger().WithField("claim_id", claimID)
}
