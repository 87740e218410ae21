// Package logging provides structured logging with run/instance/correlation
// context, wrapping logrus the way the rest of the engine's ambient stack
// does.
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys used to carry identifiers through
// a context.Context for logging purposes only.
type ContextKey string

const (
	RunIDKey         ContextKey = "run_id"
	InstanceIDKey    ContextKey = "instance_id"
	CorrelationIDKey ContextKey = "correlation_id"
)

// Logger wraps logrus.Logger with engine-specific field helpers.
type Logger struct {
	*logrus.Logger
	component string
}

// Config controls logger construction.
type Config struct {
	Level  string
	Format string
}

// DefaultConfig returns sensible defaults (info level, JSON format) matching
// the engine's production posture.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "json"}
}

// New creates a Logger for the named component.
func New(component string, cfg Config) *Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if strings.EqualFold(cfg.Format, "text") {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}
	logger.SetOutput(os.Stdout)

	return &Logger{Logger: logger, component: component}
}

// NewFromEnv builds a Logger from LOG_LEVEL / LOG_FORMAT environment
// variables, defaulting to info/json.
func NewFromEnv(component string) *Logger {
	cfg := DefaultConfig()
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_FORMAT")); v != "" {
		cfg.Format = v
	}
	return New(component, cfg)
}

// WithContext returns an entry carrying run/instance/correlation ids found
// in ctx, plus the component name.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("component", l.component)
	if ctx == nil {
		return entry
	}
	if v := ctx.Value(RunIDKey); v != nil {
		entry = entry.WithField("run_id", v)
	}
	if v := ctx.Value(InstanceIDKey); v != nil {
		entry = entry.WithField("instance_id", v)
	}
	if v := ctx.Value(CorrelationIDKey); v != nil {
		entry = entry.WithField("correlation_id", v)
	}
	return entry
}

// WithFields returns an entry with the component name plus custom fields.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["component"] = l.component
	return l.Logger.WithFields(fields)
}

// WithError returns an entry with the component name plus the error.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{"component": l.component}).WithError(err)
}

// WithRunID adds the run id to ctx for downstream logging.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithInstanceID adds the instance id to ctx for downstream logging.
func WithInstanceID(ctx context.Context, instanceID string) context.Context {
	return context.WithValue(ctx, InstanceIDKey, instanceID)
}

// WithCorrelationID adds the correlation id to ctx for downstream logging.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, correlationID)
}
