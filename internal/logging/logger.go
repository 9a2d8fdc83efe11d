// Package logging provides the Coordinator's structured logging, grounded
// on r3e-network-service_layer/infrastructure/logging/logger.go: a
// logrus.Logger wrapper carrying a component field and a context-scoped
// trace id, replacing the teacher's bare log.Printf calls throughout
// cmd/coordinator and the health monitor.
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type used for context values this package reads.
type ContextKey string

// TraceIDKey is the context key under which a request/operation trace id
// is stored, propagated from the HTTP layer down into every component a
// request touches (placement, federation fan-out, redistribution).
const TraceIDKey ContextKey = "trace_id"

// Logger wraps logrus.Logger with a fixed component label, analogous to
// the teacher's per-service Logger but scoped per internal component
// (registry, ring, health, placement, federation) rather than per
// microservice, since the Coordinator is a single process.
type Logger struct {
	*logrus.Logger
	component string
}

// New creates a Logger for component, with level and format ("json" or
// "text") as named by LOG_LEVEL/LOG_FORMAT (see internal/config).
func New(component, level, format string) *Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	logger.SetOutput(os.Stdout)

	return &Logger{Logger: logger, component: component}
}

// NewFromEnv builds a Logger for component using LOG_LEVEL/LOG_FORMAT,
// defaulting to "info"/"json" when unset.
func NewFromEnv(component string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(component, level, format)
}

// With returns a sub-Logger that keeps writing through the same
// underlying logrus.Logger (same level, output, formatter) but tags
// entries with a different component label. Useful when a package wants
// a narrower label than its constructor's (e.g. "health.probe" vs
// "health").
func (l *Logger) With(component string) *Logger {
	return &Logger{Logger: l.Logger, component: component}
}

// WithContext returns an entry tagged with this logger's component and,
// if present, the trace id carried on ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("component", l.component)
	if traceID := ctx.Value(TraceIDKey); traceID != nil {
		entry = entry.WithField("trace_id", traceID)
	}
	return entry
}

// WithFields returns an entry tagged with this logger's component plus
// the given fields.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["component"] = l.component
	return l.Logger.WithFields(fields)
}

// NewTraceID generates a fresh trace id for a request or scheduled
// operation.
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID attaches a trace id to ctx for downstream WithContext calls
// to pick up.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID retrieves the trace id from ctx, or "" if none is set.
func GetTraceID(ctx context.Context) string {
	if id, ok := ctx.Value(TraceIDKey).(string); ok {
		return id
	}
	return ""
}

// LogRequest logs one handled HTTP request, matching the shape the
// teacher's server would log via the standard logger had it used one.
func (l *Logger) LogRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status_code": statusCode,
		"duration_ms": duration.Milliseconds(),
	}).Info("http request")
}

// LogOutboundCall logs one outbound HTTP call to a ledger or catalogue
// node, the Coordinator's most frequent log event.
func (l *Logger) LogOutboundCall(ctx context.Context, target, url string, duration time.Duration, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"target":      target,
		"url":         url,
		"duration_ms": duration.Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Warn("outbound call failed")
		return
	}
	entry.Debug("outbound call succeeded")
}
