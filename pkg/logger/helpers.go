package logger

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// LogDownload logs the final outcome for one manifest entry
func LogDownload(l Logger, entryID, path string, size int64, skipped bool, err error) {
	fields := map[string]interface{}{
		"entry_id":   entryID,
		"path":       path,
		"size_bytes": size,
		"skipped":    skipped,
	}

	entryLog := l.WithFields(fields)
	switch {
	case err != nil:
		entryLog.WithError(err).Error("Download failed")
	case skipped:
		entryLog.Info("Already downloaded, skipping")
	default:
		entryLog.Info("Download completed")
	}
}

// LogComponentStart logs when a component starts
func LogComponentStart(l Logger, component string, config map[string]interface{}) {
	componentLog := l.WithField("component", component)
	if len(config) > 0 {
		componentLog = componentLog.WithFields(config)
	}
	componentLog.Info("Component started")
}

// LogComponentStop logs when a component stops
func LogComponentStop(l Logger, component string, reason string) {
	l.WithFields(map[string]interface{}{
		"component": component,
		"reason":    reason,
	}).Info("Component stopped")
}

// LogMetrics logs run metrics under the given operation name
func LogMetrics(l Logger, operation string, metrics map[string]interface{}) {
	fields := map[string]interface{}{
		"operation": operation,
		"type":      "metrics",
	}
	for k, v := range metrics {
		fields[k] = v
	}
	l.InfoWithFields("Run metrics", fields)
}

// Printf adapts a Logger to the printf-style callbacks used by browser
// automation libraries. Lines are logged at the given level with the
// "source" field set.
func Printf(l Logger, level, source string) func(string, ...interface{}) {
	scoped := l.WithField("source", source)
	return func(format string, args ...interface{}) {
		msg := strings.TrimSpace(fmt.Sprintf(format, args...))
		switch level {
		case "debug":
			scoped.Debug(msg)
		case "warn":
			scoped.Warn(msg)
		case "error":
			scoped.Error(msg)
		default:
			scoped.Info(msg)
		}
	}
}

// NewNopLogger creates a no-operation logger for testing
func NewNopLogger() Logger {
	return &nopLogger{}
}

// nopLogger is a logger that does nothing
type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                          {}
func (n *nopLogger) Info(msg string)                                           {}
func (n *nopLogger) Warn(msg string)                                           {}
func (n *nopLogger) Error(msg string)                                          {}
func (n *nopLogger) Fatal(msg string)                                          {}
func (n *nopLogger) WithField(key string, value interface{}) Logger            { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger           { return n }
func (n *nopLogger) WithError(err error) Logger                                { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger                    { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) FatalWithFields(msg string, fields map[string]interface{}) {}

func (n *nopLogger) GetZerolog() *zerolog.Logger {
	nop := zerolog.Nop()
	return &nop
}
