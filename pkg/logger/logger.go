// Package logger provides structured logging for the application services.
package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus entry with a component name attached.
type Logger struct {
	entry *logrus.Entry
}

// New creates a logger for the named component at the given level.
// Unknown levels fall back to info.
func New(component, level string) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.JSONFormatter{})

	parsed, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.SetLevel(parsed)

	return &Logger{entry: l.WithField("component", component)}
}

// NewDefault creates an info-level logger for the named component.
func NewDefault(component string) *Logger {
	return New(component, "info")
}

// WithField returns a logger with an additional field attached.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

// WithError returns a logger with the error attached.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{entry: l.entry.WithError(err)}
}

func (l *Logger) Debug(msg string) { l.entry.Debug(msg) }
func (l *Logger) Info(msg string)  { l.entry.Info(msg) }
func (l *Logger) Warn(msg string)  { l.entry.Warn(msg) }
func (l *Logger) Error(msg string) { l.entry.Error(msg) }
