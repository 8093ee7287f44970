// Package logging provides the library-wide logger. It wraps logrus behind a
// small interface so embedders can swap in their own backend.
package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger is the logging surface used throughout the library.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})

	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	WithField(key string, value interface{}) Logger
	WithError(err error) Logger
}

type logrusLogger struct {
	entry *logrus.Entry
}

var defaultLogger Logger = newLogrusLogger()

func newLogrusLogger() *logrusLogger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

// Default returns the process-wide logger.
func Default() Logger {
	return defaultLogger
}

// SetDefault replaces the process-wide logger. Pass nil to restore the
// built-in logrus logger.
func SetDefault(l Logger) {
	if l == nil {
		defaultLogger = newLogrusLogger()
		return
	}
	defaultLogger = l
}

// SetOutput redirects the built-in logger's output. No effect if the default
// logger has been replaced.
func SetOutput(w io.Writer) {
	if ll, ok := defaultLogger.(*logrusLogger); ok {
		ll.entry.Logger.SetOutput(w)
	}
}

// SetLevel adjusts the built-in logger's level ("debug", "info", "warn",
// "error"). Unknown levels are ignored.
func SetLevel(level string) {
	ll, ok := defaultLogger.(*logrusLogger)
	if !ok {
		return
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return
	}
	ll.entry.Logger.SetLevel(parsed)
}

func (l *logrusLogger) Debug(args ...interface{})                 { l.entry.Debug(args...) }
func (l *logrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *logrusLogger) Info(args ...interface{})                  { l.entry.Info(args...) }
func (l *logrusLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *logrusLogger) Warn(args ...interface{})                  { l.entry.Warn(args...) }
func (l *logrusLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *logrusLogger) Error(args ...interface{})                 { l.entry.Error(args...) }
func (l *logrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *logrusLogger) WithField(key string, value interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithField(key, value)}
}

func (l *logrusLogger) WithError(err error) Logger {
	return &logrusLogger{entry: l.entry.WithError(err)}
}
