// Package logger provides leveled structured logging.
package logger

import (
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

var defaultLogger = newLogger(os.Stderr)

func newLogger(out io.Writer) *log.Logger {
	l := log.New()
	l.SetOutput(out)
	l.SetLevel(log.InfoLevel)
	l.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	return l
}

// Init configures the default logger with the specified level and format
// ("json" or "text"). Unknown levels fall back to info.
func Init(level string, format string) {
	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = log.InfoLevel
	}
	defaultLogger.SetLevel(lvl)

	if strings.ToLower(format) == "json" {
		defaultLogger.SetFormatter(&log.JSONFormatter{})
	} else {
		defaultLogger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

// SetOutput redirects log output, mainly for tests.
func SetOutput(w io.Writer) {
	defaultLogger.SetOutput(w)
}

// WithField returns an entry carrying one structured field, such as the
// source a loader message refers to.
func WithField(key string, value interface{}) *log.Entry {
	return defaultLogger.WithField(key, value)
}

func Debug(format string, args ...interface{}) {
	defaultLogger.Debugf(format, args...)
}

func Info(format string, args ...interface{}) {
	defaultLogger.Infof(format, args...)
}

func Warn(format string, args ...interface{}) {
	defaultLogger.Warnf(format, args...)
}

func Error(format string, args ...interface{}) {
	defaultLogger.Errorf(format, args...)
}

func Fatal(format string, args ...interface{}) {
	defaultLogger.Fatalf(format, args...)
}
