// Package monitoring carries the viewer's diagnostics: a swappable
// printf-style logger and the prometheus collectors.
package monitoring

import (
	"log"
	"sync/atomic"
)

type logFunc func(format string, v ...interface{})

var logger atomic.Pointer[logFunc]

func init() {
	SetLogger(log.Printf)
}

// Logf is the package-level diagnostic logger. It defaults to log.Printf but
// may be replaced by SetLogger. Safe to call from any goroutine.
func Logf(format string, v ...interface{}) {
	(*logger.Load())(format, v...)
}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		f = func(string, ...interface{}) {}
	}
	lf := logFunc(f)
	logger.Store(&lf)
}

// Component returns a logger that prefixes every line with "[name] ", the
// convention used across the viewer ("[Poller]", "[Scene]", "[Recorder]").
func Component(name string) func(format string, v ...interface{}) {
	prefix := "[" + name + "] "
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}
