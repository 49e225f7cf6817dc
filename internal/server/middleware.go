package server

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/fatih/color"

	"github.com/banshee-data/particleview/internal/monitoring"
)

var (
	status2xx = color.New(color.FgGreen, color.Bold).SprintFunc()
	status3xx = color.New(color.FgYellow).SprintFunc()
	status4xx = color.New(color.FgRed, color.Bold).SprintFunc()
	uriColor  = color.New(color.FgCyan).SprintFunc()
)

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack lets the websocket upgrader take over the connection.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	lrw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func statusCodeColor(statusCode int) string {
	code := strconv.Itoa(statusCode)
	switch {
	case statusCode >= 200 && statusCode < 300:
		return status2xx(code)
	case statusCode >= 300 && statusCode < 400:
		return status3xx(code)
	case statusCode >= 400:
		return status4xx(code)
	default:
		return code
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			uriColor(r.RequestURI),
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}
