// Package middleware holds the HTTP wrappers shared by every route: request
// ids, panic recovery, latency recording and a status-capturing writer.
package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"runtime/debug"
	"sync/atomic"
	"time"
)

var requestIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._\-]`)

var requestCounter uint64

// generateRequestID creates a short unique ID: timestamp-counter.
func generateRequestID() string {
	n := atomic.AddUint64(&requestCounter, 1)
	return fmt.Sprintf("%d-%06d", time.Now().UnixMilli()%1000000, n)
}

// RequestID sets X-Request-Id on the response, reusing a sanitized
// client-supplied id when there is one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := requestIDSanitizer.ReplaceAllString(r.Header.Get("X-Request-Id"), "")
		if len(id) > 128 {
			id = id[:128]
		}
		if id == "" {
			id = generateRequestID()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

type LatencyRecorder interface {
	RecordLatency(d time.Duration)
}

func Latency(recorder LatencyRecorder, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		recorder.RecordLatency(time.Since(start))
	})
}

// APIHeaders sets the headers every storage response carries.
func APIHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "omnistore")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		next.ServeHTTP(w, r)
	})
}

// PanicRecovery catches panics, logs the stack trace, and returns 500 if
// nothing has been written yet.
func PanicRecovery(logger *slog.Logger, next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := NewStatusRecorder(w)
		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				logger.Error("panic recovered",
					"request_id", w.Header().Get("X-Request-Id"),
					"method", r.Method,
					"path", r.URL.Path,
					"panic", p,
					"stack", string(debug.Stack()),
				)
				if !rec.wroteHeader {
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}
		}()
		next.ServeHTTP(rec, r)
	})
}

// StatusRecorder wraps a ResponseWriter and remembers the status code and
// the number of body bytes written.
type StatusRecorder struct {
	http.ResponseWriter
	status      int
	written     int64
	wroteHeader bool
}

func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	if sr, ok := w.(*StatusRecorder); ok {
		return sr
	}
	return &StatusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (s *StatusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *StatusRecorder) Write(p []byte) (int, error) {
	s.wroteHeader = true
	n, err := s.ResponseWriter.Write(p)
	s.written += int64(n)
	return n, err
}

func (s *StatusRecorder) Status() int { return s.status }

func (s *StatusRecorder) Written() int64 { return s.written }

func (s *StatusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

func (s *StatusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
