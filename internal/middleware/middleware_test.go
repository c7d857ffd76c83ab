package middleware

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func serve(h http.Handler, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

var noContent = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func TestRequestID(t *testing.T) {
	generated := regexp.MustCompile(`^\d+-\d{6,}$`)
	tests := []struct {
		name   string
		sent   string
		want   string
		wantRe *regexp.Regexp
	}{
		{name: "generated when absent", wantRe: generated},
		{name: "client id kept", sent: "sync-42.a_b", want: "sync-42.a_b"},
		{name: "unsafe characters dropped", sent: "abc<script>\tdef", want: "abcscriptdef"},
		{name: "all unsafe falls back", sent: "<>", wantRe: generated},
		{name: "long id truncated", sent: strings.Repeat("x", 300), want: strings.Repeat("x", 128)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.sent != "" {
				header.Set("X-Request-Id", tt.sent)
			}
			got := serve(RequestID(noContent), http.MethodGet, "/media/a.txt", header).Header().Get("X-Request-Id")
			if tt.wantRe != nil && !tt.wantRe.MatchString(got) {
				t.Errorf("id %q does not match %s", got, tt.wantRe)
			}
			if tt.wantRe == nil && got != tt.want {
				t.Errorf("id = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRequestIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		id := serve(RequestID(noContent), http.MethodHead, "/", nil).Header().Get("X-Request-Id")
		if seen[id] {
			t.Fatalf("duplicate request id %s after %d requests", id, i)
		}
		seen[id] = true
	}
}

type latencySink struct {
	calls atomic.Int32
	last  atomic.Int64
}

func (l *latencySink) RecordLatency(d time.Duration) {
	l.calls.Add(1)
	l.last.Store(int64(d))
}

func TestLatency(t *testing.T) {
	sink := &latencySink{}
	h := Latency(sink, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
	}))
	serve(h, http.MethodGet, "/azure/logs/a.log", nil)

	if sink.calls.Load() != 1 {
		t.Fatalf("recorded %d times, want 1", sink.calls.Load())
	}
	if d := time.Duration(sink.last.Load()); d < 5*time.Millisecond {
		t.Errorf("latency = %v, want >= 5ms", d)
	}
}

func TestAPIHeaders(t *testing.T) {
	rr := serve(APIHeaders(noContent), http.MethodPut, "/webdav/docs/readme.md", nil)
	if rr.Code != http.StatusNoContent {
		t.Errorf("status = %d", rr.Code)
	}
	for name, want := range map[string]string{
		"Server":                 "omnistore",
		"X-Content-Type-Options": "nosniff",
	} {
		if got := rr.Header().Get(name); got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
}

func TestPanicRecovery(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		wantCode int
		wantBody string
	}{
		{
			name:     "no panic",
			handler:  noContent,
			wantCode: http.StatusNoContent,
		},
		{
			name:     "panic before write",
			handler:  func(w http.ResponseWriter, r *http.Request) { panic("boom") },
			wantCode: http.StatusInternalServerError,
			wantBody: "Internal Server Error",
		},
		{
			name: "panic mid-body keeps status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("partial"))
				panic("mid-stream")
			},
			wantCode: http.StatusOK,
			wantBody: "partial",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(PanicRecovery(nil, tt.handler), http.MethodGet, "/gcs/storage/v1/b", nil)
			if rr.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantCode)
			}
			if rr.Body.String() != tt.wantBody && !strings.HasPrefix(rr.Body.String(), tt.wantBody+"\n") {
				t.Errorf("body = %q, want %q", rr.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestPanicRecoveryRethrowsAbort(t *testing.T) {
	h := PanicRecovery(nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	defer func() {
		if p := recover(); p != http.ErrAbortHandler {
			t.Errorf("recovered %v, want http.ErrAbortHandler", p)
		}
	}()
	serve(h, http.MethodGet, "/", nil)
	t.Error("abort panic was swallowed")
}

func TestStatusRecorder(t *testing.T) {
	rr := httptest.NewRecorder()
	rec := NewStatusRecorder(rr)
	if rec.Status() != http.StatusOK {
		t.Errorf("default status = %d", rec.Status())
	}
	rec.WriteHeader(http.StatusPartialContent)
	rec.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
	rec.Write([]byte("bytes "))
	rec.Write([]byte("0-4"))

	if rec.Status() != http.StatusPartialContent {
		t.Errorf("status = %d, want first code 206", rec.Status())
	}
	if rec.Written() != 9 {
		t.Errorf("written = %d, want 9", rec.Written())
	}
	if NewStatusRecorder(rec) != rec {
		t.Error("wrapping a recorder should reuse it")
	}
	if rec.Unwrap() != http.ResponseWriter(rr) {
		t.Error("Unwrap should return the inner writer")
	}
	rec.Flush()
	if !rr.Flushed {
		t.Error("Flush not forwarded")
	}
}

// TestChain wires the wrappers in the order the server uses.
func TestChain(t *testing.T) {
	sink := &latencySink{}
	h := PanicRecovery(nil, RequestID(APIHeaders(Latency(sink, http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/explode" {
				panic("handler bug")
			}
			w.WriteHeader(http.StatusCreated)
		})))))

	rr := serve(h, http.MethodPut, "/media", nil)
	if rr.Code != http.StatusCreated || rr.Header().Get("X-Request-Id") == "" || rr.Header().Get("Server") != "omnistore" {
		t.Errorf("put: code=%d headers=%v", rr.Code, rr.Header())
	}

	rr = serve(h, http.MethodGet, "/explode", nil)
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("panic: code=%d", rr.Code)
	}
	if rr.Header().Get("X-Request-Id") == "" {
		t.Error("request id lost on recovered panic")
	}
	if sink.calls.Load() != 1 {
		t.Errorf("latency recorded %d times, want 1 (panicking request never returns through Latency)", sink.calls.Load())
	}
}
