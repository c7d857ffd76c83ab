package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eniz1806/omnistore/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Server.Address = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeoutSecs = 5
	cfg.Storage.DataDir = filepath.Join(dir, "data")
	cfg.Storage.MetadataDir = filepath.Join(dir, "meta")
	cfg.Storage.ReconcileIntervalSecs = 0
	cfg.Logging.AccessLogEnabled = true
	cfg.Logging.AccessLogPath = filepath.Join(dir, "access.log")
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *httptest.Server) {
	t.Helper()
	srv, err := New(cfg, quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return srv, ts
}

func do(t *testing.T, method, url, body string) (*http.Response, string) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, string(data)
}

func TestServerServesEveryProtocol(t *testing.T) {
	_, ts := newTestServer(t, testConfig(t))

	if resp, _ := do(t, "PUT", ts.URL+"/media", ""); resp.StatusCode >= 300 {
		t.Fatalf("create bucket: %d", resp.StatusCode)
	}
	resp, _ := do(t, "PUT", ts.URL+"/media/notes.txt", "hello from s3")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put: %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Error("missing X-Request-Id")
	}
	if resp.Header.Get("Server") != "omnistore" {
		t.Errorf("Server header = %q", resp.Header.Get("Server"))
	}

	for _, path := range []string{
		"/media/notes.txt",
		"/azure/media/notes.txt",
		"/webdav/media/notes.txt",
		"/gcs/storage/v1/b/media/o/notes.txt?alt=media",
	} {
		resp, body := do(t, "GET", ts.URL+path, "")
		if resp.StatusCode != http.StatusOK || body != "hello from s3" {
			t.Errorf("GET %s: %d %q", path, resp.StatusCode, body)
		}
	}

	resp, body := do(t, "GET", ts.URL+"/health", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "healthy") {
		t.Errorf("health: %d %s", resp.StatusCode, body)
	}
}

func TestServerKeepsUncleanKeyPaths(t *testing.T) {
	_, ts := newTestServer(t, testConfig(t))

	keys := map[string]string{
		"a//b":   "double slash",
		"x/../y": "dot dot",
		"./z":    "dot",
	}
	for key, body := range keys {
		resp, _ := do(t, "PUT", ts.URL+"/bkt/"+key, body)
		if resp.StatusCode != http.StatusOK || resp.Request.URL.Path != "/bkt/"+key {
			t.Fatalf("PUT %s: %d at %s", key, resp.StatusCode, resp.Request.URL.Path)
		}
	}
	for key, want := range keys {
		resp, got := do(t, "GET", ts.URL+"/bkt/"+key, "")
		if resp.StatusCode != http.StatusOK || got != want {
			t.Errorf("GET %s: %d %q", key, resp.StatusCode, got)
		}
	}
	for _, cleaned := range []string{"a/b", "y", "z"} {
		if resp, _ := do(t, "GET", ts.URL+"/bkt/"+cleaned, ""); resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s: %d, want 404", cleaned, resp.StatusCode)
		}
	}
}

func TestServerMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, testConfig(t))

	do(t, "PUT", ts.URL+"/azure/logs", "")
	do(t, "PUT", ts.URL+"/azure/logs/a.log", "line one")
	do(t, "GET", ts.URL+"/logs/missing.log", "")

	resp, body := do(t, "GET", ts.URL+"/metrics", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
	for _, want := range []string{
		`omnistore_protocol_requests_total{protocol="azure"} 2`,
		`omnistore_protocol_requests_total{protocol="s3"} 1`,
		"omnistore_request_errors_total 1",
		"omnistore_buckets_total 1",
		"omnistore_objects_total 1",
		"omnistore_storage_size_bytes_total 8",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestServerWritesAccessLog(t *testing.T) {
	cfg := testConfig(t)
	srv, ts := newTestServer(t, cfg)

	do(t, "PUT", ts.URL+"/webdav/docs/readme.md", "# readme")
	do(t, "GET", ts.URL+"/docs/readme.md", "")
	ts.Close()
	srv.accessLog.Close()

	f, err := os.Open(cfg.Logging.AccessLogPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var protocols []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var entry struct {
			RequestID string `json:"request_id"`
			Protocol  string `json:"protocol"`
			Bucket    string `json:"bucket"`
			Key       string `json:"key"`
		}
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		if entry.Bucket != "docs" || entry.Key != "readme.md" {
			t.Errorf("entry = %+v", entry)
		}
		protocols = append(protocols, entry.Protocol)
	}
	if strings.Join(protocols, ",") != "webdav,s3" {
		t.Errorf("protocols = %v", protocols)
	}
}

func TestServerRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.RequestsPerSec = 0.1
	cfg.RateLimit.Burst = 1
	_, ts := newTestServer(t, cfg)

	if resp, _ := do(t, "GET", ts.URL+"/health", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("first request: %d", resp.StatusCode)
	}
	resp, _ := do(t, "GET", ts.URL+"/health", "")
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second request: %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
}

func TestServerNotifiesWebhook(t *testing.T) {
	var events atomic.Int32
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		events.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	cfg := testConfig(t)
	cfg.Notifications.Webhooks = []string{hook.URL}
	cfg.Notifications.Events = []string{"s3:ObjectCreated:*"}
	srv, ts := newTestServer(t, cfg)
	srv.notifyDisp.Start(context.Background())

	do(t, "PUT", ts.URL+"/media/a.bin", "aaaa")
	do(t, "PUT", ts.URL+"/media/b.bin", "bbbb")
	do(t, "DELETE", ts.URL+"/media/a.bin", "")
	srv.notifyDisp.Stop()

	if got := events.Load(); got != 2 {
		t.Errorf("webhook received %d events, want 2", got)
	}
}

func TestServerRunStopsOnCancel(t *testing.T) {
	srv, err := New(testConfig(t), quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewFailsOnUnwritableMetadataDir(t *testing.T) {
	cfg := testConfig(t)
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg.Storage.MetadataDir = filepath.Join(blocker, "meta")
	if _, err := New(cfg, quietLogger()); err == nil {
		t.Fatal("expected error when metadata dir cannot be created")
	}
}
