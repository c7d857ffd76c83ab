package main

import (
	"bytes"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/eniz1806/omnistore/internal/config"
	"github.com/eniz1806/omnistore/internal/server"
)

func startServer(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.DataDir = filepath.Join(dir, "data")
	cfg.Storage.MetadataDir = filepath.Join(dir, "meta")
	srv, err := server.New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return ts.URL
}

// cli runs one command line and returns its exit code and output.
func cli(t *testing.T, serverURL string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"--server", serverURL, "--retries", "1"}, args...)
	code := run(full, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestCLIObjectLifecycle(t *testing.T) {
	url := startServer(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "report.csv")
	if err := os.WriteFile(src, []byte("id,value\n1,42\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if code, out, errOut := cli(t, url, "create-bucket", "reports"); code != 0 || !strings.Contains(out, `"reports" created`) {
		t.Fatalf("create-bucket: %d %q %q", code, out, errOut)
	}
	if code, out, errOut := cli(t, url, "upload", src, "reports", "2026/"); code != 0 || !strings.Contains(out, "reports/2026/report.csv: uploaded") {
		t.Fatalf("upload: %d %q %q", code, out, errOut)
	}
	if code, out, _ := cli(t, url, "upload", src, "reports", "2026/report.csv"); code != 0 || !strings.Contains(out, "unchanged") {
		t.Errorf("second upload: %d %q", code, out)
	}

	code, out, _ := cli(t, url, "list-objects", "reports", "--prefix", "2026/")
	if code != 0 || !strings.Contains(out, "2026/report.csv") || !strings.Contains(out, "1 object(s)") {
		t.Errorf("list-objects: %d %q", code, out)
	}
	if code, out, _ := cli(t, url, "list-buckets"); code != 0 || !strings.Contains(out, "reports") {
		t.Errorf("list-buckets: %d %q", code, out)
	}

	dst := filepath.Join(dir, "copy.csv")
	if code, out, errOut := cli(t, url, "download", "reports", "2026/report.csv", dst); code != 0 {
		t.Fatalf("download: %d %q %q", code, out, errOut)
	}
	got, err := os.ReadFile(dst)
	if err != nil || string(got) != "id,value\n1,42\n" {
		t.Errorf("downloaded %q, %v", got, err)
	}

	if code, out, _ := cli(t, url, "delete", "reports", "2026/report.csv"); code != 0 || !strings.Contains(out, "deleted") {
		t.Errorf("delete: %d %q", code, out)
	}
	if code, out, _ := cli(t, url, "delete", "reports", "2026/report.csv"); code != 0 || !strings.Contains(out, "not found") {
		t.Errorf("second delete: %d %q", code, out)
	}
	if code, _, _ := cli(t, url, "delete-bucket", "reports"); code != 0 {
		t.Errorf("delete-bucket: %d", code)
	}
}

func TestCLISync(t *testing.T) {
	url := startServer(t)
	dir := t.TempDir()
	for name, body := range map[string]string{
		"index.html":        "<h1>hi</h1>",
		"css/site.css":      "body{}",
		".DS_Store":         "junk",
		"drafts/notes.tmp":  "scratch",
		"__pycache__/x.pyc": "bytecode",
	} {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}

	code, out, errOut := cli(t, url, "sync", dir, "site", "--prefix", "www", "--exclude", "*.tmp")
	if code != 0 {
		t.Fatalf("sync: %d %q %q", code, out, errOut)
	}
	if !strings.Contains(out, "2 uploaded, 0 unchanged, 0 failed") {
		t.Errorf("sync summary: %q", out)
	}
	if !strings.Contains(out, "www/css/site.css") {
		t.Errorf("sync output: %q", out)
	}

	_, out, _ = cli(t, url, "sync", dir, "site", "--prefix", "www", "--exclude", "*.tmp")
	if !strings.Contains(out, "0 uploaded, 2 unchanged, 0 failed") {
		t.Errorf("second sync summary: %q", out)
	}
}

func TestCLIErrors(t *testing.T) {
	url := startServer(t)

	code, _, errOut := cli(t, url, "download", "nobucket", "missing.bin", filepath.Join(t.TempDir(), "x"))
	if code != 1 || !strings.Contains(errOut, "HTTP 404") {
		t.Errorf("missing object: %d %q", code, errOut)
	}
	if code, _, errOut := cli(t, url, "frobnicate"); code != 2 || !strings.Contains(errOut, "Unknown command") {
		t.Errorf("unknown command: %d %q", code, errOut)
	}
	if code, _, errOut := cli(t, url, "upload", "only-one-arg"); code != 1 || !strings.Contains(errOut, "usage:") {
		t.Errorf("bad args: %d %q", code, errOut)
	}

	var stdout, stderr bytes.Buffer
	if code := run([]string{"--server", "ftp://example.com", "health"}, &stdout, &stderr); code != 2 {
		t.Errorf("bad scheme exit = %d", code)
	}
}

func TestCLIHealth(t *testing.T) {
	url := startServer(t)
	code, out, _ := cli(t, url, "health")
	if code != 0 || !strings.Contains(out, "healthy") {
		t.Errorf("health: %d %q", code, out)
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1536, "1.5 KB"},
		{5 << 20, "5.0 MB"},
		{3 << 30, "3.0 GB"},
	}
	for _, tt := range tests {
		if got := formatSize(tt.in); got != tt.want {
			t.Errorf("formatSize(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestProgressLineSkipsSmallTransfers(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressLine(&buf)
	p.update(10, 100)
	p.finish()
	if buf.Len() != 0 {
		t.Errorf("small transfer drew %q", buf.String())
	}

	p.update(1<<20, 2<<20)
	p.update(1<<20, 2<<20)
	p.update(2<<20, 2<<20)
	p.finish()
	if got := strings.Count(buf.String(), "Progress:"); got != 2 {
		t.Errorf("redraws = %d, want 2: %q", got, buf.String())
	}
	if !strings.HasSuffix(buf.String(), "\n") || !strings.Contains(buf.String(), "100%") {
		t.Errorf("final line = %q", buf.String())
	}
}
