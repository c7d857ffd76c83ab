package client

import (
	"context"
	"net/http"
	"path/filepath"
	"sort"
	"sync"
	"testing"
)

func TestSyncHonoursExcludes(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts, nil)
	ctx := context.Background()
	dir := t.TempDir()

	for _, name := range []string{
		"a.txt",
		"sub/b.txt",
		".git/config",
		"x.pyc",
		"__pycache__/m.py",
		".DS_Store",
		"sub/.DS_Store",
	} {
		writeFile(t, filepath.Join(dir, filepath.FromSlash(name)), payload(200))
	}

	var (
		mu   sync.Mutex
		seen []string
	)
	report, err := c.Sync(ctx, dir, "backup", SyncOptions{
		Prefix:      "site/",
		Concurrency: 2,
		OnFile: func(key string, _ Result, _ error) {
			mu.Lock()
			seen = append(seen, key)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if report.Uploaded != 2 || report.Skipped != 0 || report.Failed != 0 {
		t.Errorf("report = %+v", report)
	}
	if len(seen) != 2 {
		t.Errorf("OnFile keys = %v", seen)
	}

	objs, err := c.ListObjects(ctx, "backup", "")
	if err != nil {
		t.Fatalf("ListObjects: %v", err)
	}
	var keys []string
	for _, o := range objs {
		keys = append(keys, o.Key)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "site/a.txt" || keys[1] != "site/sub/b.txt" {
		t.Errorf("keys = %v", keys)
	}

	report, err = c.Sync(ctx, dir, "backup", SyncOptions{Prefix: "site"})
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if report.Uploaded != 0 || report.Skipped != 2 {
		t.Errorf("second report = %+v, want 2 skipped", report)
	}
	if puts := ts.requests(http.MethodPut); len(puts) != 2 {
		t.Errorf("PUT count = %d, want 2", len(puts))
	}
}

func TestSyncCollectsFailures(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts, nil)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "ok.txt"), payload(10))

	// "Bad_Bucket" is not a valid bucket name, so every upload fails.
	report, err := c.Sync(context.Background(), dir, "Bad_Bucket", SyncOptions{})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if report.Failed != 1 || report.Err() == nil {
		t.Errorf("report = %+v", report)
	}
}

func TestSyncMissingDir(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts, nil)
	if _, err := c.Sync(context.Background(), filepath.Join(t.TempDir(), "nope"), "backup", SyncOptions{}); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestExcluded(t *testing.T) {
	tests := []struct {
		rel  string
		want bool
	}{
		{"a.txt", false},
		{".DS_Store", true},
		{"pkg/__pycache__/m.cpython.pyc", true},
		{"mod.pyc", true},
		{".git/HEAD", true},
		{"docs/.gitignore", false},
		{"src/main.go", false},
	}
	for _, tt := range tests {
		if got := excluded(tt.rel, DefaultExcludes); got != tt.want {
			t.Errorf("excluded(%q) = %v, want %v", tt.rel, got, tt.want)
		}
	}
}

func TestSyncKey(t *testing.T) {
	tests := []struct {
		prefix, rel, want string
	}{
		{"", "a.txt", "a.txt"},
		{"site", "a.txt", "site/a.txt"},
		{"site/", filepath.Join("sub", "b.txt"), "site/sub/b.txt"},
		{"/deep/prefix/", "c", "deep/prefix/c"},
	}
	for _, tt := range tests {
		if got := syncKey(tt.prefix, tt.rel); got != tt.want {
			t.Errorf("syncKey(%q, %q) = %q, want %q", tt.prefix, tt.rel, got, tt.want)
		}
	}
}
