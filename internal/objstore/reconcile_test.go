package objstore

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/eniz1806/omnistore/internal/fingerprint"
)

func TestReconcile_RemovesOrphans(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	put(t, env.store, "rc", "live", []byte("keep me"))

	// A blob with no record, as left by a crash between rename and commit.
	orphan, err := env.engine.WriteBlob("rc", strings.NewReader("stray"), 5, fingerprint.MD5)
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}

	report, err := env.store.Reconcile(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.OrphansRemoved != 0 {
		t.Errorf("young orphan removed inside grace period")
	}

	report, err = env.store.Reconcile(ctx, 0)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.Records != 1 || report.OrphansRemoved != 1 || report.BytesReclaimed != 5 {
		t.Errorf("unexpected report: %+v", report)
	}
	if _, _, err := env.engine.OpenBlob("rc", orphan.ID); err == nil {
		t.Error("orphan blob still present")
	}
	_, data := readAll(t, env.store, "rc", "live")
	if string(data) != "keep me" {
		t.Errorf("live object damaged: %q", data)
	}
}

func TestReconcile_ReportsMissingBodies(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	meta := put(t, env.store, "rc", "lost", []byte("gone"))
	env.engine.RemoveBlob("rc", meta.BlobID)

	report, err := env.store.Reconcile(ctx, 0)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(report.Missing) != 1 || report.Missing[0] != "rc/lost" {
		t.Errorf("Missing: got %v", report.Missing)
	}
	// No repair is guessed: the record stays.
	if _, err := env.store.Head(ctx, "rc", "lost"); err != nil {
		t.Errorf("record should remain: %v", err)
	}
}

func TestReconcile_DeletedBucketLeftovers(t *testing.T) {
	env := newTestEnv(t)
	// Blobs in a directory with no bucket record at all.
	env.engine.WriteBlob("ghost", strings.NewReader("a"), 1, fingerprint.MD5)
	env.engine.WriteBlob("ghost", strings.NewReader("b"), 1, fingerprint.MD5)

	report, err := env.store.Reconcile(context.Background(), 0)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.OrphansRemoved != 2 {
		t.Errorf("expected 2 orphans removed, got %d", report.OrphansRemoved)
	}
}

func TestReconcile_SparesBlobAwaitingCommit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	put(t, env.store, "rc", "k", []byte("old-version"))

	// An open reader holds the key, so the Put below waits to commit.
	_, r, err := env.store.Get(ctx, "rc", "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	done := make(chan error, 1)
	go func() {
		_, err := env.store.Put(ctx, "rc", "k", strings.NewReader("new-version"), 11, "")
		done <- err
	}()

	deadline := time.Now().Add(5 * time.Second)
	for env.store.blobs.pendingCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Put never wrote its blob")
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	report, err := env.store.Reconcile(ctx, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.OrphansRemoved != 0 {
		t.Errorf("removed %d blobs belonging to an uncommitted Put", report.OrphansRemoved)
	}

	r.Close()
	if err := <-done; err != nil {
		t.Fatalf("Put: %v", err)
	}
	_, data := readAll(t, env.store, "rc", "k")
	if string(data) != "new-version" {
		t.Errorf("body = %q, want new-version", data)
	}
	report, err = env.store.Reconcile(ctx, 0)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(report.Missing) != 0 || report.OrphansRemoved != 0 {
		t.Errorf("after commit: %+v", report)
	}
}

func TestBlobGuard(t *testing.T) {
	g := newBlobGuard()
	removed := 0
	remove := func() error { removed++; return nil }

	g.add("b", "1")
	if ok, _ := g.removeUnlessProtected("b", "1", remove); ok {
		t.Error("pending blob removed")
	}

	// Committed mid-sweep: the sweep's snapshot may not know the record.
	g.beginSweep()
	g.done("b", "1")
	if ok, _ := g.removeUnlessProtected("b", "1", remove); ok {
		t.Error("blob committed during the sweep removed")
	}
	g.endSweep()

	if ok, _ := g.removeUnlessProtected("b", "1", remove); !ok {
		t.Error("blob still protected after the sweep ended")
	}
	g.add("b", "2")
	g.done("b", "2")
	if ok, _ := g.removeUnlessProtected("b", "2", remove); !ok {
		t.Error("blob released outside a sweep stayed protected")
	}
	if removed != 2 || g.pendingCount() != 0 {
		t.Errorf("removed=%d pending=%d", removed, g.pendingCount())
	}
}
