package metadata

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func putMeta(t *testing.T, s *Store, bucket, key string, size int64) {
	t.Helper()
	now := time.Now().UTC()
	_, err := s.PutObjectMeta(ObjectMeta{
		Bucket: bucket, Key: key, Size: size, Fingerprint: "fp-" + key,
		BlobID: "blob-" + key, Created: now, LastModified: now,
	})
	if err != nil {
		t.Fatalf("PutObjectMeta(%s/%s): %v", bucket, key, err)
	}
}

func TestStore_BucketCRUD(t *testing.T) {
	s := newTestStore(t)

	created, err := s.CreateBucket("test-bucket")
	if err != nil || !created {
		t.Fatalf("CreateBucket: created=%v err=%v", created, err)
	}

	// Duplicate create is not an error
	created, err = s.CreateBucket("test-bucket")
	if err != nil || created {
		t.Errorf("duplicate CreateBucket: created=%v err=%v", created, err)
	}

	buckets, err := s.ListBuckets()
	if err != nil {
		t.Fatalf("ListBuckets: %v", err)
	}
	if len(buckets) != 1 || buckets[0].Name != "test-bucket" {
		t.Errorf("expected [test-bucket], got %v", buckets)
	}

	if _, err := s.DeleteBucket("test-bucket"); err != nil {
		t.Fatalf("DeleteBucket: %v", err)
	}
	if s.BucketExists("test-bucket") {
		t.Error("bucket still exists after delete")
	}
	if _, err := s.DeleteBucket("test-bucket"); !errors.Is(err, ErrBucketNotFound) {
		t.Errorf("second DeleteBucket: got %v, want ErrBucketNotFound", err)
	}
}

func TestStore_ListBucketsSorted(t *testing.T) {
	s := newTestStore(t)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		s.CreateBucket(name)
	}
	buckets, _ := s.ListBuckets()
	var names []string
	for _, b := range buckets {
		names = append(names, b.Name)
	}
	if len(names) != 3 || names[0] != "alpha" || names[1] != "mid" || names[2] != "zeta" {
		t.Errorf("unexpected order: %v", names)
	}
}

func TestStore_ObjectMeta(t *testing.T) {
	s := newTestStore(t)

	putMeta(t, s, "bucket", "file.txt", 42)
	if !s.BucketExists("bucket") {
		t.Error("PutObjectMeta should create the bucket record")
	}

	got, err := s.GetObjectMeta("bucket", "file.txt")
	if err != nil {
		t.Fatalf("GetObjectMeta: %v", err)
	}
	if got.Size != 42 || got.BlobID != "blob-file.txt" {
		t.Errorf("got %+v", got)
	}

	removed, err := s.DeleteObjectMeta("bucket", "file.txt")
	if err != nil || removed == nil {
		t.Fatalf("DeleteObjectMeta: removed=%v err=%v", removed, err)
	}
	removed, err = s.DeleteObjectMeta("bucket", "file.txt")
	if err != nil || removed != nil {
		t.Errorf("second DeleteObjectMeta: removed=%v err=%v", removed, err)
	}
	if _, err := s.GetObjectMeta("bucket", "file.txt"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestStore_PutObjectMetaReturnsPrevious(t *testing.T) {
	s := newTestStore(t)
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	prev, err := s.PutObjectMeta(ObjectMeta{Bucket: "b", Key: "k", BlobID: "one", Created: first, LastModified: first})
	if err != nil || prev != nil {
		t.Fatalf("first put: prev=%v err=%v", prev, err)
	}
	later := first.Add(time.Hour)
	prev, err = s.PutObjectMeta(ObjectMeta{Bucket: "b", Key: "k", BlobID: "two", Created: later, LastModified: later})
	if err != nil {
		t.Fatalf("second put: %v", err)
	}
	if prev == nil || prev.BlobID != "one" {
		t.Fatalf("expected previous blob one, got %+v", prev)
	}

	got, _ := s.GetObjectMeta("b", "k")
	if !got.Created.Equal(first) {
		t.Errorf("Created should be preserved: got %v", got.Created)
	}
	if !got.LastModified.Equal(later) {
		t.Errorf("LastModified: got %v", got.LastModified)
	}
}

func TestStore_ListObjectMeta(t *testing.T) {
	s := newTestStore(t)
	for _, k := range []string{"b.txt", "a/2", "a/1", "ab", "a/10"} {
		putMeta(t, s, "one", k, 1)
	}
	// Same keys in a bucket sharing a name prefix must not leak.
	putMeta(t, s, "one-other", "a/3", 1)
	s.CreateBucket("empty")

	tests := []struct {
		name       string
		bucket     string
		prefix     string
		startAfter string
		limit      int
		want       []string
		truncated  bool
	}{
		{"all", "one", "", "", 0, []string{"a/1", "a/10", "a/2", "ab", "b.txt"}, false},
		{"prefix", "one", "a/", "", 0, []string{"a/1", "a/10", "a/2"}, false},
		{"limit", "one", "", "", 2, []string{"a/1", "a/10"}, true},
		{"exact limit", "one", "a/", "", 3, []string{"a/1", "a/10", "a/2"}, false},
		{"start after", "one", "", "a/10", 0, []string{"a/2", "ab", "b.txt"}, false},
		{"start after before prefix", "one", "b", "a", 0, []string{"b.txt"}, false},
		{"empty bucket", "empty", "", "", 0, nil, false},
	}
	for _, tt := range tests {
		got, truncated, err := s.ListObjectMeta(tt.bucket, tt.prefix, tt.startAfter, tt.limit)
		if err != nil {
			t.Errorf("%s: %v", tt.name, err)
			continue
		}
		var keys []string
		for _, m := range got {
			keys = append(keys, m.Key)
		}
		if len(keys) != len(tt.want) {
			t.Errorf("%s: got %v, want %v", tt.name, keys, tt.want)
			continue
		}
		for i := range keys {
			if keys[i] != tt.want[i] {
				t.Errorf("%s: got %v, want %v", tt.name, keys, tt.want)
				break
			}
		}
		if truncated != tt.truncated {
			t.Errorf("%s: truncated=%v, want %v", tt.name, truncated, tt.truncated)
		}
	}

	if _, _, err := s.ListObjectMeta("missing", "", "", 0); !errors.Is(err, ErrBucketNotFound) {
		t.Errorf("missing bucket: got %v", err)
	}
}

func TestStore_DeleteBucketRemovesObjects(t *testing.T) {
	s := newTestStore(t)
	putMeta(t, s, "doomed", "x", 1)
	putMeta(t, s, "doomed", "y/z", 2)
	putMeta(t, s, "doomed-not", "x", 3)

	removed, err := s.DeleteBucket("doomed")
	if err != nil {
		t.Fatalf("DeleteBucket: %v", err)
	}
	if len(removed) != 2 {
		t.Errorf("expected 2 removed records, got %d", len(removed))
	}
	if _, err := s.GetObjectMeta("doomed", "x"); !errors.Is(err, ErrObjectNotFound) {
		t.Error("object record survived bucket delete")
	}
	if _, err := s.GetObjectMeta("doomed-not", "x"); err != nil {
		t.Errorf("neighbouring bucket affected: %v", err)
	}
}

func TestStore_ScanAndStats(t *testing.T) {
	s := newTestStore(t)
	putMeta(t, s, "b1", "k1", 10)
	putMeta(t, s, "b1", "k2", 20)
	putMeta(t, s, "b2", "k1", 5)

	seen := 0
	if err := s.ScanObjects(func(ObjectMeta) bool { seen++; return seen < 2 }); err != nil {
		t.Fatalf("ScanObjects: %v", err)
	}
	if seen != 2 {
		t.Errorf("scan should stop after 2, saw %d", seen)
	}

	buckets, objects, total, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if buckets != 2 || objects != 3 || total != 35 {
		t.Errorf("Stats: got %d buckets, %d objects, %d bytes", buckets, objects, total)
	}
	if err := s.Ping(); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestNewStore_InvalidPath(t *testing.T) {
	_, err := NewStore(filepath.Join(os.DevNull, "nonexistent", "test.db"))
	if err == nil {
		t.Error("expected error for invalid path")
	}
}
