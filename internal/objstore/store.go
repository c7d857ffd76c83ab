// Package objstore is the content store shared by every protocol adapter.
// It owns all access to object bodies and their metadata records and
// serializes writes per key.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/eniz1806/omnistore/internal/fingerprint"
	"github.com/eniz1806/omnistore/internal/metadata"
	"github.com/eniz1806/omnistore/internal/storage"
)

// Metadata is the sidecar record store the content store commits to.
type Metadata interface {
	CreateBucket(name string) (bool, error)
	DeleteBucket(name string) ([]metadata.ObjectMeta, error)
	GetBucket(name string) (*metadata.BucketInfo, error)
	ListBuckets() ([]metadata.BucketInfo, error)
	PutObjectMeta(meta metadata.ObjectMeta) (*metadata.ObjectMeta, error)
	GetObjectMeta(bucket, key string) (*metadata.ObjectMeta, error)
	DeleteObjectMeta(bucket, key string) (*metadata.ObjectMeta, error)
	ListObjectMeta(bucket, prefix, startAfter string, limit int) ([]metadata.ObjectMeta, bool, error)
	ScanObjects(fn func(metadata.ObjectMeta) bool) error
	Stats() (buckets, objects int, totalBytes int64, err error)
	Ping() error
}

const defaultContentType = "application/octet-stream"

type Options struct {
	Fingerprint fingerprint.Algorithm
	Logger      *slog.Logger
}

type Store struct {
	engine  storage.Engine
	meta    Metadata
	alg     fingerprint.Algorithm
	logger  *slog.Logger
	keys    *lockTable
	buckets *lockTable
	blobs   *blobGuard

	listeners []func(Event)
}

func New(engine storage.Engine, meta Metadata, opts Options) *Store {
	if opts.Fingerprint == "" {
		opts.Fingerprint = fingerprint.Default
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		engine:  engine,
		meta:    meta,
		alg:     opts.Fingerprint,
		logger:  opts.Logger,
		keys:    newLockTable(),
		buckets: newLockTable(),
		blobs:   newBlobGuard(),
	}
}

// Algorithm returns the fingerprint algorithm used for stored bodies.
func (s *Store) Algorithm() fingerprint.Algorithm { return s.alg }

// ValidBucketName reports whether name is usable as a bucket: 1 to 63
// characters from [a-zA-Z0-9._-], not starting with a dot.
func ValidBucketName(name string) bool {
	if len(name) < 1 || len(name) > 63 || name[0] == '.' {
		return false
	}
	for _, c := range name {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
			c == '-' || c == '.' || c == '_') {
			return false
		}
	}
	return true
}

func validKey(key string) bool {
	return key != "" && len(key) <= 1024 && !strings.ContainsRune(key, 0)
}

func checkNames(bucket, key string) error {
	if !ValidBucketName(bucket) {
		return fmt.Errorf("%w: invalid bucket name %q", ErrBadRequest, bucket)
	}
	if !validKey(key) {
		return fmt.Errorf("%w: invalid object key", ErrBadRequest)
	}
	return nil
}

func lockName(bucket, key string) string {
	return bucket + "/" + key
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageIO, op, err)
}

// DetectContentType returns declared unless it is empty or the generic
// binary type, in which case the key's extension decides.
func DetectContentType(declared, key string) string {
	if declared != "" && declared != defaultContentType {
		return declared
	}
	if detected := mime.TypeByExtension(filepath.Ext(key)); detected != "" {
		return detected
	}
	return defaultContentType
}

// Bucket operations

// CreateBucket creates a bucket. It reports false when it already existed.
func (s *Store) CreateBucket(ctx context.Context, name string) (bool, error) {
	if !ValidBucketName(name) {
		return false, fmt.Errorf("%w: invalid bucket name %q", ErrBadRequest, name)
	}
	unlock := s.buckets.Lock(name)
	defer unlock()

	if err := s.engine.CreateBucketDir(name); err != nil {
		return false, storageErr("create bucket dir", err)
	}
	created, err := s.meta.CreateBucket(name)
	if err != nil {
		return false, storageErr("create bucket", err)
	}
	if created {
		s.logger.Info("bucket created", "bucket", name)
		s.emit(Event{Type: EventBucketCreated, Bucket: name})
	}
	return created, nil
}

// DeleteBucket removes a bucket and everything in it. The metadata for the
// bucket and all its objects goes in one transaction, so callers see the
// bucket either fully present or fully gone. Deleting a missing bucket
// reports false without error.
func (s *Store) DeleteBucket(ctx context.Context, name string) (bool, error) {
	if !ValidBucketName(name) {
		return false, fmt.Errorf("%w: invalid bucket name %q", ErrBadRequest, name)
	}
	unlock := s.buckets.Lock(name)
	removed, err := s.meta.DeleteBucket(name)
	if err != nil {
		unlock()
		if errors.Is(err, metadata.ErrBucketNotFound) {
			return false, nil
		}
		return false, storageErr("delete bucket", err)
	}
	if err := s.engine.DeleteBucketDir(name); err != nil {
		// Records are gone; leftover blobs are unreferenced and swept later.
		s.logger.Warn("bucket dir cleanup failed", "bucket", name, "error", err)
	}
	unlock()

	s.logger.Info("bucket deleted", "bucket", name, "objects", len(removed))
	for _, m := range removed {
		s.emit(Event{Type: EventObjectRemoved, Bucket: m.Bucket, Key: m.Key, Size: m.Size, Fingerprint: m.Fingerprint})
	}
	s.emit(Event{Type: EventBucketRemoved, Bucket: name})
	return true, nil
}

// ListBuckets returns all buckets ordered by name.
func (s *Store) ListBuckets(ctx context.Context) ([]metadata.BucketInfo, error) {
	buckets, err := s.meta.ListBuckets()
	if err != nil {
		return nil, storageErr("list buckets", err)
	}
	return buckets, nil
}

func (s *Store) HeadBucket(ctx context.Context, name string) (metadata.BucketInfo, error) {
	info, err := s.meta.GetBucket(name)
	if err != nil {
		if errors.Is(err, metadata.ErrBucketNotFound) {
			return metadata.BucketInfo{}, ErrBucketNotFound
		}
		return metadata.BucketInfo{}, storageErr("get bucket", err)
	}
	return *info, nil
}

// Object operations

// Put stores the body read from r under (bucket, key), creating the bucket
// if needed. size is the declared body length, or -1 if unknown; a body
// that ends early is rejected and leaves any previous object untouched.
//
// The body is streamed to an immutable blob while hashed, then the metadata
// record naming that blob is committed under the key's write lock, and only
// then is the previous blob removed. If the commit fails the new blob is
// removed and the previous object stays current.
func (s *Store) Put(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) (metadata.ObjectMeta, error) {
	if err := checkNames(bucket, key); err != nil {
		return metadata.ObjectMeta{}, err
	}
	if err := ctx.Err(); err != nil {
		return metadata.ObjectMeta{}, err
	}

	unlockBucket := s.buckets.RLock(bucket)
	defer unlockBucket()

	blob, err := s.engine.WriteBlob(bucket, r, size, s.alg)
	if err != nil {
		if errors.Is(err, storage.ErrIncomplete) {
			return metadata.ObjectMeta{}, fmt.Errorf("%w: %w", ErrBadRequest, err)
		}
		return metadata.ObjectMeta{}, storageErr("write body", err)
	}
	s.blobs.add(bucket, blob.ID)
	defer s.blobs.done(bucket, blob.ID)
	if err := ctx.Err(); err != nil {
		s.discardBlob(bucket, blob.ID)
		return metadata.ObjectMeta{}, err
	}

	now := time.Now().UTC()
	meta := metadata.ObjectMeta{
		Bucket:       bucket,
		Key:          key,
		Size:         blob.Size,
		Fingerprint:  blob.Fingerprint,
		ContentType:  DetectContentType(contentType, key),
		BlobID:       blob.ID,
		Created:      now,
		LastModified: now,
	}

	unlockKey := s.keys.Lock(lockName(bucket, key))
	prev, err := s.meta.PutObjectMeta(meta)
	if err != nil {
		unlockKey()
		s.discardBlob(bucket, blob.ID)
		s.logger.Error("metadata commit failed", "bucket", bucket, "key", key, "error", err)
		return metadata.ObjectMeta{}, storageErr("commit metadata", err)
	}
	if prev != nil {
		if !prev.Created.IsZero() {
			meta.Created = prev.Created
		}
		if prev.BlobID != "" && prev.BlobID != blob.ID {
			if err := s.engine.RemoveBlob(bucket, prev.BlobID); err != nil {
				s.logger.Warn("previous blob cleanup failed", "bucket", bucket, "key", key, "error", err)
			}
		}
	}
	unlockKey()

	s.logger.Debug("object stored", "bucket", bucket, "key", key, "size", meta.Size)
	s.emit(Event{Type: EventObjectCreated, Bucket: bucket, Key: key, Size: meta.Size, Fingerprint: meta.Fingerprint, Time: now})
	return meta, nil
}

func (s *Store) discardBlob(bucket, id string) {
	if err := s.engine.RemoveBlob(bucket, id); err != nil {
		s.logger.Warn("discard blob failed", "bucket", bucket, "error", err)
	}
}

// Head returns the metadata record for (bucket, key).
func (s *Store) Head(ctx context.Context, bucket, key string) (metadata.ObjectMeta, error) {
	if err := checkNames(bucket, key); err != nil {
		if !ValidBucketName(bucket) {
			return metadata.ObjectMeta{}, ErrBucketNotFound
		}
		return metadata.ObjectMeta{}, ErrNotFound
	}
	meta, err := s.meta.GetObjectMeta(bucket, key)
	if err != nil {
		if errors.Is(err, metadata.ErrObjectNotFound) {
			return metadata.ObjectMeta{}, ErrNotFound
		}
		return metadata.ObjectMeta{}, storageErr("read metadata", err)
	}
	return *meta, nil
}

// Reader is an open object body. It holds the key's read lock until Close,
// so the body cannot be replaced while it is being read.
type Reader struct {
	storage.ReadSeekCloser
	once    sync.Once
	release func()
}

func (r *Reader) Close() error {
	err := r.ReadSeekCloser.Close()
	r.once.Do(r.release)
	return err
}

// Get opens the current body of (bucket, key). The caller must Close the reader.
func (s *Store) Get(ctx context.Context, bucket, key string) (metadata.ObjectMeta, *Reader, error) {
	if err := checkNames(bucket, key); err != nil {
		return metadata.ObjectMeta{}, nil, ErrNotFound
	}
	unlock := s.keys.RLock(lockName(bucket, key))

	meta, err := s.meta.GetObjectMeta(bucket, key)
	if err != nil {
		unlock()
		if errors.Is(err, metadata.ErrObjectNotFound) {
			return metadata.ObjectMeta{}, nil, ErrNotFound
		}
		return metadata.ObjectMeta{}, nil, storageErr("read metadata", err)
	}
	f, size, err := s.engine.OpenBlob(bucket, meta.BlobID)
	if err != nil {
		unlock()
		if errors.Is(err, storage.ErrBlobNotFound) && s.recordGone(bucket, key, meta.BlobID) {
			// Removed by a bucket delete after the record was read.
			return metadata.ObjectMeta{}, nil, ErrNotFound
		}
		s.logger.Error("metadata references unreadable body", "bucket", bucket, "key", key, "error", err)
		return metadata.ObjectMeta{}, nil, storageErr("open body", err)
	}
	if size != meta.Size {
		f.Close()
		unlock()
		s.logger.Error("body size disagrees with metadata", "bucket", bucket, "key", key,
			"stored", size, "recorded", meta.Size)
		return metadata.ObjectMeta{}, nil, storageErr("open body", errors.New("size mismatch"))
	}
	return *meta, &Reader{ReadSeekCloser: f, release: unlock}, nil
}

// recordGone reports whether (bucket, key) no longer names blobID.
func (s *Store) recordGone(bucket, key, blobID string) bool {
	cur, err := s.meta.GetObjectMeta(bucket, key)
	if errors.Is(err, metadata.ErrObjectNotFound) || errors.Is(err, metadata.ErrBucketNotFound) {
		return true
	}
	return err == nil && cur.BlobID != blobID
}

// CheckRange validates an inclusive byte window against an object size.
func CheckRange(start, end, size int64) error {
	if start < 0 || start > end || end >= size {
		return fmt.Errorf("%w: bytes %d-%d of %d", ErrRangeNotSatisfiable, start, end, size)
	}
	return nil
}

// OpenRange opens the inclusive window [start, end] of an object's body.
func (s *Store) OpenRange(ctx context.Context, bucket, key string, start, end int64) (metadata.ObjectMeta, io.ReadCloser, error) {
	meta, r, err := s.Get(ctx, bucket, key)
	if err != nil {
		return metadata.ObjectMeta{}, nil, err
	}
	if err := CheckRange(start, end, meta.Size); err != nil {
		r.Close()
		return metadata.ObjectMeta{}, nil, err
	}
	if _, err := r.Seek(start, io.SeekStart); err != nil {
		r.Close()
		return metadata.ObjectMeta{}, nil, storageErr("seek body", err)
	}
	return meta, rangeReader{Reader: io.LimitReader(r, end-start+1), Closer: r}, nil
}

type rangeReader struct {
	io.Reader
	io.Closer
}

// GetRange returns the inclusive window [start, end] of an object's body.
func (s *Store) GetRange(ctx context.Context, bucket, key string, start, end int64) ([]byte, error) {
	_, r, err := s.OpenRange(ctx, bucket, key, start, end)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	buf := make([]byte, end-start+1)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, storageErr("read range", err)
	}
	return buf, nil
}

// Delete removes (bucket, key). It reports whether an object was removed;
// deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, bucket, key string) (bool, error) {
	if err := checkNames(bucket, key); err != nil {
		return false, nil
	}
	unlockBucket := s.buckets.RLock(bucket)
	defer unlockBucket()

	unlockKey := s.keys.Lock(lockName(bucket, key))
	removed, err := s.meta.DeleteObjectMeta(bucket, key)
	if err != nil {
		unlockKey()
		return false, storageErr("delete metadata", err)
	}
	if removed == nil {
		unlockKey()
		return false, nil
	}
	if err := s.engine.RemoveBlob(bucket, removed.BlobID); err != nil {
		s.logger.Warn("blob cleanup failed", "bucket", bucket, "key", key, "error", err)
	}
	unlockKey()

	s.emit(Event{Type: EventObjectRemoved, Bucket: bucket, Key: key, Size: removed.Size, Fingerprint: removed.Fingerprint})
	return true, nil
}

// ListOptions narrows a listing. MaxKeys <= 0 means no limit.
type ListOptions struct {
	Prefix     string
	StartAfter string
	MaxKeys    int
}

type ListResult struct {
	Objects   []metadata.ObjectMeta
	Truncated bool
}

// List returns every object in bucket whose key starts with prefix, in
// ascending byte order of key.
func (s *Store) List(ctx context.Context, bucket, prefix string) ([]metadata.ObjectMeta, error) {
	res, err := s.ListPage(ctx, bucket, ListOptions{Prefix: prefix})
	if err != nil {
		return nil, err
	}
	return res.Objects, nil
}

// ListPage is List with start-after and a page size.
func (s *Store) ListPage(ctx context.Context, bucket string, opts ListOptions) (ListResult, error) {
	if !ValidBucketName(bucket) {
		return ListResult{}, ErrBucketNotFound
	}
	objs, truncated, err := s.meta.ListObjectMeta(bucket, opts.Prefix, opts.StartAfter, opts.MaxKeys)
	if err != nil {
		if errors.Is(err, metadata.ErrBucketNotFound) {
			return ListResult{}, ErrBucketNotFound
		}
		return ListResult{}, storageErr("list objects", err)
	}
	return ListResult{Objects: objs, Truncated: truncated}, nil
}

// Stats reports totals for metrics.
func (s *Store) Stats() (buckets, objects int, totalBytes int64, err error) {
	return s.meta.Stats()
}

// Ping checks that the metadata store is usable.
func (s *Store) Ping() error {
	return s.meta.Ping()
}
