package metadata

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketsBucket = []byte("buckets")
	objectsBucket = []byte("objects")
)

var (
	ErrBucketNotFound = errors.New("bucket not found")
	ErrObjectNotFound = errors.New("object metadata not found")
)

var errStopScan = errors.New("scan stopped")

type Store struct {
	db *bolt.DB
}

type BucketInfo struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// ObjectMeta is the sidecar record for one object. BlobID names the
// immutable body file the record points at.
type ObjectMeta struct {
	Bucket       string    `json:"bucket"`
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	Fingerprint  string    `json:"fingerprint"`
	ContentType  string    `json:"content_type"`
	BlobID       string    `json:"blob_id"`
	Created      time.Time `json:"created"`
	LastModified time.Time `json:"last_modified"`
}

func NewStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open metadata db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketsBucket, objectsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init metadata buckets: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is open and readable.
func (s *Store) Ping() error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketsBucket) == nil {
			return errors.New("metadata schema missing")
		}
		return nil
	})
}

// Bucket operations

// CreateBucket records a bucket. It reports false when the bucket already existed.
func (s *Store) CreateBucket(name string) (bool, error) {
	created := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		created, err = ensureBucket(tx, name)
		return err
	})
	return created, err
}

func ensureBucket(tx *bolt.Tx, name string) (bool, error) {
	b := tx.Bucket(bucketsBucket)
	if b.Get([]byte(name)) != nil {
		return false, nil
	}
	data, err := json.Marshal(BucketInfo{Name: name, CreatedAt: time.Now().UTC()})
	if err != nil {
		return false, err
	}
	return true, b.Put([]byte(name), data)
}

// DeleteBucket removes the bucket record and every object record in it in a
// single transaction, returning the removed object records.
func (s *Store) DeleteBucket(name string) ([]ObjectMeta, error) {
	var removed []ObjectMeta
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketsBucket)
		if b.Get([]byte(name)) == nil {
			return ErrBucketNotFound
		}
		if err := b.Delete([]byte(name)); err != nil {
			return err
		}

		objs := tx.Bucket(objectsBucket)
		prefix := bucketPrefix(name)
		c := objs.Cursor()
		var keys [][]byte
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var meta ObjectMeta
			if err := json.Unmarshal(v, &meta); err == nil {
				removed = append(removed, meta)
			}
			keys = append(keys, append([]byte{}, k...))
		}
		for _, k := range keys {
			if err := objs.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (s *Store) GetBucket(name string) (*BucketInfo, error) {
	var info *BucketInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketsBucket).Get([]byte(name))
		if data == nil {
			return ErrBucketNotFound
		}
		info = &BucketInfo{}
		return json.Unmarshal(data, info)
	})
	return info, err
}

// ListBuckets returns all buckets ordered by name.
func (s *Store) ListBuckets() ([]BucketInfo, error) {
	var buckets []BucketInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketsBucket).ForEach(func(k, v []byte) error {
			var info BucketInfo
			if err := json.Unmarshal(v, &info); err != nil {
				return err
			}
			buckets = append(buckets, info)
			return nil
		})
	})
	return buckets, err
}

func (s *Store) BucketExists(name string) bool {
	exists := false
	s.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(bucketsBucket).Get([]byte(name)) != nil
		return nil
	})
	return exists
}

// Object metadata operations

func bucketPrefix(bucket string) []byte {
	return []byte(bucket + "/")
}

func objectMetaKey(bucket, key string) []byte {
	return []byte(bucket + "/" + key)
}

// PutObjectMeta commits meta, creating its bucket record if needed, and
// returns the record it replaced (nil if none). An overwrite keeps the
// original Created time.
func (s *Store) PutObjectMeta(meta ObjectMeta) (*ObjectMeta, error) {
	var prev *ObjectMeta
	err := s.db.Update(func(tx *bolt.Tx) error {
		if _, err := ensureBucket(tx, meta.Bucket); err != nil {
			return err
		}
		b := tx.Bucket(objectsBucket)
		k := objectMetaKey(meta.Bucket, meta.Key)
		if old := b.Get(k); old != nil {
			prev = &ObjectMeta{}
			if err := json.Unmarshal(old, prev); err != nil {
				return fmt.Errorf("decode previous metadata: %w", err)
			}
			if !prev.Created.IsZero() {
				meta.Created = prev.Created
			}
		}
		data, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		return b.Put(k, data)
	})
	if err != nil {
		return nil, err
	}
	return prev, nil
}

func (s *Store) GetObjectMeta(bucket, key string) (*ObjectMeta, error) {
	var meta *ObjectMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(objectsBucket).Get(objectMetaKey(bucket, key))
		if data == nil {
			return ErrObjectNotFound
		}
		meta = &ObjectMeta{}
		return json.Unmarshal(data, meta)
	})
	return meta, err
}

// DeleteObjectMeta removes a record and returns it, or nil when there was nothing to remove.
func (s *Store) DeleteObjectMeta(bucket, key string) (*ObjectMeta, error) {
	var removed *ObjectMeta
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(objectsBucket)
		k := objectMetaKey(bucket, key)
		data := b.Get(k)
		if data == nil {
			return nil
		}
		removed = &ObjectMeta{}
		if err := json.Unmarshal(data, removed); err != nil {
			return err
		}
		return b.Delete(k)
	})
	return removed, err
}

// ListObjectMeta returns the records in bucket whose key starts with prefix,
// in ascending byte order of key, beginning after startAfter. When limit > 0
// at most limit records are returned and the bool reports whether more exist.
func (s *Store) ListObjectMeta(bucket, prefix, startAfter string, limit int) ([]ObjectMeta, bool, error) {
	var (
		result    []ObjectMeta
		truncated bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketsBucket).Get([]byte(bucket)) == nil {
			return ErrBucketNotFound
		}
		full := objectMetaKey(bucket, prefix)
		seek := full
		if startAfter != "" {
			if after := objectMetaKey(bucket, startAfter); bytes.Compare(after, seek) > 0 {
				seek = after
			}
		}
		c := tx.Bucket(objectsBucket).Cursor()
		for k, v := c.Seek(seek); k != nil && bytes.HasPrefix(k, full); k, v = c.Next() {
			if startAfter != "" && string(k) == string(objectMetaKey(bucket, startAfter)) {
				continue
			}
			if limit > 0 && len(result) == limit {
				truncated = true
				return nil
			}
			var meta ObjectMeta
			if err := json.Unmarshal(v, &meta); err != nil {
				continue // skip malformed entries
			}
			result = append(result, meta)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, truncated, nil
}

// ScanObjects iterates all object metadata entries. Return false from fn to stop.
func (s *Store) ScanObjects(fn func(ObjectMeta) bool) error {
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(objectsBucket).ForEach(func(k, v []byte) error {
			var meta ObjectMeta
			if err := json.Unmarshal(v, &meta); err != nil {
				return nil
			}
			if !fn(meta) {
				return errStopScan
			}
			return nil
		})
	})
	if errors.Is(err, errStopScan) {
		return nil
	}
	return err
}

// Stats returns the number of buckets and objects and the total stored bytes.
func (s *Store) Stats() (buckets, objects int, totalBytes int64, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		buckets = tx.Bucket(bucketsBucket).Stats().KeyN
		return tx.Bucket(objectsBucket).ForEach(func(_, v []byte) error {
			var meta ObjectMeta
			if json.Unmarshal(v, &meta) == nil {
				objects++
				totalBytes += meta.Size
			}
			return nil
		})
	})
	return
}
