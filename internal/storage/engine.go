package storage

import (
	"errors"
	"io"
	"time"

	"github.com/eniz1806/omnistore/internal/fingerprint"
)

// ErrIncomplete is returned when a body ends before its declared length or
// reading it fails part way.
var ErrIncomplete = errors.New("incomplete body")

// ErrBlobNotFound is returned when a blob file does not exist.
var ErrBlobNotFound = errors.New("blob not found")

// ReadSeekCloser is a seekable handle on a stored blob.
type ReadSeekCloser interface {
	io.Reader
	io.Seeker
	io.Closer
}

// Engine stores immutable object bodies ("blobs"). A blob is written once
// under a freshly generated id and never modified; replacing an object means
// writing a new blob and retiring the old one. Which blob is current for a
// key is recorded by the metadata layer, not here.
type Engine interface {
	// Bucket directories
	CreateBucketDir(bucket string) error
	DeleteBucketDir(bucket string) error
	BucketDirs() ([]string, error)

	// WriteBlob streams r into a new blob, hashing as it goes. When size is
	// non-negative the body must be exactly that long or ErrIncomplete is
	// returned and nothing is left behind.
	WriteBlob(bucket string, r io.Reader, size int64, alg fingerprint.Algorithm) (Blob, error)
	OpenBlob(bucket, id string) (ReadSeekCloser, int64, error)
	RemoveBlob(bucket, id string) error
	ListBlobs(bucket string) ([]BlobFile, error)
}

// Blob describes a freshly written body.
type Blob struct {
	ID          string
	Size        int64
	Fingerprint string
}

// BlobFile is a blob found on disk during a sweep.
type BlobFile struct {
	ID      string
	Size    int64
	ModTime time.Time
}
