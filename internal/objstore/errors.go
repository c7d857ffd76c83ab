package objstore

import "errors"

var (
	ErrNotFound            = errors.New("object not found")
	ErrBucketNotFound      = errors.New("bucket not found")
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
	ErrBadRequest          = errors.New("bad request")

	// ErrStorageIO wraps local disk and metadata failures. Callers facing the
	// network should report it without the wrapped detail, which may name paths.
	ErrStorageIO = errors.New("storage i/o error")
)
