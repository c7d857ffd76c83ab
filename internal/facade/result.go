package facade

import (
	"context"
	"errors"
	"net/http"

	"github.com/eniz1806/omnistore/internal/metadata"
	"github.com/eniz1806/omnistore/internal/objstore"
	"github.com/eniz1806/omnistore/internal/transfer"
)

var (
	errMethodNotAllowed = errors.New("method not allowed")
	errUnknownPath      = errors.New("no such resource")
	errCollectionExists = errors.New("collection already exists")
)

// Result is the canonical outcome of one operation. Every protocol encoder
// consumes the same Result and only decides how it looks on the wire.
type Result struct {
	Op       Op
	Protocol Protocol

	Bucket string
	Key    string

	Buckets []metadata.BucketInfo
	Info    *metadata.BucketInfo
	Objects []metadata.ObjectMeta
	Object  *metadata.ObjectMeta

	// Listing parameters as applied.
	Prefix     string
	StartAfter string
	MaxKeys    int
	Truncated  bool
	Depth      int

	// Created is true when a create or put made something new; Removed is
	// true when a delete found something to remove.
	Created bool
	Removed bool

	// Size is the object size used to build a 416 Content-Range.
	Size int64
	Err  error
}

// encoder renders Results in one protocol's wire format.
type encoder interface {
	encode(w http.ResponseWriter, r *http.Request, res *Result)
	// objectHeaders adds protocol-specific headers to body and HEAD responses.
	objectHeaders(h http.Header, meta metadata.ObjectMeta)
	// listRequest reads the protocol's listing parameters.
	listRequest(r *http.Request) listRequest
}

// listRequest is a listing as the client asked for it. depth is only
// meaningful for WebDAV and is 1 everywhere else.
type listRequest struct {
	opts  objstore.ListOptions
	depth int
}

// errorKind collapses the error taxonomy to the classes every encoder maps.
type errorKind int

const (
	kindInternal errorKind = iota
	kindNoSuchKey
	kindNoSuchBucket
	kindBadRequest
	kindRange
	kindMethod
	kindConflict
)

func classify(err error) errorKind {
	switch {
	case errors.Is(err, objstore.ErrNotFound), errors.Is(err, errUnknownPath):
		return kindNoSuchKey
	case errors.Is(err, objstore.ErrBucketNotFound):
		return kindNoSuchBucket
	case errors.Is(err, objstore.ErrRangeNotSatisfiable), errors.Is(err, transfer.ErrUnsatisfiable):
		return kindRange
	case errors.Is(err, objstore.ErrBadRequest), errors.Is(err, transfer.ErrMalformedRange),
		errors.Is(err, transfer.ErrMultiRange):
		return kindBadRequest
	case errors.Is(err, errMethodNotAllowed):
		return kindMethod
	case errors.Is(err, errCollectionExists):
		return kindConflict
	}
	return kindInternal
}

func statusFor(err error) int {
	switch classify(err) {
	case kindNoSuchKey, kindNoSuchBucket:
		return http.StatusNotFound
	case kindRange:
		return http.StatusRequestedRangeNotSatisfiable
	case kindBadRequest:
		return http.StatusBadRequest
	case kindMethod, kindConflict:
		return http.StatusMethodNotAllowed
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// publicMessage is the text sent to clients. Internal failures get a fixed
// message so wrapped details such as file paths never leave the server.
func publicMessage(err error) string {
	switch classify(err) {
	case kindInternal:
		return "internal storage error"
	case kindNoSuchKey:
		return "the specified object does not exist"
	case kindNoSuchBucket:
		return "the specified bucket does not exist"
	case kindRange:
		return "the requested range is not satisfiable"
	}
	return err.Error()
}
