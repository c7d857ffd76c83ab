// Package facade exposes the content store over S3, Azure Blob, Google
// Cloud Storage and WebDAV wire formats. Every protocol goes through the
// same dispatch table and the same canonical operations; only path grammar
// and response encoding differ.
package facade

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"github.com/eniz1806/omnistore/internal/middleware"
	"github.com/eniz1806/omnistore/internal/objstore"
)

const (
	corsAllowHeaders  = "Content-Type,Authorization,Range,If-Range,x-amz-date,x-amz-content-sha256"
	corsAllowMethods  = "GET,PUT,POST,DELETE,HEAD,OPTIONS,PROPFIND,MKCOL"
	corsExposeHeaders = "ETag,Content-Length,Content-Range,Accept-Ranges"
)

// RequestInfo describes one completed facade request.
type RequestInfo struct {
	Time      time.Time
	RequestID string
	Method    string
	Protocol  Protocol
	Op        Op
	Bucket    string
	Key       string
	Status    int
	BytesIn   int64
	BytesOut  int64
	Duration  time.Duration
	ClientIP  string
}

// Observer is told about every request after its response is written.
type Observer interface {
	ObserveRequest(info RequestInfo)
}

type Options struct {
	Logger *slog.Logger
	// Compression enables transparent gzip of full GET responses for
	// clients that accept it. Range responses are never compressed.
	Compression        bool
	CompressionMinSize int
	Observer           Observer
}

type Handler struct {
	store    *objstore.Store
	logger   *slog.Logger
	gzip     func(http.Handler) http.HandlerFunc
	observer Observer
	started  time.Time
}

func New(store *objstore.Store, opts Options) (*Handler, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	h := &Handler{
		store:    store,
		logger:   opts.Logger,
		observer: opts.Observer,
		started:  time.Now(),
	}
	if opts.Compression {
		minSize := opts.CompressionMinSize
		if minSize <= 0 {
			minSize = gzhttp.DefaultMinSize
		}
		wrap, err := gzhttp.NewWrapper(gzhttp.MinSize(minSize), gzhttp.KeepAcceptRanges())
		if err != nil {
			return nil, fmt.Errorf("compression: %w", err)
		}
		h.gzip = wrap
	}
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	setCORSHeaders(w.Header())

	rec := middleware.NewStatusRecorder(w)
	body := &countingBody{ReadCloser: r.Body}
	if r.Body != nil {
		r.Body = body
	}

	a, t, op, how := resolve(r)
	var next http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.dispatch(w, r, a, t, op, how)
	})
	// Ranged responses must carry the exact stored bytes of their window.
	if h.gzip != nil && r.Method == http.MethodGet && r.Header.Get("Range") == "" {
		next = h.gzip(next)
	}
	next.ServeHTTP(rec, r)

	if h.observer != nil {
		h.observer.ObserveRequest(RequestInfo{
			Time:      start,
			RequestID: w.Header().Get("X-Request-Id"),
			Method:    r.Method,
			Protocol:  a.protocol,
			Op:        op,
			Bucket:    t.bucket,
			Key:       t.key,
			Status:    rec.Status(),
			BytesIn:   body.n,
			BytesOut:  rec.Written(),
			Duration:  time.Since(start),
			ClientIP:  clientIP(r),
		})
	}
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, a *adapter, t target, op Op, how resolution) {
	if r.Method == http.MethodOptions {
		h.options(w, a)
		return
	}

	res := &Result{Op: op, Protocol: a.protocol, Bucket: t.bucket, Key: t.key}
	switch how {
	case unknownPath:
		res.Err = errUnknownPath
		a.enc.encode(w, r, res)
		return
	case unmappedMethod:
		res.Err = fmt.Errorf("%w: %s", errMethodNotAllowed, r.Method)
		a.enc.encode(w, r, res)
		return
	}

	ctx := r.Context()
	switch op {
	case OpHealth:
		h.health(w, r)
		return
	case OpReady:
		h.ready(w, r)
		return
	case OpGetObject:
		h.serveObject(w, r, a, t, false)
		return
	case OpHeadObject:
		h.serveObject(w, r, a, t, true)
		return
	case OpListBuckets:
		res.Depth = a.enc.listRequest(r).depth
		res.Buckets, res.Err = h.store.ListBuckets(ctx)
	case OpCreateBucket:
		h.createBucket(r, a, t, res)
	case OpDeleteBucket:
		res.Removed, res.Err = h.store.DeleteBucket(ctx, t.bucket)
	case OpHeadBucket:
		info, err := h.store.HeadBucket(ctx, t.bucket)
		res.Info, res.Err = &info, err
	case OpListObjects:
		h.listObjects(r, a, t, res)
	case OpPutObject:
		h.putObject(r, t, res)
	case OpDeleteObject:
		res.Removed, res.Err = h.store.Delete(ctx, t.bucket, t.key)
		if res.Err == nil && !res.Removed {
			res.Err = objstore.ErrNotFound
		}
	case OpDescribeObject:
		meta, err := h.store.Head(ctx, t.bucket, t.key)
		res.Object, res.Err = &meta, err
	}

	if res.Err != nil && classify(res.Err) == kindInternal {
		h.logger.Error("request failed", "protocol", a.protocol, "op", op,
			"bucket", t.bucket, "key", t.key, "error", res.Err)
	}
	a.enc.encode(w, r, res)
}

func (h *Handler) options(w http.ResponseWriter, a *adapter) {
	if a.protocol == ProtoWebDAV {
		w.Header().Set("DAV", "1, 2")
		w.Header().Set("Allow", "OPTIONS, GET, HEAD, PUT, DELETE, PROPFIND, MKCOL")
	}
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusOK)
}

func setCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
	h.Set("Access-Control-Allow-Methods", corsAllowMethods)
	h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
}

type countingBody struct {
	io.ReadCloser
	n int64
}

func (c *countingBody) Read(p []byte) (int, error) {
	n, err := c.ReadCloser.Read(p)
	c.n += int64(n)
	return n, err
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
