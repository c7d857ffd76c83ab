package facade

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/eniz1806/omnistore/internal/fingerprint"
	"github.com/eniz1806/omnistore/internal/metadata"
	"github.com/eniz1806/omnistore/internal/objstore"
	"github.com/eniz1806/omnistore/internal/transfer"
)

// serveObject streams an object body, or only its headers for HEAD. A
// single byte range is honored; If-Range with a stale validator falls back
// to the full body so a resuming client never splices two versions.
func (h *Handler) serveObject(w http.ResponseWriter, r *http.Request, a *adapter, t target, headOnly bool) {
	op := OpGetObject
	if headOnly {
		op = OpHeadObject
	}
	meta, body, err := h.store.Get(r.Context(), t.bucket, t.key)
	if err != nil {
		if classify(err) == kindInternal {
			h.logger.Error("open object failed", "protocol", a.protocol, "bucket", t.bucket, "key", t.key, "error", err)
		}
		a.enc.encode(w, r, &Result{Op: op, Protocol: a.protocol, Bucket: t.bucket, Key: t.key, Err: err})
		return
	}
	defer body.Close()

	hdr := w.Header()
	hdr.Set("ETag", fingerprint.Quote(meta.Fingerprint))
	hdr.Set("Last-Modified", meta.LastModified.UTC().Format(http.TimeFormat))
	hdr.Set("Content-Type", meta.ContentType)
	hdr.Set("Accept-Ranges", "bytes")
	a.enc.objectHeaders(hdr, meta)

	if headOnly {
		hdr.Set("Content-Length", strconv.FormatInt(meta.Size, 10))
		w.WriteHeader(http.StatusOK)
		return
	}

	if rh := r.Header.Get("Range"); rh != "" && ifRangeMatches(r.Header.Get("If-Range"), meta) {
		br, err := transfer.ParseRange(rh, meta.Size)
		if err != nil {
			if errors.Is(err, transfer.ErrUnsatisfiable) {
				hdr.Set("Content-Range", transfer.UnsatisfiedRange(meta.Size))
			}
			a.enc.encode(w, r, &Result{Op: op, Protocol: a.protocol, Bucket: t.bucket, Key: t.key, Size: meta.Size, Err: err})
			return
		}
		if _, err := body.Seek(br.Start, io.SeekStart); err != nil {
			a.enc.encode(w, r, &Result{Op: op, Protocol: a.protocol, Err: fmt.Errorf("%w: seek: %v", objstore.ErrStorageIO, err)})
			return
		}
		hdr.Set("Content-Range", transfer.ContentRange(br, meta.Size))
		hdr.Set("Content-Length", strconv.FormatInt(br.Length(), 10))
		w.WriteHeader(http.StatusPartialContent)
		if _, err := io.CopyN(w, body, br.Length()); err != nil {
			h.logger.Debug("range copy aborted", "bucket", t.bucket, "key", t.key, "error", err)
		}
		return
	}

	hdr.Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Debug("body copy aborted", "bucket", t.bucket, "key", t.key, "error", err)
	}
}

// ifRangeMatches reports whether a Range request may be honored given its
// If-Range validator. Only a strong ETag match or an unchanged date counts.
func ifRangeMatches(ifRange string, meta metadata.ObjectMeta) bool {
	ifRange = strings.TrimSpace(ifRange)
	if ifRange == "" {
		return true
	}
	if strings.HasPrefix(ifRange, "W/") {
		return false
	}
	if strings.HasPrefix(ifRange, `"`) {
		return fingerprint.Unquote(ifRange) == meta.Fingerprint
	}
	t, err := http.ParseTime(ifRange)
	if err != nil {
		return false
	}
	return !meta.LastModified.Truncate(time.Second).After(t)
}

type gcsBucketRequest struct {
	Name string `json:"name"`
}

func (h *Handler) createBucket(r *http.Request, a *adapter, t target, res *Result) {
	name := t.bucket
	if a.protocol == ProtoGCS && t.shape == ShapeRoot {
		var req gcsBucketRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
			res.Err = fmt.Errorf("%w: invalid bucket resource", objstore.ErrBadRequest)
			return
		}
		name = req.Name
		res.Bucket = name
	}
	if t.key != "" {
		res.Err = fmt.Errorf("%w: nested collections are not supported", objstore.ErrBadRequest)
		return
	}
	if reservedBuckets[name] {
		res.Err = fmt.Errorf("%w: bucket name %q is reserved", objstore.ErrBadRequest, name)
		return
	}
	res.Created, res.Err = h.store.CreateBucket(r.Context(), name)
	if res.Err == nil && !res.Created && a.protocol == ProtoWebDAV {
		res.Err = errCollectionExists
	}
	if res.Err == nil {
		info, err := h.store.HeadBucket(r.Context(), name)
		if err == nil {
			res.Info = &info
		}
	}
}

func (h *Handler) listObjects(r *http.Request, a *adapter, t target, res *Result) {
	lr := a.enc.listRequest(r)
	res.Prefix = lr.opts.Prefix
	res.StartAfter = lr.opts.StartAfter
	res.MaxKeys = lr.opts.MaxKeys
	res.Depth = lr.depth

	if lr.depth == 0 {
		info, err := h.store.HeadBucket(r.Context(), t.bucket)
		res.Info, res.Err = &info, err
		return
	}
	page, err := h.store.ListPage(r.Context(), t.bucket, lr.opts)
	if err != nil {
		res.Err = err
		return
	}
	res.Objects = page.Objects
	res.Truncated = page.Truncated
}

func (h *Handler) putObject(r *http.Request, t target, res *Result) {
	ct := r.Header.Get("x-ms-blob-content-type")
	if ct == "" {
		ct = r.Header.Get("Content-Type")
	}
	if reservedBuckets[t.bucket] {
		res.Err = fmt.Errorf("%w: bucket name %q is reserved", objstore.ErrBadRequest, t.bucket)
		return
	}
	meta, err := h.store.Put(r.Context(), t.bucket, t.key, r.Body, r.ContentLength, ct)
	if err != nil {
		res.Err = err
		return
	}
	res.Object = &meta
	res.Created = meta.Created.Equal(meta.LastModified)
}

// queryInt reads a positive integer query parameter, falling back to def
// and capping at max.
func queryInt(r *http.Request, name string, def, max int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}
