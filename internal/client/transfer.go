package client

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/klauspost/compress/gzip"

	"github.com/eniz1806/omnistore/internal/fingerprint"
	"github.com/eniz1806/omnistore/internal/transfer"
)

// Result describes a finished transfer.
type Result struct {
	Action transfer.Action
	// Bytes counts body bytes sent or received across all attempts.
	Bytes       int64
	Size        int64
	Fingerprint string
	Attempts    int
}

type UploadOptions struct {
	// Force uploads without probing for an identical remote object.
	Force       bool
	ContentType string
	Progress    ProgressFunc
}

type DownloadOptions struct {
	// NoResume discards any partial local file and starts from zero.
	NoResume bool
	Progress ProgressFunc
}

// countingReader counts bytes read and reports progress. The transport may
// still be reading an upload body after Do returns, so the count is atomic.
type countingReader struct {
	r     io.Reader
	n     atomic.Int64
	base  int64
	total int64
	fn    ProgressFunc
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		done := c.n.Add(int64(n))
		if c.fn != nil {
			c.fn(c.base+done, c.total)
		}
	}
	return n, err
}

func (c *Client) progressFor(p ProgressFunc) ProgressFunc {
	if p != nil {
		return p
	}
	return c.progress
}

// retryHook moves a machine through RETRY between attempts.
func retryHook(m *machine) func(int, error) {
	return func(_ int, err error) { m.to(StateRetry, err) }
}

// Upload sends a local file to bucket/key. An identical remote object
// (same size and fingerprint) is left alone and reported as Skip.
func (c *Client) Upload(ctx context.Context, localPath, bucket, key string, opts UploadOptions) (Result, error) {
	target := bucket + "/" + key
	m := newMachine("upload", target, c.onState)

	fp, size, err := c.alg.File(localPath)
	if err != nil {
		return Result{}, m.fail(fmt.Errorf("upload %s: %w", target, err))
	}
	res := Result{Action: transfer.Full, Size: size, Fingerprint: fp}

	m.to(StateProbe, nil)
	var remote *transfer.Object
	if !opts.Force {
		info, err := c.Head(ctx, bucket, key)
		switch {
		case err == nil:
			remote = &transfer.Object{Size: info.Size, Fingerprint: info.Fingerprint}
		case isNotFound(err):
		default:
			return res, m.fail(err)
		}
	}
	if d := transfer.DecideUpload(transfer.Object{Size: size, Fingerprint: fp}, remote); d.Action == transfer.Skip {
		m.to(StateSkip, nil)
		m.to(StateDone, nil)
		c.logger.Debug("upload skipped", "target", target, "reason", d.Reason)
		res.Action = transfer.Skip
		return res, nil
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(localPath))
	}
	progress := c.progressFor(opts.Progress)
	var serverFP string

	m.to(StateTransfer, nil)
	attempts, err := c.retry(ctx, "upload", target, retryHook(m), func(ctx context.Context) error {
		if m.state == StateRetry {
			m.to(StateTransfer, nil)
		}
		f, err := os.Open(localPath)
		if err != nil {
			return err
		}
		defer f.Close()

		body := &countingReader{r: f, total: size, fn: progress}
		var rd io.Reader = body
		if size == 0 {
			rd = http.NoBody
		}
		req, err := c.newRequest(ctx, http.MethodPut, c.objectURL(bucket, key, nil), rd)
		if err != nil {
			return err
		}
		req.ContentLength = size
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		resp, err := c.http.Do(req)
		defer func() { res.Bytes += body.n.Load() }()
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		default:
			return c.statusError("upload", target, resp)
		}
		io.Copy(io.Discard, resp.Body)
		serverFP = fingerprint.Unquote(resp.Header.Get("ETag"))
		return nil
	})
	res.Attempts = attempts
	if err != nil {
		return res, m.fail(err)
	}

	m.to(StateVerify, nil)
	after, afterSize, err := c.alg.File(localPath)
	if err != nil {
		return res, m.fail(fmt.Errorf("upload %s: verify: %w", target, err))
	}
	mismatch := func(serverSize int64) error {
		return m.fail(fmt.Errorf("upload %s: %w: local %s (%d bytes), server %s (%d bytes)",
			target, ErrIntegrityMismatch, after, afterSize, serverFP, serverSize))
	}
	if serverFP != "" && !fingerprint.Same(afterSize, after, afterSize, serverFP) {
		return res, mismatch(-1)
	}
	// The PUT response carries no size, so the stored record supplies it.
	info, err := c.Head(ctx, bucket, key)
	if err != nil {
		return res, m.fail(fmt.Errorf("upload %s: verify: %w", target, err))
	}
	if serverFP == "" {
		serverFP = info.Fingerprint
	}
	if !fingerprint.Same(afterSize, after, info.Size, serverFP) {
		return res, mismatch(info.Size)
	}
	res.Fingerprint, res.Size = after, afterSize
	m.to(StateDone, nil)
	return res, nil
}

// Download fetches bucket/key into localPath. A partial local file that is
// shorter than the object is resumed from its size; an identical local file
// is reported as Skip.
func (c *Client) Download(ctx context.Context, bucket, key, localPath string, opts DownloadOptions) (Result, error) {
	target := bucket + "/" + key
	m := newMachine("download", target, c.onState)

	if dir := filepath.Dir(localPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return Result{}, m.fail(fmt.Errorf("download %s: %w", target, err))
		}
	}

	m.to(StateProbe, nil)
	info, err := c.Head(ctx, bucket, key)
	if err != nil {
		return Result{}, m.fail(err)
	}
	remote := transfer.Object{Size: info.Size, Fingerprint: info.Fingerprint}

	localSize := int64(-1)
	if st, err := os.Stat(localPath); err == nil && st.Mode().IsRegular() && !opts.NoResume {
		localSize = st.Size()
	}
	d, err := transfer.DecideDownload(localSize, remote, func() (string, error) {
		fp, _, err := c.alg.File(localPath)
		return fp, err
	})
	if err != nil {
		return Result{}, m.fail(fmt.Errorf("download %s: %w", target, err))
	}
	res := Result{Action: d.Action, Size: remote.Size, Fingerprint: remote.Fingerprint}
	if d.Action == transfer.Skip {
		m.to(StateSkip, nil)
		m.to(StateDone, nil)
		return res, nil
	}
	if d.Action == transfer.Full {
		if err := os.WriteFile(localPath, nil, 0644); err != nil {
			return res, m.fail(fmt.Errorf("download %s: %w", target, err))
		}
	}
	c.logger.Debug("download planned", "target", target, "action", d.Action, "offset", d.Offset, "reason", d.Reason)

	progress := c.progressFor(opts.Progress)
	m.to(StateTransfer, nil)
	attempts, err := c.retry(ctx, "download", target, retryHook(m), func(ctx context.Context) error {
		if m.state == StateRetry {
			m.to(StateTransfer, nil)
		}
		n, err := c.fetch(ctx, bucket, key, localPath, &remote, progress)
		res.Bytes += n
		return err
	})
	res.Attempts = attempts
	if err != nil {
		return res, m.fail(err)
	}

	m.to(StateVerify, nil)
	fp, size, err := c.alg.File(localPath)
	if err != nil {
		return res, m.fail(fmt.Errorf("download %s: verify: %w", target, err))
	}
	if !fingerprint.Same(size, fp, remote.Size, remote.Fingerprint) {
		return res, m.fail(fmt.Errorf("download %s: %w: local %s (%d bytes), server %s (%d bytes)",
			target, ErrIntegrityMismatch, fp, size, remote.Fingerprint, remote.Size))
	}
	res.Size, res.Fingerprint = size, fp
	m.to(StateDone, nil)
	return res, nil
}

// fetch runs one download attempt, appending to whatever the local file
// already holds. remote is updated when the server reveals the object
// changed since the probe.
func (c *Client) fetch(ctx context.Context, bucket, key, path string, remote *transfer.Object, progress ProgressFunc) (int64, error) {
	target := bucket + "/" + key
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	offset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if offset > remote.Size {
		if offset, err = restart(f); err != nil {
			return 0, err
		}
	}
	if offset > 0 && offset == remote.Size {
		return 0, nil
	}

	req, err := c.newRequest(ctx, http.MethodGet, c.objectURL(bucket, key, nil), nil)
	if err != nil {
		return 0, err
	}
	if offset > 0 {
		req.Header.Set("Range", transfer.FromOffset(offset))
		if remote.Fingerprint != "" {
			req.Header.Set("If-Range", fingerprint.Quote(remote.Fingerprint))
		}
		req.Header.Set("Accept-Encoding", "identity")
	} else {
		req.Header.Set("Accept-Encoding", "gzip")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		br, total, err := transfer.ParseContentRange(resp.Header.Get("Content-Range"))
		if err != nil || br.Start != offset || total != remote.Size {
			restart(f)
			return 0, fmt.Errorf("download %s: %w: unexpected Content-Range %q", target, ErrTransient, resp.Header.Get("Content-Range"))
		}
	case http.StatusOK:
		// A full body in answer to a range request means the object
		// changed (If-Range failed) or ranges are unsupported.
		if offset > 0 {
			if offset, err = restart(f); err != nil {
				return 0, err
			}
		}
		if etag := fingerprint.Unquote(resp.Header.Get("ETag")); etag != "" {
			remote.Fingerprint = etag
		}
		if resp.Header.Get("Content-Encoding") == "" && resp.ContentLength >= 0 {
			remote.Size = resp.ContentLength
		}
	case http.StatusRequestedRangeNotSatisfiable:
		restart(f)
		return 0, fmt.Errorf("download %s: %w: range %s not satisfiable", target, ErrTransient, transfer.FromOffset(offset))
	default:
		return 0, c.statusError("download", target, resp)
	}

	var body io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return 0, fmt.Errorf("download %s: %w: gzip: %v", target, ErrTransient, err)
		}
		defer zr.Close()
		body = zr
	}
	cr := &countingReader{r: body, base: offset, total: remote.Size, fn: progress}
	n, err := io.Copy(f, cr)
	if err != nil {
		return n, err
	}
	if offset+n != remote.Size {
		return n, fmt.Errorf("download %s: %w: got %d of %d bytes", target, ErrTransient, offset+n, remote.Size)
	}
	return n, nil
}

func restart(f *os.File) (int64, error) {
	if err := f.Truncate(0); err != nil {
		return 0, err
	}
	return f.Seek(0, io.SeekStart)
}
