// Package client is the transfer client for an omnistore server. It speaks
// the S3-style surface, retries transient failures under a RetryPolicy, and
// runs uploads and downloads through a probe/skip/resume/verify state
// machine.
package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eniz1806/omnistore/internal/fingerprint"
)

const defaultAttemptTimeout = 30 * time.Second

// ProgressFunc reports transferred bytes of a single object.
type ProgressFunc func(done, total int64)

type Options struct {
	HTTPClient *http.Client
	// Insecure skips TLS verification, for servers with self-signed
	// certificates. Ignored when HTTPClient is set.
	Insecure bool
	Retry    RetryPolicy
	// AttemptTimeout caps one request attempt, including its body.
	AttemptTimeout time.Duration
	Fingerprint    fingerprint.Algorithm
	Logger         *slog.Logger
	UserAgent      string
	// OnState observes every transfer state change.
	OnState  func(Transition)
	Progress ProgressFunc
}

type Client struct {
	base           *url.URL
	http           *http.Client
	policy         RetryPolicy
	attemptTimeout time.Duration
	alg            fingerprint.Algorithm
	logger         *slog.Logger
	userAgent      string
	onState        func(Transition)
	progress       ProgressFunc
}

func New(baseURL string, opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url %q: scheme must be http or https", baseURL)
	}
	hc := opts.HTTPClient
	if hc == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		if opts.Insecure {
			tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		hc = &http.Client{Transport: tr}
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = defaultAttemptTimeout
	}
	if opts.Fingerprint == "" {
		opts.Fingerprint = fingerprint.Default
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "omnistore-client"
	}
	return &Client{
		base:           u,
		http:           hc,
		policy:         opts.Retry.withDefaults(),
		attemptTimeout: opts.AttemptTimeout,
		alg:            opts.Fingerprint,
		logger:         opts.Logger,
		userAgent:      opts.UserAgent,
		onState:        opts.OnState,
		progress:       opts.Progress,
	}, nil
}

// objectURL builds the URL of bucket/key, escaping each key segment.
func (c *Client) objectURL(bucket, key string, query url.Values) string {
	var b strings.Builder
	b.WriteString(c.base.String())
	b.WriteString("/")
	b.WriteString(url.PathEscape(bucket))
	if key != "" {
		for _, seg := range strings.Split(key, "/") {
			b.WriteString("/")
			b.WriteString(url.PathEscape(seg))
		}
	}
	if len(query) > 0 {
		b.WriteString("?")
		b.WriteString(query.Encode())
	}
	return b.String()
}

func (c *Client) newRequest(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	return req, nil
}

// simple performs a bodyless request with retries and hands a successful
// response to handle. Responses with a status outside want become
// StatusErrors.
func (c *Client) simple(ctx context.Context, op, target, method, rawURL string, want []int, handle func(*http.Response) error) error {
	_, err := c.retry(ctx, op, target, nil, func(ctx context.Context) error {
		req, err := c.newRequest(ctx, method, rawURL, nil)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		for _, s := range want {
			if resp.StatusCode == s {
				if handle == nil {
					io.Copy(io.Discard, resp.Body)
					return nil
				}
				return handle(resp)
			}
		}
		return c.statusError(op, target, resp)
	})
	return err
}

type BucketInfo struct {
	Name    string
	Created time.Time
}

type ObjectInfo struct {
	Key          string
	Size         int64
	Fingerprint  string
	ContentType  string
	LastModified time.Time
}

func (c *Client) ListBuckets(ctx context.Context) ([]BucketInfo, error) {
	var out []BucketInfo
	err := c.simple(ctx, "list-buckets", c.base.String(), http.MethodGet, c.base.String()+"/", []int{http.StatusOK}, func(resp *http.Response) error {
		var result struct {
			Buckets []struct {
				Name         string `xml:"Name"`
				CreationDate string `xml:"CreationDate"`
			} `xml:"Buckets>Bucket"`
		}
		if err := xml.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("parse bucket list: %w", err)
		}
		out = out[:0]
		for _, b := range result.Buckets {
			t, _ := time.Parse(time.RFC3339Nano, b.CreationDate)
			out = append(out, BucketInfo{Name: b.Name, Created: t})
		}
		return nil
	})
	return out, err
}

func (c *Client) CreateBucket(ctx context.Context, bucket string) error {
	return c.simple(ctx, "create-bucket", bucket, http.MethodPut, c.objectURL(bucket, "", nil),
		[]int{http.StatusOK, http.StatusCreated, http.StatusNoContent}, nil)
}

// DeleteBucket removes a bucket and every object in it. Deleting a bucket
// that does not exist is not an error.
func (c *Client) DeleteBucket(ctx context.Context, bucket string) error {
	return c.simple(ctx, "delete-bucket", bucket, http.MethodDelete, c.objectURL(bucket, "", nil),
		[]int{http.StatusOK, http.StatusNoContent}, nil)
}

// ListObjects returns every object whose key starts with prefix, following
// truncated pages.
func (c *Client) ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	startAfter := ""
	for {
		q := url.Values{}
		if prefix != "" {
			q.Set("prefix", prefix)
		}
		if startAfter != "" {
			q.Set("start-after", startAfter)
		}
		var truncated bool
		var page []ObjectInfo
		err := c.simple(ctx, "list-objects", bucket, http.MethodGet, c.objectURL(bucket, "", q), []int{http.StatusOK}, func(resp *http.Response) error {
			var result struct {
				IsTruncated bool `xml:"IsTruncated"`
				Contents    []struct {
					Key          string `xml:"Key"`
					Size         int64  `xml:"Size"`
					LastModified string `xml:"LastModified"`
					ETag         string `xml:"ETag"`
				} `xml:"Contents"`
			}
			if err := xml.NewDecoder(resp.Body).Decode(&result); err != nil {
				return fmt.Errorf("parse object list: %w", err)
			}
			page = page[:0]
			for _, o := range result.Contents {
				t, _ := time.Parse(time.RFC3339Nano, o.LastModified)
				page = append(page, ObjectInfo{Key: o.Key, Size: o.Size, Fingerprint: fingerprint.Unquote(o.ETag), LastModified: t})
			}
			truncated = result.IsTruncated
			return nil
		})
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if !truncated || len(page) == 0 {
			return out, nil
		}
		startAfter = page[len(page)-1].Key
	}
}

// Head returns an object's metadata. A missing object yields an error
// matching ErrNotFound.
func (c *Client) Head(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	var info ObjectInfo
	target := bucket + "/" + key
	err := c.simple(ctx, "head", target, http.MethodHead, c.objectURL(bucket, key, nil), []int{http.StatusOK}, func(resp *http.Response) error {
		info = objectInfoFromHeaders(key, resp)
		return nil
	})
	return info, err
}

func objectInfoFromHeaders(key string, resp *http.Response) ObjectInfo {
	info := ObjectInfo{
		Key:         key,
		Size:        resp.ContentLength,
		Fingerprint: fingerprint.Unquote(resp.Header.Get("ETag")),
		ContentType: resp.Header.Get("Content-Type"),
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			info.Size = n
		}
	}
	if lm, err := http.ParseTime(resp.Header.Get("Last-Modified")); err == nil {
		info.LastModified = lm
	}
	return info
}

// Delete removes an object. It reports false when there was nothing to
// remove.
func (c *Client) Delete(ctx context.Context, bucket, key string) (bool, error) {
	err := c.simple(ctx, "delete", bucket+"/"+key, http.MethodDelete, c.objectURL(bucket, key, nil),
		[]int{http.StatusOK, http.StatusAccepted, http.StatusNoContent}, nil)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Health returns the server's health document.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.simple(ctx, "health", c.base.String(), http.MethodGet, c.base.String()+"/health", []int{http.StatusOK}, func(resp *http.Response) error {
		return json.NewDecoder(resp.Body).Decode(&out)
	})
	return out, err
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
