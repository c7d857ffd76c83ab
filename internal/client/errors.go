package client

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrTransient marks failures worth retrying: network errors, rate
	// limiting and server-side 5xx responses.
	ErrTransient = errors.New("transient failure")
	// ErrIntegrityMismatch means a completed transfer does not match the
	// server's fingerprint. It is never retried in place.
	ErrIntegrityMismatch = errors.New("integrity mismatch")
	ErrNotFound          = errors.New("not found")
)

// StatusError is an unexpected HTTP response. Its message has the form
// "<operation> <target>: HTTP <status>: <text>".
type StatusError struct {
	Op         string
	Target     string
	Status     int
	Text       string
	RetryAfter time.Duration
	transient  bool
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Op, e.Target, e.Status, e.Text)
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.transient
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

// statusError builds a StatusError from resp, reading at most a few KiB of
// the body to find the server's message.
func (c *Client) statusError(op, target string, resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	return &StatusError{
		Op:         op,
		Target:     target,
		Status:     resp.StatusCode,
		Text:       errorText(resp.StatusCode, body),
		RetryAfter: retryAfter(resp.Header),
		transient:  c.policy.retryableStatus(resp.StatusCode),
	}
}

// errorText extracts the message from an S3 XML or GCS JSON error body,
// falling back to the trimmed body or the status text.
func errorText(status int, body []byte) string {
	var x struct {
		Code    string `xml:"Code"`
		Message string `xml:"Message"`
	}
	if xml.Unmarshal(body, &x) == nil && x.Message != "" {
		if x.Code != "" {
			return x.Code + ": " + x.Message
		}
		return x.Message
	}
	var j struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &j) == nil && j.Error.Message != "" {
		return j.Error.Message
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		if len(text) > 200 {
			text = text[:200]
		}
		return text
	}
	return http.StatusText(status)
}
