// Package transfer holds the rules both ends of a transfer agree on: byte
// range syntax and the skip and resume decisions driven by fingerprints.
package transfer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrMalformedRange = errors.New("malformed range")
	ErrMultiRange     = errors.New("multiple ranges not supported")
	ErrUnsatisfiable  = errors.New("range not satisfiable")
)

// ByteRange is an inclusive window [Start, End].
type ByteRange struct {
	Start int64
	End   int64
}

func (r ByteRange) Length() int64 { return r.End - r.Start + 1 }

// ParseRange resolves a Range header value against an object of size bytes.
// It accepts a single "bytes=a-b", "bytes=a-" or "bytes=-n". The window must
// fall inside the object; an end past the last byte is unsatisfiable rather
// than clamped.
func ParseRange(header string, size int64) (ByteRange, error) {
	spec, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok {
		return ByteRange{}, fmt.Errorf("%w: %q", ErrMalformedRange, header)
	}
	if strings.Contains(spec, ",") {
		return ByteRange{}, ErrMultiRange
	}
	first, last, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return ByteRange{}, fmt.Errorf("%w: %q", ErrMalformedRange, header)
	}

	if first == "" {
		// Suffix range: the final n bytes.
		n, err := parseOffset(last)
		if err != nil {
			return ByteRange{}, fmt.Errorf("%w: %q", ErrMalformedRange, header)
		}
		if n == 0 || size == 0 {
			return ByteRange{}, ErrUnsatisfiable
		}
		if n > size {
			n = size
		}
		return ByteRange{Start: size - n, End: size - 1}, nil
	}

	start, err := parseOffset(first)
	if err != nil {
		return ByteRange{}, fmt.Errorf("%w: %q", ErrMalformedRange, header)
	}
	end := size - 1
	if last != "" {
		if end, err = parseOffset(last); err != nil {
			return ByteRange{}, fmt.Errorf("%w: %q", ErrMalformedRange, header)
		}
		if end < start {
			return ByteRange{}, fmt.Errorf("%w: %q", ErrMalformedRange, header)
		}
	}
	if start >= size || end >= size {
		return ByteRange{}, ErrUnsatisfiable
	}
	return ByteRange{Start: start, End: end}, nil
}

func parseOffset(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s[0] == '+' || s[0] == '-' {
		return 0, errors.New("invalid offset")
	}
	return strconv.ParseInt(s, 10, 64)
}

// ContentRange formats the Content-Range value for a partial response.
func ContentRange(r ByteRange, size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// UnsatisfiedRange formats the Content-Range value sent with a 416.
func UnsatisfiedRange(size int64) string {
	return fmt.Sprintf("bytes */%d", size)
}

// FromOffset is the Range header asking for everything from offset on.
func FromOffset(offset int64) string {
	return fmt.Sprintf("bytes=%d-", offset)
}

// ParseContentRange reads "bytes start-end/total" from a 206 response.
func ParseContentRange(header string) (ByteRange, int64, error) {
	spec, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes ")
	if !ok {
		return ByteRange{}, 0, fmt.Errorf("%w: content-range %q", ErrMalformedRange, header)
	}
	window, totalStr, ok := strings.Cut(spec, "/")
	if !ok {
		return ByteRange{}, 0, fmt.Errorf("%w: content-range %q", ErrMalformedRange, header)
	}
	first, last, ok := strings.Cut(window, "-")
	if !ok {
		return ByteRange{}, 0, fmt.Errorf("%w: content-range %q", ErrMalformedRange, header)
	}
	start, err1 := parseOffset(first)
	end, err2 := parseOffset(last)
	total, err3 := parseOffset(totalStr)
	if err1 != nil || err2 != nil || err3 != nil || end < start || end >= total {
		return ByteRange{}, 0, fmt.Errorf("%w: content-range %q", ErrMalformedRange, header)
	}
	return ByteRange{Start: start, End: end}, total, nil
}
