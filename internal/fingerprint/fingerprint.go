// Package fingerprint computes the content hashes used as ETags and as the
// sole equality test for skip and resume decisions.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
)

// Algorithm names a supported content hash.
type Algorithm string

const (
	MD5     Algorithm = "md5"
	BLAKE2B Algorithm = "blake2b"
	BLAKE3  Algorithm = "blake3"
)

// Default is md5 so that ETags stay comparable with what S3 tooling expects
// for single-part uploads.
const Default = MD5

// Parse validates an algorithm name. An empty name selects Default.
func Parse(name string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(name))) {
	case "":
		return Default, nil
	case MD5:
		return MD5, nil
	case BLAKE2B:
		return BLAKE2B, nil
	case BLAKE3:
		return BLAKE3, nil
	default:
		return "", fmt.Errorf("unknown fingerprint algorithm: %q", name)
	}
}

// New returns a fresh hash for the algorithm.
func (a Algorithm) New() hash.Hash {
	switch a {
	case BLAKE3:
		return blake3.New()
	case BLAKE2B:
		// Only fails for keys longer than 64 bytes.
		h, _ := blake2b.New256(nil)
		return h
	}
	return md5.New()
}

// Sum returns the hex fingerprint of data.
func (a Algorithm) Sum(data []byte) string {
	h := a.New()
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Reader hashes everything read from r and returns the hex fingerprint and
// the number of bytes consumed.
func (a Algorithm) Reader(r io.Reader) (string, int64, error) {
	h := a.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// File fingerprints the file at path.
func (a Algorithm) File(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	return a.Reader(f)
}

// Writer is an io.Writer that hashes and counts what passes through it.
type Writer struct {
	h hash.Hash
	n int64
}

// NewWriter returns a Writer for the algorithm.
func (a Algorithm) NewWriter() *Writer {
	return &Writer{h: a.New()}
}

func (w *Writer) Write(p []byte) (int, error) {
	n, _ := w.h.Write(p)
	w.n += int64(n)
	return n, nil
}

// Size returns the number of bytes written so far.
func (w *Writer) Size() int64 { return w.n }

// Hex returns the fingerprint of the bytes written so far.
func (w *Writer) Hex() string { return hex.EncodeToString(w.h.Sum(nil)) }

// Same reports whether two (size, fingerprint) pairs describe identical
// content. Both must match; equal sizes alone never qualify.
func Same(sizeA int64, fpA string, sizeB int64, fpB string) bool {
	if sizeA != sizeB {
		return false
	}
	a, b := Unquote(fpA), Unquote(fpB)
	return a != "" && strings.EqualFold(a, b)
}

// Quote formats a fingerprint as an HTTP ETag value.
func Quote(fp string) string {
	return `"` + fp + `"`
}

// Unquote strips ETag quoting and a weak validator prefix.
func Unquote(etag string) string {
	etag = strings.TrimSpace(etag)
	etag = strings.TrimPrefix(etag, "W/")
	return strings.Trim(etag, `"`)
}
