package storage

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/eniz1806/omnistore/internal/fingerprint"
)

const tmpDirName = ".tmp"

// FileSystem implements Engine using the local filesystem.
// Layout: <dataDir>/<bucket>/<blobID>, with in-flight writes under <dataDir>/.tmp.
type FileSystem struct {
	dataDir string
	tmpDir  string
}

func NewFileSystem(dataDir string) (*FileSystem, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	tmpDir := filepath.Join(dataDir, tmpDirName)
	// Leftovers from a crash mid-write are never referenced by metadata.
	if err := os.RemoveAll(tmpDir); err != nil {
		return nil, fmt.Errorf("clear tmp dir: %w", err)
	}
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return nil, fmt.Errorf("create tmp dir: %w", err)
	}
	return &FileSystem{dataDir: dataDir, tmpDir: tmpDir}, nil
}

func (fs *FileSystem) bucketPath(bucket string) (string, error) {
	if bucket == "" || bucket == "." || bucket == ".." || strings.HasPrefix(bucket, ".") ||
		strings.ContainsAny(bucket, `/\`) {
		return "", fmt.Errorf("invalid bucket directory name %q", bucket)
	}
	return filepath.Join(fs.dataDir, bucket), nil
}

func (fs *FileSystem) blobPath(bucket, id string) (string, error) {
	dir, err := fs.bucketPath(bucket)
	if err != nil {
		return "", err
	}
	if id == "" || strings.ContainsAny(id, `/\.`) {
		return "", fmt.Errorf("invalid blob id %q", id)
	}
	return filepath.Join(dir, id), nil
}

func (fs *FileSystem) CreateBucketDir(bucket string) error {
	dir, err := fs.bucketPath(bucket)
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

func (fs *FileSystem) DeleteBucketDir(bucket string) error {
	dir, err := fs.bucketPath(bucket)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

func (fs *FileSystem) BucketDirs() ([]string, error) {
	entries, err := os.ReadDir(fs.dataDir)
	if err != nil {
		return nil, fmt.Errorf("read data dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (fs *FileSystem) WriteBlob(bucket string, reader io.Reader, size int64, alg fingerprint.Algorithm) (Blob, error) {
	id := newBlobID()
	final, err := fs.blobPath(bucket, id)
	if err != nil {
		return Blob{}, err
	}
	if err := os.MkdirAll(filepath.Dir(final), 0755); err != nil {
		return Blob{}, fmt.Errorf("create bucket dir: %w", err)
	}

	f, err := os.CreateTemp(fs.tmpDir, "put-*")
	if err != nil {
		return Blob{}, fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()
	committed := false
	defer func() {
		if !committed {
			f.Close()
			os.Remove(tmp)
		}
	}()

	fw := alg.NewWriter()
	src := &sourceReader{r: reader}
	written, err := io.Copy(io.MultiWriter(f, fw), src)
	if src.err != nil {
		return Blob{}, fmt.Errorf("%w: %v", ErrIncomplete, src.err)
	}
	if err != nil {
		return Blob{}, fmt.Errorf("write blob: %w", err)
	}
	if size >= 0 && written != size {
		return Blob{}, fmt.Errorf("%w: got %d of %d bytes", ErrIncomplete, written, size)
	}
	if err := f.Sync(); err != nil {
		return Blob{}, fmt.Errorf("sync blob: %w", err)
	}
	if err := f.Close(); err != nil {
		return Blob{}, fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return Blob{}, fmt.Errorf("rename blob: %w", err)
	}
	committed = true

	return Blob{ID: id, Size: written, Fingerprint: fw.Hex()}, nil
}

func (fs *FileSystem) OpenBlob(bucket, id string) (ReadSeekCloser, int64, error) {
	p, err := fs.blobPath(bucket, id)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, ErrBlobNotFound
		}
		return nil, 0, fmt.Errorf("open blob: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat blob: %w", err)
	}
	return f, info.Size(), nil
}

func (fs *FileSystem) RemoveBlob(bucket, id string) error {
	p, err := fs.blobPath(bucket, id)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove blob: %w", err)
	}
	return nil
}

func (fs *FileSystem) ListBlobs(bucket string) ([]BlobFile, error) {
	dir, err := fs.bucketPath(bucket)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read bucket dir: %w", err)
	}
	var blobs []BlobFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue // removed while listing
		}
		blobs = append(blobs, BlobFile{ID: e.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	return blobs, nil
}

// sourceReader remembers a read failure so it can be told apart from a
// failure writing to disk.
type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF {
		s.err = err
	}
	return n, err
}

// newBlobID creates a unique id from a timestamp and random bytes.
func newBlobID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("%016x%s", time.Now().UnixNano(), hex.EncodeToString(b))
}
