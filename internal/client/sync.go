package client

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/eniz1806/omnistore/internal/transfer"
)

// DefaultExcludes are skipped by Sync unless SyncOptions.Exclude is set.
var DefaultExcludes = []string{".DS_Store", "__pycache__", "*.pyc", ".git"}

const defaultSyncConcurrency = 4

type SyncOptions struct {
	// Prefix is prepended to every key, separated by a slash.
	Prefix string
	// Exclude holds filepath.Match patterns tested against the file name and
	// every directory component. Nil means DefaultExcludes.
	Exclude     []string
	Concurrency int
	// OnFile is called once per file after its upload finishes.
	OnFile func(key string, res Result, err error)
}

type SyncReport struct {
	Uploaded int
	Skipped  int
	Failed   int
	Errors   []error
}

// Err joins the per-file failures, or returns nil.
func (r SyncReport) Err() error {
	return errors.Join(r.Errors...)
}

// Sync uploads every non-excluded regular file under dir into bucket. Each
// file goes through the upload skip rule, so unchanged files cost one HEAD.
// Individual failures are collected in the report; only a walk or context
// error aborts the sync.
func (c *Client) Sync(ctx context.Context, dir, bucket string, opts SyncOptions) (SyncReport, error) {
	excludes := opts.Exclude
	if excludes == nil {
		excludes = DefaultExcludes
	}
	limit := opts.Concurrency
	if limit <= 0 {
		limit = defaultSyncConcurrency
	}

	var (
		mu     sync.Mutex
		report SyncReport
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	walkErr := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := gctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if excluded(rel, excludes) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		key := syncKey(opts.Prefix, rel)
		g.Go(func() error {
			res, err := c.Upload(gctx, p, bucket, key, UploadOptions{})
			mu.Lock()
			switch {
			case err != nil:
				report.Failed++
				report.Errors = append(report.Errors, err)
			case res.Action == transfer.Skip:
				report.Skipped++
			default:
				report.Uploaded++
			}
			mu.Unlock()
			if opts.OnFile != nil {
				opts.OnFile(key, res, err)
			}
			return nil
		})
		return nil
	})
	g.Wait()
	if walkErr != nil {
		return report, fmt.Errorf("sync %s: %w", dir, walkErr)
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	c.logger.Info("sync finished", "dir", dir, "bucket", bucket,
		"uploaded", report.Uploaded, "skipped", report.Skipped, "failed", report.Failed)
	return report, nil
}

func syncKey(prefix, rel string) string {
	key := filepath.ToSlash(rel)
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		key = path.Join(prefix, key)
	}
	return key
}

// excluded reports whether any component of rel matches a pattern.
func excluded(rel string, patterns []string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		for _, pat := range patterns {
			if part == pat {
				return true
			}
			if ok, _ := filepath.Match(pat, part); ok {
				return true
			}
		}
	}
	return false
}
