package main

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/eniz1806/omnistore/internal/client"
	"github.com/eniz1806/omnistore/internal/transfer"
)

func runListObjects(ctx context.Context, g *globals, c *client.Client, args []string) error {
	fs := subFlags(g, "list-objects")
	prefix := fs.String("prefix", "", "only list keys starting with this prefix")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pos, err := wantArgs(fs, usageListObjects, 1, 1)
	if err != nil {
		return err
	}

	objects, err := c.ListObjects(ctx, pos[0], *prefix)
	if err != nil {
		return err
	}
	if len(objects) == 0 {
		fmt.Fprintln(g.stdout, "No objects found.")
		return nil
	}

	var total int64
	rows := make([][]string, 0, len(objects))
	for _, obj := range objects {
		total += obj.Size
		rows = append(rows, []string{
			obj.Key,
			formatSize(obj.Size),
			obj.LastModified.Local().Format("2006-01-02 15:04:05"),
			obj.Fingerprint,
		})
	}
	printTable(g.stdout, []string{"KEY", "SIZE", "LAST MODIFIED", "FINGERPRINT"}, rows)
	fmt.Fprintf(g.stdout, "\n%d object(s), %s\n", len(objects), formatSize(total))
	return nil
}

func runUpload(ctx context.Context, g *globals, c *client.Client, args []string) error {
	fs := subFlags(g, "upload")
	force := fs.BoolP("force", "f", false, "upload even if the remote object is identical")
	contentType := fs.String("content-type", "", "Content-Type to store (default: by extension)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pos, err := wantArgs(fs, usageUpload, 2, 3)
	if err != nil {
		return err
	}
	file, bucket := pos[0], pos[1]
	key := filepath.Base(file)
	if len(pos) == 3 {
		key = strings.TrimPrefix(pos[2], "/")
		if key == "" || strings.HasSuffix(key, "/") {
			key = path.Join(key, filepath.Base(file))
		}
	}

	progress := newProgressLine(g.stderr)
	res, err := c.Upload(ctx, file, bucket, key, client.UploadOptions{
		Force:       *force,
		ContentType: *contentType,
		Progress:    progress.fn(),
	})
	progress.finish()
	if err != nil {
		return err
	}
	fmt.Fprintf(g.stdout, "%s/%s: %s\n", bucket, key, describe("uploaded", res))
	return nil
}

func runDownload(ctx context.Context, g *globals, c *client.Client, args []string) error {
	fs := subFlags(g, "download")
	noResume := fs.Bool("no-resume", false, "discard any partial local file and start over")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pos, err := wantArgs(fs, usageDownload, 2, 3)
	if err != nil {
		return err
	}
	bucket, key := pos[0], pos[1]
	file := path.Base(key)
	if len(pos) == 3 {
		file = pos[2]
	}

	progress := newProgressLine(g.stderr)
	res, err := c.Download(ctx, bucket, key, file, client.DownloadOptions{
		NoResume: *noResume,
		Progress: progress.fn(),
	})
	progress.finish()
	if err != nil {
		return err
	}
	fmt.Fprintf(g.stdout, "%s: %s\n", file, describe("downloaded", res))
	return nil
}

func runDelete(ctx context.Context, g *globals, c *client.Client, args []string) error {
	fs := subFlags(g, "delete")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pos, err := wantArgs(fs, usageDelete, 2, 2)
	if err != nil {
		return err
	}
	removed, err := c.Delete(ctx, pos[0], pos[1])
	if err != nil {
		return err
	}
	if !removed {
		fmt.Fprintf(g.stdout, "%s/%s: not found\n", pos[0], pos[1])
		return nil
	}
	fmt.Fprintf(g.stdout, "%s/%s: deleted\n", pos[0], pos[1])
	return nil
}

func runSync(ctx context.Context, g *globals, c *client.Client, args []string) error {
	fs := subFlags(g, "sync")
	prefix := fs.String("prefix", "", "key prefix for uploaded files")
	exclude := fs.StringArray("exclude", nil, "extra file name pattern to skip (repeatable)")
	noDefaults := fs.Bool("no-default-excludes", false, "do not skip "+strings.Join(client.DefaultExcludes, ", "))
	concurrency := fs.IntP("concurrency", "j", 4, "parallel uploads")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pos, err := wantArgs(fs, usageSync, 2, 2)
	if err != nil {
		return err
	}

	patterns := []string{}
	if !*noDefaults {
		patterns = append(patterns, client.DefaultExcludes...)
	}
	patterns = append(patterns, *exclude...)

	var mu sync.Mutex
	report, err := c.Sync(ctx, pos[0], pos[1], client.SyncOptions{
		Prefix:      *prefix,
		Exclude:     patterns,
		Concurrency: *concurrency,
		OnFile: func(key string, res client.Result, err error) {
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				fmt.Fprintf(g.stderr, "  failed    %s: %v\n", key, err)
			case res.Action == transfer.Skip:
				fmt.Fprintf(g.stdout, "  unchanged %s\n", key)
			default:
				fmt.Fprintf(g.stdout, "  uploaded  %s\n", key)
			}
		},
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(g.stdout, "\n%d uploaded, %d unchanged, %d failed\n", report.Uploaded, report.Skipped, report.Failed)
	if report.Failed > 0 {
		return fmt.Errorf("sync %s: %d file(s) failed", pos[1], report.Failed)
	}
	return nil
}
