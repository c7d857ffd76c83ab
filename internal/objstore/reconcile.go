package objstore

import (
	"context"
	"time"

	"github.com/eniz1806/omnistore/internal/metadata"
)

// ReconcileReport summarizes one sweep.
type ReconcileReport struct {
	Records        int
	OrphansRemoved int
	BytesReclaimed int64
	// Missing lists "bucket/key" records whose body is gone. They are
	// reported only; no repair is attempted.
	Missing []string
}

// Reconcile removes blob files that no metadata record references and that
// are older than grace, and reports records whose blob is missing. Blobs
// of a Put still waiting to commit are never removed, however old.
func (s *Store) Reconcile(ctx context.Context, grace time.Duration) (ReconcileReport, error) {
	var report ReconcileReport

	s.blobs.beginSweep()
	defer s.blobs.endSweep()

	referenced := make(map[string]map[string]metadata.ObjectMeta)
	err := s.meta.ScanObjects(func(m metadata.ObjectMeta) bool {
		report.Records++
		ids, ok := referenced[m.Bucket]
		if !ok {
			ids = make(map[string]metadata.ObjectMeta)
			referenced[m.Bucket] = ids
		}
		ids[m.BlobID] = m
		return ctx.Err() == nil
	})
	if err != nil {
		return report, storageErr("scan metadata", err)
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	dirs, err := s.engine.BucketDirs()
	if err != nil {
		return report, storageErr("list bucket dirs", err)
	}
	cutoff := time.Now().Add(-grace)
	onDisk := make(map[string]map[string]bool)
	for _, bucket := range dirs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		blobs, err := s.engine.ListBlobs(bucket)
		if err != nil {
			s.logger.Warn("reconcile: list blobs failed", "bucket", bucket, "error", err)
			continue
		}
		present := make(map[string]bool, len(blobs))
		onDisk[bucket] = present
		for _, b := range blobs {
			present[b.ID] = true
			if _, ok := referenced[bucket][b.ID]; ok {
				continue
			}
			if b.ModTime.After(cutoff) {
				continue
			}
			removed, err := s.blobs.removeUnlessProtected(bucket, b.ID, func() error {
				return s.engine.RemoveBlob(bucket, b.ID)
			})
			if err != nil {
				s.logger.Warn("reconcile: remove orphan failed", "bucket", bucket, "error", err)
				continue
			}
			if !removed {
				continue
			}
			report.OrphansRemoved++
			report.BytesReclaimed += b.Size
		}
	}

	for bucket, ids := range referenced {
		for id, m := range ids {
			if onDisk[bucket][id] {
				continue
			}
			// The record may have moved on to a new blob since the scan.
			cur, err := s.meta.GetObjectMeta(m.Bucket, m.Key)
			if err != nil || cur.BlobID != id {
				continue
			}
			report.Missing = append(report.Missing, m.Bucket+"/"+m.Key)
			s.logger.Error("reconcile: metadata references missing body", "bucket", m.Bucket, "key", m.Key)
		}
	}
	return report, nil
}
