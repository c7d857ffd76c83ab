// Package reconcile runs the content store's consistency sweep on a timer.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/eniz1806/omnistore/internal/objstore"
)

// Sweeper is the store side of a sweep. objstore.Store implements it.
type Sweeper interface {
	Reconcile(ctx context.Context, grace time.Duration) (objstore.ReconcileReport, error)
}

// Recorder receives sweep totals, typically a metrics collector.
type Recorder interface {
	RecordReconcile(orphansRemoved, missingBlobs int)
}

type Worker struct {
	store    Sweeper
	interval time.Duration
	grace    time.Duration
	recorder Recorder
	logger   *slog.Logger
}

func NewWorker(store Sweeper, interval, grace time.Duration, recorder Recorder, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:    store,
		interval: interval,
		grace:    grace,
		recorder: recorder,
		logger:   logger,
	}
}

// Run sweeps once at startup and then every interval until ctx ends. A
// non-positive interval disables the periodic sweep.
func (w *Worker) Run(ctx context.Context) {
	w.Sweep(ctx)
	if w.interval <= 0 {
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one reconciliation pass and logs its outcome.
func (w *Worker) Sweep(ctx context.Context) objstore.ReconcileReport {
	start := time.Now()
	report, err := w.store.Reconcile(ctx, w.grace)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("reconcile sweep failed", "error", err)
		}
		return report
	}
	if w.recorder != nil {
		w.recorder.RecordReconcile(report.OrphansRemoved, len(report.Missing))
	}

	attrs := []any{
		"records", report.Records,
		"orphans_removed", report.OrphansRemoved,
		"bytes_reclaimed", report.BytesReclaimed,
		"missing", len(report.Missing),
		"duration", time.Since(start),
	}
	switch {
	case len(report.Missing) > 0:
		w.logger.Warn("reconcile found records without a body", attrs...)
	case report.OrphansRemoved > 0:
		w.logger.Info("reconcile removed orphan blobs", attrs...)
	default:
		w.logger.Debug("reconcile sweep clean", attrs...)
	}
	return report
}
