package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/polysignal/engine/internal/domain"
)

// ArchiverConfig controls how much history the archiver keeps hot and how it
// pages rows into cold storage.
type ArchiverConfig struct {
	SnapshotRetentionDays int
	AlertRetentionDays    int
	BatchSize             int
	Prefix                string
}

// Archiver moves aged snapshots and alerts out of the primary store into an
// S3-compatible bucket as JSONL objects, then prunes the archived rows. Each
// batch is uploaded before its rows are deleted so a failed upload never
// loses data.
type Archiver struct {
	cfg       ArchiverConfig
	writer    domain.BlobWriter
	snapshots domain.SnapshotStore
	alerts    domain.AlertStore
	logger    *slog.Logger

	// now is overridable in tests.
	now func() time.Time
}

// NewArchiver creates an Archiver backed by the given writer and stores.
func NewArchiver(cfg ArchiverConfig, writer domain.BlobWriter, snapshots domain.SnapshotStore, alerts domain.AlertStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		cfg:       cfg,
		writer:    writer,
		snapshots: snapshots,
		alerts:    alerts,
		logger:    logger.With(slog.String("component", "archiver")),
		now:       time.Now,
	}
}

// RunOnce archives and prunes everything older than the configured retention
// cutoffs. Snapshot and alert archival are independent: a failure in one does
// not prevent the other from running.
func (a *Archiver) RunOnce(ctx context.Context) error {
	now := a.now().UTC()

	var firstErr error

	snapCutoff := now.AddDate(0, 0, -a.cfg.SnapshotRetentionDays)
	n, err := a.archiveSnapshots(ctx, snapCutoff)
	if err != nil {
		firstErr = fmt.Errorf("archive snapshots: %w", err)
		a.logger.Error("snapshot archival failed", slog.Any("error", err))
	} else if n > 0 {
		a.logger.Info("snapshots archived", slog.Int64("count", n), slog.Time("cutoff", snapCutoff))
	}

	alertCutoff := now.AddDate(0, 0, -a.cfg.AlertRetentionDays)
	n, err = a.archiveAlerts(ctx, alertCutoff)
	if err != nil {
		if firstErr == nil {
			firstErr = fmt.Errorf("archive alerts: %w", err)
		}
		a.logger.Error("alert archival failed", slog.Any("error", err))
	} else if n > 0 {
		a.logger.Info("alerts archived", slog.Int64("count", n), slog.Time("cutoff", alertCutoff))
	}

	return firstErr
}

// archiveSnapshots pages snapshots older than the cutoff into JSONL objects.
// Rows are deleted batch by batch, bounded by the timestamp of the last row
// uploaded, so an interrupted run resumes where it left off.
func (a *Archiver) archiveSnapshots(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}

		rows, err := a.snapshots.ListBefore(ctx, cutoff, a.cfg.BatchSize)
		if err != nil {
			return total, fmt.Errorf("list: %w", err)
		}
		if len(rows) == 0 {
			return total, nil
		}

		buf, err := marshalJSONL(rows)
		if err != nil {
			return total, fmt.Errorf("marshal: %w", err)
		}

		last := rows[len(rows)-1].Timestamp
		path := a.objectPath("snapshots", rows[0].Timestamp, last)
		if err := a.writer.Put(ctx, path, buf, "application/x-ndjson"); err != nil {
			return total, fmt.Errorf("upload: %w", err)
		}

		deleteUpTo := last.Add(time.Nanosecond)
		if deleteUpTo.After(cutoff) {
			deleteUpTo = cutoff
		}
		deleted, err := a.snapshots.DeleteBefore(ctx, deleteUpTo)
		if err != nil {
			return total, fmt.Errorf("prune: %w", err)
		}
		total += deleted

		if len(rows) < a.cfg.BatchSize {
			return total, nil
		}
	}
}

// archiveAlerts pages alerts older than the cutoff into JSONL objects, same
// upload-then-prune discipline as snapshots.
func (a *Archiver) archiveAlerts(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}

		rows, err := a.alerts.ListBefore(ctx, cutoff, a.cfg.BatchSize)
		if err != nil {
			return total, fmt.Errorf("list: %w", err)
		}
		if len(rows) == 0 {
			return total, nil
		}

		buf, err := marshalJSONL(rows)
		if err != nil {
			return total, fmt.Errorf("marshal: %w", err)
		}

		last := rows[len(rows)-1].CreatedAt
		path := a.objectPath("alerts", rows[0].CreatedAt, last)
		if err := a.writer.Put(ctx, path, buf, "application/x-ndjson"); err != nil {
			return total, fmt.Errorf("upload: %w", err)
		}

		deleteUpTo := last.Add(time.Nanosecond)
		if deleteUpTo.After(cutoff) {
			deleteUpTo = cutoff
		}
		deleted, err := a.alerts.DeleteBefore(ctx, deleteUpTo)
		if err != nil {
			return total, fmt.Errorf("prune: %w", err)
		}
		total += deleted

		if len(rows) < a.cfg.BatchSize {
			return total, nil
		}
	}
}

// objectPath builds the S3 key for an archive batch, partitioned by the date
// of the oldest row and disambiguated by the newest row's timestamp:
//
//	archive/snapshots/2026-08-01/20260801T094500.000000000.jsonl
func (a *Archiver) objectPath(kind string, first, last time.Time) string {
	prefix := a.cfg.Prefix
	if prefix == "" {
		prefix = "archive"
	}
	return fmt.Sprintf("%s/%s/%s/%s.jsonl",
		prefix, kind,
		first.UTC().Format("2006-01-02"),
		last.UTC().Format("20060102T150405.000000000"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
