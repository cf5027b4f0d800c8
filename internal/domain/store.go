package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore reads market metadata written by the external collector.
type MarketStore interface {
	GetByID(ctx context.Context, id string) (Market, error)
	ListActive(ctx context.Context, opts ListOpts) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// SnapshotStore reads the append-only order-book/price time series written by
// the external collector. The engine never writes snapshots; DeleteBefore
// exists only for the retention archiver.
type SnapshotStore interface {
	// GetSnapshots returns snapshots for one market since the given time,
	// ascending by timestamp.
	GetSnapshots(ctx context.Context, marketID string, since time.Time) ([]MarketSnapshot, error)
	// GetLatest returns the most recent snapshot for a market.
	GetLatest(ctx context.Context, marketID string) (MarketSnapshot, error)
	// LatestPrice returns the most recent yes price, or ErrNotFound when no
	// snapshot with a price exists.
	LatestPrice(ctx context.Context, marketID string) (float64, error)
	// ListMarketsWithHistory returns market IDs that have at least minCount
	// snapshots since the given time.
	ListMarketsWithHistory(ctx context.Context, minCount int, since time.Time) ([]string, error)
	// ListBefore returns snapshots older than the cutoff, for archival.
	ListBefore(ctx context.Context, before time.Time, limit int) ([]MarketSnapshot, error)
	// DeleteBefore prunes snapshots older than the cutoff and returns the
	// number of rows removed.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AlertStore persists the append-only alert audit trail.
type AlertStore interface {
	// InsertIfNoneSince inserts the alert unless another alert for the same
	// (market, metric, kind) exists with CreatedAt after the since time. The check
	// and insert are atomic with respect to concurrent evaluations of the
	// same key. Returns ErrDuplicateAlert on suppression.
	InsertIfNoneSince(ctx context.Context, alert Alert, since time.Time) (string, error)
	// MarkNotified flips the alert's Notified flag to true.
	MarkNotified(ctx context.Context, id string) error
	// ListRecent returns alerts newest first, filtered by the list options.
	ListRecent(ctx context.Context, opts ListOpts) ([]Alert, error)
	// ListBefore returns alerts older than the cutoff, for archival.
	ListBefore(ctx context.Context, before time.Time, limit int) ([]Alert, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// PredictionStore persists stored trade predictions and their resolution.
type PredictionStore interface {
	// ListUnresolved returns predictions with Resolved = false whose market
	// end date is at or before asOf.
	ListUnresolved(ctx context.Context, asOf time.Time) ([]Prediction, error)
	// Resolve records the outcome and correctness for a prediction. Correct
	// is nil when the prediction carried no suggested play. Resolve is
	// idempotent: resolving an already-resolved prediction is a no-op that
	// returns false with a nil error.
	Resolve(ctx context.Context, id int64, outcome Outcome, correct *bool) (bool, error)
	// ListResolved returns predictions resolved at or after since, for
	// accuracy analysis.
	ListResolved(ctx context.Context, since time.Time) ([]Prediction, error)
}

// CorrelationGroupStore reads externally seeded correlation groups.
type CorrelationGroupStore interface {
	List(ctx context.Context) ([]CorrelationGroup, error)
}
