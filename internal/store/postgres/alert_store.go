package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polysignal/engine/internal/domain"
)

// AlertStore implements domain.AlertStore using PostgreSQL. Deduplication is
// a conditional INSERT under a transaction-scoped advisory lock on the
// (market, metric, kind) key, so overlapping cycles in separate processes
// cannot both create an alert for the same key.
type AlertStore struct {
	pool *pgxpool.Pool
}

// NewAlertStore creates an AlertStore backed by the given connection pool.
func NewAlertStore(pool *pgxpool.Pool) *AlertStore {
	return &AlertStore{pool: pool}
}

// InsertIfNoneSince inserts the alert unless another alert for the same
// (market, metric, kind) was created after since. Concurrent writers on the
// same key serialize on an advisory lock, so the NOT EXISTS check always
// observes a committed competitor even at READ COMMITTED.
// Returns domain.ErrDuplicateAlert on suppression.
func (s *AlertStore) InsertIfNoneSince(ctx context.Context, a domain.Alert, since time.Time) (string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("postgres: begin alert insert: %w", err)
	}
	defer tx.Rollback(ctx)

	dedupKey := a.MarketID + "/" + string(a.Metric) + "/" + string(a.Kind)
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", dedupKey); err != nil {
		return "", fmt.Errorf("postgres: lock alert key %s: %w", dedupKey, err)
	}

	const query = `
		INSERT INTO alerts (
			id, market_id, metric, kind, observed_value, baseline_value,
			ratio, signal_quality, direction, created_at, notified
		)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, FALSE
		WHERE NOT EXISTS (
			SELECT 1 FROM alerts
			WHERE market_id = $2 AND metric = $3 AND kind = $4 AND created_at > $11
		)
		RETURNING id`

	var id string
	err = tx.QueryRow(ctx, query,
		a.ID, a.MarketID, string(a.Metric), string(a.Kind),
		a.ObservedValue, a.BaselineValue, a.Ratio, a.SignalQuality,
		string(a.Direction), a.CreatedAt, since,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrDuplicateAlert
	}
	if err != nil {
		return "", fmt.Errorf("postgres: insert alert %s/%s: %w", a.MarketID, a.Metric, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("postgres: commit alert %s: %w", id, err)
	}
	return id, nil
}

// MarkNotified flips the alert's notified flag to true.
func (s *AlertStore) MarkNotified(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "UPDATE alerts SET notified = TRUE WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("postgres: mark alert %s notified: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListRecent returns alerts newest first, filtered by the list options.
func (s *AlertStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Alert, error) {
	query := `
		SELECT id, market_id, metric, kind, observed_value, baseline_value,
		       ratio, signal_quality, direction, created_at, notified
		FROM alerts`
	args := []any{}
	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" WHERE created_at >= $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list alerts: %w", err)
	}
	defer rows.Close()

	return scanAlerts(rows)
}

// ListBefore returns alerts older than the cutoff, oldest first, for
// archival.
func (s *AlertStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Alert, error) {
	const query = `
		SELECT id, market_id, metric, kind, observed_value, baseline_value,
		       ratio, signal_quality, direction, created_at, notified
		FROM alerts
		WHERE created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list alerts before %s: %w", before, err)
	}
	defer rows.Close()

	return scanAlerts(rows)
}

// DeleteBefore prunes alerts older than the cutoff and returns the number of
// rows removed.
func (s *AlertStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM alerts WHERE created_at < $1", before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete alerts before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

func scanAlerts(rows pgx.Rows) ([]domain.Alert, error) {
	var out []domain.Alert
	for rows.Next() {
		var a domain.Alert
		if err := rows.Scan(
			&a.ID, &a.MarketID, &a.Metric, &a.Kind, &a.ObservedValue, &a.BaselineValue,
			&a.Ratio, &a.SignalQuality, &a.Direction, &a.CreatedAt, &a.Notified,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
