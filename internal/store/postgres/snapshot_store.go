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

// SnapshotStore implements domain.SnapshotStore using PostgreSQL. The
// snapshot table is written by the external collector; this store only reads
// it, except for retention pruning.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a SnapshotStore backed by the given connection pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// GetSnapshots returns snapshots for one market since the given time,
// ascending by timestamp.
func (s *SnapshotStore) GetSnapshots(ctx context.Context, marketID string, since time.Time) ([]domain.MarketSnapshot, error) {
	const query = `
		SELECT market_id, ts, yes_price, bid_depth, ask_depth
		FROM market_snapshots
		WHERE market_id = $1 AND ts >= $2
		ORDER BY ts ASC`

	rows, err := s.pool.Query(ctx, query, marketID, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: get snapshots %s: %w", marketID, err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// GetLatest returns the most recent snapshot for a market.
func (s *SnapshotStore) GetLatest(ctx context.Context, marketID string) (domain.MarketSnapshot, error) {
	const query = `
		SELECT market_id, ts, yes_price, bid_depth, ask_depth
		FROM market_snapshots
		WHERE market_id = $1
		ORDER BY ts DESC LIMIT 1`

	var snap domain.MarketSnapshot
	err := s.pool.QueryRow(ctx, query, marketID).Scan(
		&snap.MarketID, &snap.Timestamp, &snap.YesPrice, &snap.BidDepth, &snap.AskDepth,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("postgres: latest snapshot %s: %w", marketID, err)
	}
	return snap, nil
}

// LatestPrice returns the most recent yes price for a market.
func (s *SnapshotStore) LatestPrice(ctx context.Context, marketID string) (float64, error) {
	const query = `
		SELECT yes_price FROM market_snapshots
		WHERE market_id = $1
		ORDER BY ts DESC LIMIT 1`

	var price float64
	err := s.pool.QueryRow(ctx, query, marketID).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: latest price %s: %w", marketID, err)
	}
	return price, nil
}

// ListMarketsWithHistory returns market IDs with at least minCount snapshots
// since the given time.
func (s *SnapshotStore) ListMarketsWithHistory(ctx context.Context, minCount int, since time.Time) ([]string, error) {
	const query = `
		SELECT market_id FROM market_snapshots
		WHERE ts >= $1
		GROUP BY market_id
		HAVING COUNT(*) >= $2
		ORDER BY market_id`

	rows, err := s.pool.Query(ctx, query, since, minCount)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets with history: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan market id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListBefore returns snapshots older than the cutoff, oldest first, for
// archival.
func (s *SnapshotStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.MarketSnapshot, error) {
	const query = `
		SELECT market_id, ts, yes_price, bid_depth, ask_depth
		FROM market_snapshots
		WHERE ts < $1
		ORDER BY ts ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots before %s: %w", before, err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// DeleteBefore prunes snapshots older than the cutoff and returns the number
// of rows removed.
func (s *SnapshotStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM market_snapshots WHERE ts < $1", before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete snapshots before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

func scanSnapshots(rows pgx.Rows) ([]domain.MarketSnapshot, error) {
	var out []domain.MarketSnapshot
	for rows.Next() {
		var snap domain.MarketSnapshot
		if err := rows.Scan(&snap.MarketID, &snap.Timestamp, &snap.YesPrice, &snap.BidDepth, &snap.AskDepth); err != nil {
			return nil, fmt.Errorf("postgres: scan snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}
