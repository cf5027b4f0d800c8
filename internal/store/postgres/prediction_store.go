package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polysignal/engine/internal/domain"
)

// PredictionStore implements domain.PredictionStore using PostgreSQL.
type PredictionStore struct {
	pool *pgxpool.Pool
}

// NewPredictionStore creates a PredictionStore backed by the given connection
// pool.
func NewPredictionStore(pool *pgxpool.Pool) *PredictionStore {
	return &PredictionStore{pool: pool}
}

// ListUnresolved returns unresolved predictions whose market end date is at
// or before asOf, oldest end date first.
func (s *PredictionStore) ListUnresolved(ctx context.Context, asOf time.Time) ([]domain.Prediction, error) {
	const query = `
		SELECT id, market_id, question, COALESCE(suggested_play, ''), end_date,
		       resolved, COALESCE(outcome, ''), correct, created_at, resolved_at
		FROM predictions
		WHERE NOT resolved AND end_date <= $1
		ORDER BY end_date ASC`

	rows, err := s.pool.Query(ctx, query, asOf)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unresolved predictions: %w", err)
	}
	defer rows.Close()

	var out []domain.Prediction
	for rows.Next() {
		var p domain.Prediction
		if err := rows.Scan(
			&p.ID, &p.MarketID, &p.Question, &p.SuggestedPlay, &p.EndDate,
			&p.Resolved, &p.Outcome, &p.Correct, &p.CreatedAt, &p.ResolvedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan prediction: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Resolve records the outcome and correctness for a prediction. Outcome and
// correctness are set together with the resolved flag in one statement, and
// the WHERE clause makes re-resolution a no-op: the call is idempotent and
// returns false when the prediction was already terminal.
func (s *PredictionStore) Resolve(ctx context.Context, id int64, outcome domain.Outcome, correct *bool) (bool, error) {
	const query = `
		UPDATE predictions
		SET resolved = TRUE, outcome = $2, correct = $3, resolved_at = NOW()
		WHERE id = $1 AND NOT resolved`

	tag, err := s.pool.Exec(ctx, query, id, string(outcome), correct)
	if err != nil {
		return false, fmt.Errorf("postgres: resolve prediction %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListResolved returns predictions resolved at or after since, newest
// first, for accuracy analysis.
func (s *PredictionStore) ListResolved(ctx context.Context, since time.Time) ([]domain.Prediction, error) {
	const query = `
		SELECT id, market_id, question, COALESCE(suggested_play, ''), end_date,
		       resolved, COALESCE(outcome, ''), correct, created_at, resolved_at
		FROM predictions
		WHERE resolved AND resolved_at >= $1
		ORDER BY resolved_at DESC`

	rows, err := s.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolved predictions: %w", err)
	}
	defer rows.Close()

	var out []domain.Prediction
	for rows.Next() {
		var p domain.Prediction
		if err := rows.Scan(
			&p.ID, &p.MarketID, &p.Question, &p.SuggestedPlay, &p.EndDate,
			&p.Resolved, &p.Outcome, &p.Correct, &p.CreatedAt, &p.ResolvedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan prediction: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
