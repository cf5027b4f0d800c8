package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polysignal/engine/internal/domain"
)

// GroupStore implements domain.CorrelationGroupStore using PostgreSQL.
// Groups are seeded externally (operators or a fixture loader); the engine
// only reads them.
type GroupStore struct {
	pool *pgxpool.Pool
}

// NewGroupStore creates a GroupStore backed by the given connection pool.
func NewGroupStore(pool *pgxpool.Pool) *GroupStore {
	return &GroupStore{pool: pool}
}

// List returns all enabled correlation groups.
func (s *GroupStore) List(ctx context.Context) ([]domain.CorrelationGroup, error) {
	const query = `
		SELECT id, title, relation, member_ids, divergence_threshold,
		       enabled, created_at, updated_at
		FROM correlation_groups
		WHERE enabled
		ORDER BY id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list correlation groups: %w", err)
	}
	defer rows.Close()

	var out []domain.CorrelationGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func scanGroup(row pgx.Row) (domain.CorrelationGroup, error) {
	var g domain.CorrelationGroup
	err := row.Scan(
		&g.ID, &g.Title, &g.Relation, &g.MemberIDs, &g.DivergenceThreshold,
		&g.Enabled, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return domain.CorrelationGroup{}, err
	}
	return g, nil
}
