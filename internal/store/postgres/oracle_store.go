package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/outcomelab/predmarket/internal/domain"
)

// OracleStore implements domain.OracleStore using PostgreSQL.
type OracleStore struct {
	pool *pgxpool.Pool
}

// NewOracleStore creates an OracleStore backed by the given connection pool.
func NewOracleStore(pool *pgxpool.Pool) *OracleStore {
	return &OracleStore{pool: pool}
}

// Create registers an oracle.
func (s *OracleStore) Create(ctx context.Context, o domain.Oracle) error {
	const query = `
		INSERT INTO oracles (id, name, address, active, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name    = EXCLUDED.name,
			address = EXCLUDED.address,
			active  = EXCLUDED.active`

	_, err := q(ctx, s.pool).Exec(ctx, query, o.ID, o.Name, o.Address, o.Active, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create oracle %s: %w", o.ID, err)
	}
	return nil
}

// GetByID retrieves an oracle by its primary key.
func (s *OracleStore) GetByID(ctx context.Context, id string) (domain.Oracle, error) {
	var o domain.Oracle
	err := q(ctx, s.pool).QueryRow(ctx,
		`SELECT id, name, address, active, created_at FROM oracles WHERE id = $1`, id,
	).Scan(&o.ID, &o.Name, &o.Address, &o.Active, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Oracle{}, domain.ErrNotFound
		}
		return domain.Oracle{}, fmt.Errorf("postgres: get oracle %s: %w", id, err)
	}
	return o, nil
}

// CountActive returns the size of the active oracle registry, the consensus
// threshold denominator.
func (s *OracleStore) CountActive(ctx context.Context) (int, error) {
	var count int
	err := q(ctx, s.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM oracles WHERE active`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count active oracles: %w", err)
	}
	return count, nil
}

// ListActive returns the active oracle registry.
func (s *OracleStore) ListActive(ctx context.Context) ([]domain.Oracle, error) {
	rows, err := q(ctx, s.pool).Query(ctx,
		`SELECT id, name, address, active, created_at FROM oracles WHERE active ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active oracles: %w", err)
	}
	defer rows.Close()

	var oracles []domain.Oracle
	for rows.Next() {
		var o domain.Oracle
		if err := rows.Scan(&o.ID, &o.Name, &o.Address, &o.Active, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan oracle: %w", err)
		}
		oracles = append(oracles, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active oracles rows: %w", err)
	}
	return oracles, nil
}
