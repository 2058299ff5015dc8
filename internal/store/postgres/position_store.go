package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/outcomelab/predmarket/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL, one row
// per (user, market, outcome).
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionCols = `id, user_id, market_id, outcome,
	quantity::text, cost_basis::text, sold_quantity::text, realized_pnl::text,
	created_at, updated_at`

func scanPosition(row pgx.Row) (domain.SharePosition, error) {
	var (
		p        domain.SharePosition
		outcome  int16
		quantity string
		cost     string
		sold     string
		pnl      string
	)
	err := row.Scan(
		&p.ID, &p.UserID, &p.MarketID, &outcome,
		&quantity, &cost, &sold, &pnl,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.SharePosition{}, err
	}
	p.Outcome = domain.Outcome(outcome)
	if p.Quantity, err = scanDec(quantity); err != nil {
		return domain.SharePosition{}, err
	}
	if p.CostBasis, err = scanDec(cost); err != nil {
		return domain.SharePosition{}, err
	}
	if p.SoldQuantity, err = scanDec(sold); err != nil {
		return domain.SharePosition{}, err
	}
	if p.RealizedPnl, err = scanDec(pnl); err != nil {
		return domain.SharePosition{}, err
	}
	return p, nil
}

// Get retrieves the position for (user, market, outcome).
func (s *PositionStore) Get(ctx context.Context, userID, marketID string, outcome domain.Outcome) (domain.SharePosition, error) {
	row := q(ctx, s.pool).QueryRow(ctx,
		`SELECT `+positionCols+` FROM positions
		 WHERE user_id = $1 AND market_id = $2 AND outcome = $3`,
		userID, marketID, int16(outcome))
	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SharePosition{}, domain.ErrNotFound
		}
		return domain.SharePosition{}, fmt.Errorf("postgres: get position: %w", err)
	}
	return p, nil
}

// GetForUpdate retrieves the position and locks its row.
func (s *PositionStore) GetForUpdate(ctx context.Context, userID, marketID string, outcome domain.Outcome) (domain.SharePosition, error) {
	row := q(ctx, s.pool).QueryRow(ctx,
		`SELECT `+positionCols+` FROM positions
		 WHERE user_id = $1 AND market_id = $2 AND outcome = $3 FOR UPDATE`,
		userID, marketID, int16(outcome))
	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SharePosition{}, domain.ErrNotFound
		}
		return domain.SharePosition{}, fmt.Errorf("postgres: lock position: %w", err)
	}
	return p, nil
}

// Upsert inserts or replaces the position row for (user, market, outcome).
func (s *PositionStore) Upsert(ctx context.Context, pos domain.SharePosition) error {
	const query = `
		INSERT INTO positions (
			id, user_id, market_id, outcome,
			quantity, cost_basis, sold_quantity, realized_pnl,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (user_id, market_id, outcome) DO UPDATE SET
			quantity      = EXCLUDED.quantity,
			cost_basis    = EXCLUDED.cost_basis,
			sold_quantity = EXCLUDED.sold_quantity,
			realized_pnl  = EXCLUDED.realized_pnl,
			updated_at    = NOW()`

	_, err := q(ctx, s.pool).Exec(ctx, query,
		pos.ID, pos.UserID, pos.MarketID, int16(pos.Outcome),
		decArg(pos.Quantity), decArg(pos.CostBasis), decArg(pos.SoldQuantity), decArg(pos.RealizedPnl),
		pos.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", pos.ID, err)
	}
	return nil
}

// ListByUser returns the user's positions across all markets.
func (s *PositionStore) ListByUser(ctx context.Context, userID string) ([]domain.SharePosition, error) {
	rows, err := q(ctx, s.pool).Query(ctx,
		`SELECT `+positionCols+` FROM positions WHERE user_id = $1 ORDER BY updated_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for %s: %w", userID, err)
	}
	defer rows.Close()

	var positions []domain.SharePosition
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions rows: %w", err)
	}
	return positions, nil
}
