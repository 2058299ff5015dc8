package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/outcomelab/predmarket/internal/domain"
)

// PoolStore implements domain.PoolStore using PostgreSQL, one AMM pool row
// per market.
type PoolStore struct {
	pool *pgxpool.Pool
}

// NewPoolStore creates a PoolStore backed by the given connection pool.
func NewPoolStore(pool *pgxpool.Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

const poolCols = `market_id, reserve_yes::text, reserve_no::text, fee_rate::text,
	trade_volume_yes::text, trade_volume_no::text, updated_at`

func scanPool(row pgx.Row) (domain.LiquidityPool, error) {
	var p domain.LiquidityPool
	var reserveYes, reserveNo, feeRate, volYes, volNo string
	err := row.Scan(&p.MarketID, &reserveYes, &reserveNo, &feeRate, &volYes, &volNo, &p.UpdatedAt)
	if err != nil {
		return domain.LiquidityPool{}, err
	}
	if p.ReserveYes, err = scanDec(reserveYes); err != nil {
		return domain.LiquidityPool{}, err
	}
	if p.ReserveNo, err = scanDec(reserveNo); err != nil {
		return domain.LiquidityPool{}, err
	}
	if p.FeeRate, err = scanDec(feeRate); err != nil {
		return domain.LiquidityPool{}, err
	}
	if p.TradeVolumeYes, err = scanDec(volYes); err != nil {
		return domain.LiquidityPool{}, err
	}
	if p.TradeVolumeNo, err = scanDec(volNo); err != nil {
		return domain.LiquidityPool{}, err
	}
	return p, nil
}

// Create inserts a new pool.
func (s *PoolStore) Create(ctx context.Context, pool domain.LiquidityPool) error {
	const query = `
		INSERT INTO pools (
			market_id, reserve_yes, reserve_no, fee_rate,
			trade_volume_yes, trade_volume_no, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW())`

	_, err := q(ctx, s.pool).Exec(ctx, query,
		pool.MarketID, decArg(pool.ReserveYes), decArg(pool.ReserveNo), decArg(pool.FeeRate),
		decArg(pool.TradeVolumeYes), decArg(pool.TradeVolumeNo),
	)
	if err != nil {
		return fmt.Errorf("postgres: create pool for market %s: %w", pool.MarketID, err)
	}
	return nil
}

// GetByMarket retrieves the market's pool.
func (s *PoolStore) GetByMarket(ctx context.Context, marketID string) (domain.LiquidityPool, error) {
	row := q(ctx, s.pool).QueryRow(ctx,
		`SELECT `+poolCols+` FROM pools WHERE market_id = $1`, marketID)
	p, err := scanPool(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.LiquidityPool{}, domain.ErrNotFound
		}
		return domain.LiquidityPool{}, fmt.Errorf("postgres: get pool for market %s: %w", marketID, err)
	}
	return p, nil
}

// GetByMarketForUpdate retrieves the pool and locks its row, serializing
// trades against the same market.
func (s *PoolStore) GetByMarketForUpdate(ctx context.Context, marketID string) (domain.LiquidityPool, error) {
	row := q(ctx, s.pool).QueryRow(ctx,
		`SELECT `+poolCols+` FROM pools WHERE market_id = $1 FOR UPDATE`, marketID)
	p, err := scanPool(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.LiquidityPool{}, domain.ErrNotFound
		}
		return domain.LiquidityPool{}, fmt.Errorf("postgres: lock pool for market %s: %w", marketID, err)
	}
	return p, nil
}

// Update persists the pool's reserves and volumes.
func (s *PoolStore) Update(ctx context.Context, pool domain.LiquidityPool) error {
	const query = `
		UPDATE pools SET
			reserve_yes      = $2,
			reserve_no       = $3,
			fee_rate         = $4,
			trade_volume_yes = $5,
			trade_volume_no  = $6,
			updated_at       = NOW()
		WHERE market_id = $1`

	tag, err := q(ctx, s.pool).Exec(ctx, query,
		pool.MarketID, decArg(pool.ReserveYes), decArg(pool.ReserveNo), decArg(pool.FeeRate),
		decArg(pool.TradeVolumeYes), decArg(pool.TradeVolumeNo),
	)
	if err != nil {
		return fmt.Errorf("postgres: update pool for market %s: %w", pool.MarketID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
