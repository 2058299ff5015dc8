package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/outcomelab/predmarket/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. Trades are
// append-only.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeCols = `id, user_id, market_id, outcome, side,
	shares::text, usdc_amount::text, price_per_unit::text, fee_amount::text,
	tx_hash, executed_at`

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var (
		t       domain.Trade
		outcome int16
		side    string
		shares  string
		usdc    string
		price   string
		fee     string
	)
	err := row.Scan(
		&t.ID, &t.UserID, &t.MarketID, &outcome, &side,
		&shares, &usdc, &price, &fee,
		&t.TxHash, &t.ExecutedAt,
	)
	if err != nil {
		return domain.Trade{}, err
	}
	t.Outcome = domain.Outcome(outcome)
	t.Side = domain.TradeSide(side)
	if t.Shares, err = scanDec(shares); err != nil {
		return domain.Trade{}, err
	}
	if t.UsdcAmount, err = scanDec(usdc); err != nil {
		return domain.Trade{}, err
	}
	if t.PricePerUnit, err = scanDec(price); err != nil {
		return domain.Trade{}, err
	}
	if t.FeeAmount, err = scanDec(fee); err != nil {
		return domain.Trade{}, err
	}
	return t, nil
}

// Create appends an executed trade.
func (s *TradeStore) Create(ctx context.Context, t domain.Trade) error {
	const query = `
		INSERT INTO trades (
			id, user_id, market_id, outcome, side,
			shares, usdc_amount, price_per_unit, fee_amount,
			tx_hash, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := q(ctx, s.pool).Exec(ctx, query,
		t.ID, t.UserID, t.MarketID, int16(t.Outcome), string(t.Side),
		decArg(t.Shares), decArg(t.UsdcAmount), decArg(t.PricePerUnit), decArg(t.FeeAmount),
		t.TxHash, t.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create trade %s: %w", t.ID, err)
	}
	return nil
}

func (s *TradeStore) list(ctx context.Context, where string, key string, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeCols + ` FROM trades WHERE ` + where + ` = $1`
	args := []any{key}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND executed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND executed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY executed_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := q(ctx, s.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by %s %s: %w", where, key, err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list trades rows: %w", err)
	}
	return trades, nil
}

// ListByMarket returns the market's trades, newest first.
func (s *TradeStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error) {
	return s.list(ctx, "market_id", marketID, opts)
}

// ListByUser returns the user's trades, newest first.
func (s *TradeStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Trade, error) {
	return s.list(ctx, "user_id", userID, opts)
}
