package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/apd/v3"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/outcomelab/predmarket/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `id, question, contract_ref, status, closing_at,
	winning_outcome, resolution_source, resolved_at,
	volume_yes::text, volume_no::text, attestation_count,
	created_at, updated_at`

func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m         domain.Market
		status    string
		source    *string
		winning   *int16
		volumeYes string
		volumeNo  string
	)
	err := row.Scan(
		&m.ID, &m.Question, &m.ContractRef, &status, &m.ClosingAt,
		&winning, &source, &m.ResolvedAt,
		&volumeYes, &volumeNo, &m.AttestationCount,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	m.WinningOutcome = outcomeFromNullable(winning)
	if source != nil {
		m.ResolutionSource = domain.ResolutionSource(*source)
	}
	if m.VolumeYes, err = scanDec(volumeYes); err != nil {
		return domain.Market{}, err
	}
	if m.VolumeNo, err = scanDec(volumeNo); err != nil {
		return domain.Market{}, err
	}
	return m, nil
}

func sourceArg(s domain.ResolutionSource) any {
	if s == "" {
		return nil
	}
	return string(s)
}

// Create inserts a new market.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, question, contract_ref, status, closing_at,
			winning_outcome, resolution_source, resolved_at,
			volume_yes, volume_no, attestation_count,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())`

	_, err := q(ctx, s.pool).Exec(ctx, query,
		m.ID, m.Question, m.ContractRef, string(m.Status), m.ClosingAt,
		outcomeArg(m.WinningOutcome), sourceArg(m.ResolutionSource), m.ResolvedAt,
		decArg(m.VolumeYes), decArg(m.VolumeNo), m.AttestationCount,
		m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}
	return nil
}

// GetByID retrieves a market by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := q(ctx, s.pool).QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// GetByIDForUpdate retrieves a market and locks its row for the enclosing
// transaction.
func (s *MarketStore) GetByIDForUpdate(ctx context.Context, id string) (domain.Market, error) {
	row := q(ctx, s.pool).QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1 FOR UPDATE`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: lock market %s: %w", id, err)
	}
	return m, nil
}

// Update persists a market's mutable fields.
func (s *MarketStore) Update(ctx context.Context, m domain.Market) error {
	const query = `
		UPDATE markets SET
			question          = $2,
			contract_ref      = $3,
			status            = $4,
			closing_at        = $5,
			winning_outcome   = $6,
			resolution_source = $7,
			resolved_at       = $8,
			volume_yes        = $9,
			volume_no         = $10,
			attestation_count = $11,
			updated_at        = NOW()
		WHERE id = $1`

	tag, err := q(ctx, s.pool).Exec(ctx, query,
		m.ID, m.Question, m.ContractRef, string(m.Status), m.ClosingAt,
		outcomeArg(m.WinningOutcome), sourceArg(m.ResolutionSource), m.ResolvedAt,
		decArg(m.VolumeYes), decArg(m.VolumeNo), m.AttestationCount,
	)
	if err != nil {
		return fmt.Errorf("postgres: update market %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListByStatus returns markets in the given status with pagination and
// optional time filtering.
func (s *MarketStore) ListByStatus(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE status = $1`
	args := []any{string(status)}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

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
		return nil, fmt.Errorf("postgres: list %s markets: %w", status, err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list %s markets rows: %w", status, err)
	}
	return markets, nil
}

// AddVolume accumulates commit-stake volume on one outcome side.
func (s *MarketStore) AddVolume(ctx context.Context, marketID string, outcome domain.Outcome, amount *apd.Decimal) error {
	col := "volume_no"
	if outcome == domain.OutcomeYes {
		col = "volume_yes"
	}
	query := fmt.Sprintf(
		`UPDATE markets SET %s = %s + $2::numeric, updated_at = NOW() WHERE id = $1`, col, col)

	tag, err := q(ctx, s.pool).Exec(ctx, query, marketID, decArg(amount))
	if err != nil {
		return fmt.Errorf("postgres: add %s volume on market %s: %w", outcome.Label(), marketID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
