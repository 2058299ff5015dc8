package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/outcomelab/predmarket/internal/domain"
)

// DisputeStore implements domain.DisputeStore using PostgreSQL.
type DisputeStore struct {
	pool *pgxpool.Pool
}

// NewDisputeStore creates a DisputeStore backed by the given connection pool.
func NewDisputeStore(pool *pgxpool.Pool) *DisputeStore {
	return &DisputeStore{pool: pool}
}

const disputeCols = `id, market_id, user_id, reason, evidence,
	status, resolution, admin_notes, prior_outcome,
	created_at, updated_at, resolved_at`

func scanDispute(row pgx.Row) (domain.Dispute, error) {
	var (
		d      domain.Dispute
		status string
		prior  *int16
	)
	err := row.Scan(
		&d.ID, &d.MarketID, &d.UserID, &d.Reason, &d.Evidence,
		&status, &d.Resolution, &d.AdminNotes, &prior,
		&d.CreatedAt, &d.UpdatedAt, &d.ResolvedAt,
	)
	if err != nil {
		return domain.Dispute{}, err
	}
	d.Status = domain.DisputeStatus(status)
	d.PriorOutcome = outcomeFromNullable(prior)
	return d, nil
}

// Create inserts a new dispute.
func (s *DisputeStore) Create(ctx context.Context, d domain.Dispute) error {
	const query = `
		INSERT INTO disputes (
			id, market_id, user_id, reason, evidence,
			status, resolution, admin_notes, prior_outcome,
			created_at, updated_at, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := q(ctx, s.pool).Exec(ctx, query,
		d.ID, d.MarketID, d.UserID, d.Reason, d.Evidence,
		string(d.Status), d.Resolution, d.AdminNotes, outcomeArg(d.PriorOutcome),
		d.CreatedAt, d.UpdatedAt, d.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create dispute %s: %w", d.ID, err)
	}
	return nil
}

// GetByID retrieves a dispute by its primary key.
func (s *DisputeStore) GetByID(ctx context.Context, id string) (domain.Dispute, error) {
	row := q(ctx, s.pool).QueryRow(ctx,
		`SELECT `+disputeCols+` FROM disputes WHERE id = $1`, id)
	d, err := scanDispute(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Dispute{}, domain.ErrNotFound
		}
		return domain.Dispute{}, fmt.Errorf("postgres: get dispute %s: %w", id, err)
	}
	return d, nil
}

// GetByIDForUpdate retrieves a dispute and locks its row.
func (s *DisputeStore) GetByIDForUpdate(ctx context.Context, id string) (domain.Dispute, error) {
	row := q(ctx, s.pool).QueryRow(ctx,
		`SELECT `+disputeCols+` FROM disputes WHERE id = $1 FOR UPDATE`, id)
	d, err := scanDispute(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Dispute{}, domain.ErrNotFound
		}
		return domain.Dispute{}, fmt.Errorf("postgres: lock dispute %s: %w", id, err)
	}
	return d, nil
}

// Update persists a dispute's mutable fields.
func (s *DisputeStore) Update(ctx context.Context, d domain.Dispute) error {
	const query = `
		UPDATE disputes SET
			status      = $2,
			resolution  = $3,
			admin_notes = $4,
			updated_at  = $5,
			resolved_at = $6
		WHERE id = $1`

	tag, err := q(ctx, s.pool).Exec(ctx, query,
		d.ID, string(d.Status), d.Resolution, d.AdminNotes, d.UpdatedAt, d.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update dispute %s: %w", d.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListByMarket returns the market's disputes, newest first.
func (s *DisputeStore) ListByMarket(ctx context.Context, marketID string) ([]domain.Dispute, error) {
	rows, err := q(ctx, s.pool).Query(ctx,
		`SELECT `+disputeCols+` FROM disputes WHERE market_id = $1 ORDER BY created_at DESC`,
		marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list disputes for market %s: %w", marketID, err)
	}
	defer rows.Close()

	var disputes []domain.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan dispute: %w", err)
		}
		disputes = append(disputes, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list disputes rows: %w", err)
	}
	return disputes, nil
}
