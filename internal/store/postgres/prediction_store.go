package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/outcomelab/predmarket/internal/domain"
)

// PredictionStore implements domain.PredictionStore using PostgreSQL. The
// one-prediction-per-(user, market) invariant is enforced by a unique
// constraint, so it holds under concurrent commits.
type PredictionStore struct {
	pool *pgxpool.Pool
}

// NewPredictionStore creates a PredictionStore backed by the given pool.
func NewPredictionStore(pool *pgxpool.Pool) *PredictionStore {
	return &PredictionStore{pool: pool}
}

const predictionCols = `id, user_id, market_id, commitment_hash,
	encrypted_salt, salt_iv, predicted_outcome,
	amount_staked::text, status, is_winner, winnings_claimed, pnl_usd::text,
	commit_tx_hash, reveal_tx_hash, committed_at, revealed_at, settled_at`

func scanPrediction(row pgx.Row) (domain.Prediction, error) {
	var (
		p       domain.Prediction
		status  string
		outcome *int16
		staked  string
		pnl     string
	)
	err := row.Scan(
		&p.ID, &p.UserID, &p.MarketID, &p.CommitmentHash,
		&p.EncryptedSalt, &p.SaltIV, &outcome,
		&staked, &status, &p.IsWinner, &p.WinningsClaimed, &pnl,
		&p.CommitTxHash, &p.RevealTxHash, &p.CommittedAt, &p.RevealedAt, &p.SettledAt,
	)
	if err != nil {
		return domain.Prediction{}, err
	}
	p.Status = domain.PredictionStatus(status)
	p.PredictedOutcome = outcomeFromNullable(outcome)
	if p.AmountStaked, err = scanDec(staked); err != nil {
		return domain.Prediction{}, err
	}
	if p.PnlUsd, err = scanDec(pnl); err != nil {
		return domain.Prediction{}, err
	}
	return p, nil
}

// Create inserts a new prediction, returning ErrAlreadyCommitted when the
// user already committed on this market.
func (s *PredictionStore) Create(ctx context.Context, p domain.Prediction) error {
	const query = `
		INSERT INTO predictions (
			id, user_id, market_id, commitment_hash,
			encrypted_salt, salt_iv, predicted_outcome,
			amount_staked, status, is_winner, winnings_claimed, pnl_usd,
			commit_tx_hash, reveal_tx_hash, committed_at, revealed_at, settled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err := q(ctx, s.pool).Exec(ctx, query,
		p.ID, p.UserID, p.MarketID, p.CommitmentHash,
		p.EncryptedSalt, p.SaltIV, outcomeArg(p.PredictedOutcome),
		decArg(p.AmountStaked), string(p.Status), p.IsWinner, p.WinningsClaimed, decArg(p.PnlUsd),
		p.CommitTxHash, p.RevealTxHash, p.CommittedAt, p.RevealedAt, p.SettledAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyCommitted
		}
		return fmt.Errorf("postgres: create prediction %s: %w", p.ID, err)
	}
	return nil
}

// GetByID retrieves a prediction by its primary key.
func (s *PredictionStore) GetByID(ctx context.Context, id string) (domain.Prediction, error) {
	row := q(ctx, s.pool).QueryRow(ctx,
		`SELECT `+predictionCols+` FROM predictions WHERE id = $1`, id)
	p, err := scanPrediction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Prediction{}, domain.ErrNotFound
		}
		return domain.Prediction{}, fmt.Errorf("postgres: get prediction %s: %w", id, err)
	}
	return p, nil
}

// GetByIDForUpdate retrieves a prediction and locks its row.
func (s *PredictionStore) GetByIDForUpdate(ctx context.Context, id string) (domain.Prediction, error) {
	row := q(ctx, s.pool).QueryRow(ctx,
		`SELECT `+predictionCols+` FROM predictions WHERE id = $1 FOR UPDATE`, id)
	p, err := scanPrediction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Prediction{}, domain.ErrNotFound
		}
		return domain.Prediction{}, fmt.Errorf("postgres: lock prediction %s: %w", id, err)
	}
	return p, nil
}

// GetByUserAndMarket retrieves the user's prediction on a market.
func (s *PredictionStore) GetByUserAndMarket(ctx context.Context, userID, marketID string) (domain.Prediction, error) {
	row := q(ctx, s.pool).QueryRow(ctx,
		`SELECT `+predictionCols+` FROM predictions WHERE user_id = $1 AND market_id = $2`,
		userID, marketID)
	p, err := scanPrediction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Prediction{}, domain.ErrNotFound
		}
		return domain.Prediction{}, fmt.Errorf("postgres: get prediction for user %s market %s: %w", userID, marketID, err)
	}
	return p, nil
}

// Update persists a prediction's mutable fields.
func (s *PredictionStore) Update(ctx context.Context, p domain.Prediction) error {
	const query = `
		UPDATE predictions SET
			predicted_outcome = $2,
			status            = $3,
			is_winner         = $4,
			winnings_claimed  = $5,
			pnl_usd           = $6,
			reveal_tx_hash    = $7,
			revealed_at       = $8,
			settled_at        = $9
		WHERE id = $1`

	tag, err := q(ctx, s.pool).Exec(ctx, query,
		p.ID, outcomeArg(p.PredictedOutcome), string(p.Status),
		p.IsWinner, p.WinningsClaimed, decArg(p.PnlUsd),
		p.RevealTxHash, p.RevealedAt, p.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update prediction %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListByMarket returns every prediction on a market.
func (s *PredictionStore) ListByMarket(ctx context.Context, marketID string) ([]domain.Prediction, error) {
	rows, err := q(ctx, s.pool).Query(ctx,
		`SELECT `+predictionCols+` FROM predictions WHERE market_id = $1 ORDER BY committed_at`,
		marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list predictions for market %s: %w", marketID, err)
	}
	defer rows.Close()

	var preds []domain.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan prediction: %w", err)
		}
		preds = append(preds, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list predictions rows: %w", err)
	}
	return preds, nil
}

// UserStats aggregates a user's settled record in a single query. Claimed
// totals only count payouts actually credited.
func (s *PredictionStore) UserStats(ctx context.Context, userID string) (domain.PredictionStats, error) {
	const query = `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'settled' AND is_winner),
			COUNT(*) FILTER (WHERE status = 'settled' AND NOT is_winner),
			COALESCE(SUM(amount_staked), 0)::text,
			COALESCE(SUM(pnl_usd) FILTER (WHERE winnings_claimed), 0)::text
		FROM predictions
		WHERE user_id = $1`

	var (
		stats   domain.PredictionStats
		staked  string
		claimed string
	)
	err := q(ctx, s.pool).QueryRow(ctx, query, userID).Scan(
		&stats.TotalPredictions, &stats.Wins, &stats.Losses, &staked, &claimed,
	)
	if err != nil {
		return domain.PredictionStats{}, fmt.Errorf("postgres: user stats for %s: %w", userID, err)
	}
	if stats.TotalStaked, err = scanDec(staked); err != nil {
		return domain.PredictionStats{}, err
	}
	if stats.TotalClaimed, err = scanDec(claimed); err != nil {
		return domain.PredictionStats{}, err
	}
	return stats, nil
}
