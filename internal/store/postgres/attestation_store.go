package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/outcomelab/predmarket/internal/domain"
)

// AttestationStore implements domain.AttestationStore using PostgreSQL. A
// unique constraint on (market_id, oracle_id) enforces one attestation per
// oracle per market under concurrent submissions.
type AttestationStore struct {
	pool *pgxpool.Pool
}

// NewAttestationStore creates an AttestationStore backed by the given pool.
func NewAttestationStore(pool *pgxpool.Pool) *AttestationStore {
	return &AttestationStore{pool: pool}
}

// Create appends an attestation, returning ErrDuplicateAttestation when the
// oracle already attested this market.
func (s *AttestationStore) Create(ctx context.Context, a domain.Attestation) error {
	const query = `
		INSERT INTO attestations (
			id, market_id, oracle_id, outcome, proof_ref, signature, submitted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := q(ctx, s.pool).Exec(ctx, query,
		a.ID, a.MarketID, a.OracleID, int16(a.Outcome), a.ProofRef, a.Signature, a.SubmittedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateAttestation
		}
		return fmt.Errorf("postgres: create attestation %s: %w", a.ID, err)
	}
	return nil
}

// ListByMarket returns the market's attestations in submission order.
func (s *AttestationStore) ListByMarket(ctx context.Context, marketID string) ([]domain.Attestation, error) {
	rows, err := q(ctx, s.pool).Query(ctx,
		`SELECT id, market_id, oracle_id, outcome, proof_ref, signature, submitted_at
		 FROM attestations WHERE market_id = $1 ORDER BY submitted_at`,
		marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list attestations for market %s: %w", marketID, err)
	}
	defer rows.Close()

	var atts []domain.Attestation
	for rows.Next() {
		var a domain.Attestation
		var outcome int16
		if err := rows.Scan(&a.ID, &a.MarketID, &a.OracleID, &outcome, &a.ProofRef, &a.Signature, &a.SubmittedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan attestation: %w", err)
		}
		a.Outcome = domain.Outcome(outcome)
		atts = append(atts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list attestations rows: %w", err)
	}
	return atts, nil
}
