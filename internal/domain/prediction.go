package domain

import (
	"time"

	"github.com/cockroachdb/apd/v3"
)

// PredictionStatus tracks a prediction through the commit-reveal-settle flow.
type PredictionStatus string

const (
	PredictionStatusCommitted PredictionStatus = "committed"
	PredictionStatusRevealed  PredictionStatus = "revealed"
	PredictionStatusSettled   PredictionStatus = "settled"
)

// Prediction is a user's hidden stake on one market. Exactly one prediction
// exists per (user, market); the predicted outcome is recoverable only after
// a successful reveal.
type Prediction struct {
	ID       string
	UserID   string
	MarketID string

	// Commitment material. The salt is stored AES-GCM encrypted; only the
	// ciphertext and nonce are ever persisted.
	CommitmentHash string
	EncryptedSalt  string // base64
	SaltIV         string // base64 GCM nonce

	// Nil until revealed.
	PredictedOutcome *Outcome

	AmountStaked *apd.Decimal
	Status       PredictionStatus

	IsWinner        bool
	WinningsClaimed bool
	PnlUsd          *apd.Decimal

	CommitTxHash string
	RevealTxHash string

	CommittedAt time.Time
	RevealedAt  *time.Time
	SettledAt   *time.Time
}

// PredictionStats aggregates a user's commit-reveal record across markets.
type PredictionStats struct {
	TotalPredictions int
	Wins             int
	Losses           int
	TotalStaked      *apd.Decimal
	TotalClaimed     *apd.Decimal
}
