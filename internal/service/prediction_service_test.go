package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outcomelab/predmarket/internal/domain"
)

func TestCommitEscrowsStakeAndHidesOutcome(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	market := env.openMarket(t)
	env.accounts.deposit("alice", "500")

	pred, err := env.predictionSvc.Commit(ctx, "alice", market.ID, domain.OutcomeYes, domain.MustDec("100"))
	require.NoError(t, err)

	assert.Equal(t, domain.PredictionStatusCommitted, pred.Status)
	assert.Len(t, pred.CommitmentHash, 64)
	assert.Nil(t, pred.PredictedOutcome, "outcome must stay hidden until reveal")
	assert.NotEmpty(t, pred.EncryptedSalt)
	assert.NotEmpty(t, pred.SaltIV)
	assert.Equal(t, "0xtx", pred.CommitTxHash)

	acct, err := env.accounts.Get(ctx, "alice")
	require.NoError(t, err)
	decEq(t, "400", acct.Balance)

	m, err := env.markets.GetByID(ctx, market.ID)
	require.NoError(t, err)
	decEq(t, "100", m.VolumeYes)
}

func TestCommitRejectsSecondPredictionPerMarket(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	market := env.openMarket(t)
	env.accounts.deposit("alice", "500")

	_, err := env.predictionSvc.Commit(ctx, "alice", market.ID, domain.OutcomeYes, domain.MustDec("100"))
	require.NoError(t, err)

	_, err = env.predictionSvc.Commit(ctx, "alice", market.ID, domain.OutcomeNo, domain.MustDec("50"))
	assert.ErrorIs(t, err, domain.ErrAlreadyCommitted)

	acct, err := env.accounts.Get(ctx, "alice")
	require.NoError(t, err)
	decEq(t, "400", acct.Balance)
}

func TestCommitValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	market := env.openMarket(t)
	env.accounts.deposit("alice", "500")

	_, err := env.predictionSvc.Commit(ctx, "alice", market.ID, domain.Outcome(7), domain.MustDec("100"))
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)

	_, err = env.predictionSvc.Commit(ctx, "alice", market.ID, domain.OutcomeYes, domain.MustDec("0"))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = env.predictionSvc.Commit(ctx, "alice", market.ID, domain.OutcomeYes, domain.MustDec("-5"))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = env.predictionSvc.Commit(ctx, "alice", "no-such-market", domain.OutcomeYes, domain.MustDec("10"))
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)
}

func TestCommitAfterDeadlineRejected(t *testing.T) {
	env := newTestEnv(t)
	market := env.openMarket(t)
	env.accounts.deposit("alice", "500")

	env.advanceClock(25 * time.Hour)
	_, err := env.predictionSvc.Commit(context.Background(), "alice", market.ID, domain.OutcomeYes, domain.MustDec("100"))
	assert.ErrorIs(t, err, domain.ErrMarketClosed)
}

func TestCommitInsufficientBalance(t *testing.T) {
	env := newTestEnv(t)
	market := env.openMarket(t)
	env.accounts.deposit("alice", "50")

	_, err := env.predictionSvc.Commit(context.Background(), "alice", market.ID, domain.OutcomeYes, domain.MustDec("100"))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestCommitLedgerFailureLeavesNoTrace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	market := env.openMarket(t)
	env.accounts.deposit("alice", "500")
	env.ledger.failNext = errors.New("ledger down")

	_, err := env.predictionSvc.Commit(ctx, "alice", market.ID, domain.OutcomeYes, domain.MustDec("100"))
	require.Error(t, err)

	acct, err := env.accounts.Get(ctx, "alice")
	require.NoError(t, err)
	decEq(t, "500", acct.Balance)

	_, err = env.predictions.GetByUserAndMarket(ctx, "alice", market.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRevealRecoversCommittedOutcome(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	market := env.openMarket(t)
	env.accounts.deposit("alice", "500")

	_, err := env.predictionSvc.Commit(ctx, "alice", market.ID, domain.OutcomeNo, domain.MustDec("100"))
	require.NoError(t, err)

	pred, err := env.predictionSvc.Reveal(ctx, "alice", market.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.PredictionStatusRevealed, pred.Status)
	require.NotNil(t, pred.PredictedOutcome)
	assert.Equal(t, domain.OutcomeNo, *pred.PredictedOutcome)
	require.NotNil(t, pred.RevealedAt)
	assert.Equal(t, "0xtx", pred.RevealTxHash)
}

func TestRevealTwiceRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	market := env.openMarket(t)
	env.accounts.deposit("alice", "500")

	_, err := env.predictionSvc.Commit(ctx, "alice", market.ID, domain.OutcomeYes, domain.MustDec("100"))
	require.NoError(t, err)
	_, err = env.predictionSvc.Reveal(ctx, "alice", market.ID)
	require.NoError(t, err)

	_, err = env.predictionSvc.Reveal(ctx, "alice", market.ID)
	assert.ErrorIs(t, err, domain.ErrPredictionNotCommitted)
}

func TestRevealAfterDeadlineRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	market := env.openMarket(t)
	env.accounts.deposit("alice", "500")

	_, err := env.predictionSvc.Commit(ctx, "alice", market.ID, domain.OutcomeYes, domain.MustDec("100"))
	require.NoError(t, err)

	env.advanceClock(25 * time.Hour)
	_, err = env.predictionSvc.Reveal(ctx, "alice", market.ID)
	assert.ErrorIs(t, err, domain.ErrRevealPeriodEnded)
}

func TestRevealWithoutCommitRejected(t *testing.T) {
	env := newTestEnv(t)
	market := env.openMarket(t)

	_, err := env.predictionSvc.Reveal(context.Background(), "alice", market.ID)
	assert.ErrorIs(t, err, domain.ErrPredictionNotFound)
}

func TestStatsAggregateAcrossMarkets(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	market := env.openMarket(t)

	env.commitAndReveal(t, "alice", market.ID, domain.OutcomeYes, "100")
	env.commitAndReveal(t, "bob", market.ID, domain.OutcomeNo, "60")
	env.resolvePastDeadline(t, market.ID, domain.OutcomeYes)

	stats, err := env.predictionSvc.Stats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalPredictions)
	assert.Equal(t, 1, stats.Wins)
	assert.Equal(t, 0, stats.Losses)
	decEq(t, "100", stats.TotalStaked)

	stats, err = env.predictionSvc.Stats(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Losses)
}
