package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outcomelab/predmarket/internal/domain"
)

func TestSettleMarketSplitsPoolParimutuel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	market := env.openMarket(t)

	// 100 + 50 on YES against 60 on NO. YES wins: the 210 total pool is
	// split pro rata over the 150 staked on YES, a 1.4x multiplier.
	alice := env.commitAndReveal(t, "alice", market.ID, domain.OutcomeYes, "100")
	carol := env.commitAndReveal(t, "carol", market.ID, domain.OutcomeYes, "50")
	bob := env.commitAndReveal(t, "bob", market.ID, domain.OutcomeNo, "60")

	env.resolvePastDeadline(t, market.ID, domain.OutcomeYes)

	p, err := env.predictions.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PredictionStatusSettled, p.Status)
	assert.True(t, p.IsWinner)
	decEq(t, "140", p.PnlUsd)
	require.NotNil(t, p.SettledAt)

	p, err = env.predictions.GetByID(ctx, carol.ID)
	require.NoError(t, err)
	assert.True(t, p.IsWinner)
	decEq(t, "70", p.PnlUsd)

	p, err = env.predictions.GetByID(ctx, bob.ID)
	require.NoError(t, err)
	assert.False(t, p.IsWinner)
	decEq(t, "0", p.PnlUsd)
}

func TestUnrevealedStakesForfeitIntoLosingPool(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	market := env.openMarket(t)

	alice := env.commitAndReveal(t, "alice", market.ID, domain.OutcomeYes, "100")

	// Bob commits 100 on the eventual winner but never reveals; his stake
	// joins the losing pool and Alice collects it.
	env.accounts.deposit("bob", "1000")
	bobPred, err := env.predictionSvc.Commit(ctx, "bob", market.ID, domain.OutcomeYes, domain.MustDec("100"))
	require.NoError(t, err)

	env.resolvePastDeadline(t, market.ID, domain.OutcomeYes)

	p, err := env.predictions.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.True(t, p.IsWinner)
	decEq(t, "200", p.PnlUsd)

	p, err = env.predictions.GetByID(ctx, bobPred.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PredictionStatusSettled, p.Status)
	assert.False(t, p.IsWinner, "unrevealed commitments forfeit even on the winning side")
	decEq(t, "0", p.PnlUsd)
}

func TestSettleMarketIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	market := env.openMarket(t)

	alice := env.commitAndReveal(t, "alice", market.ID, domain.OutcomeYes, "100")
	env.commitAndReveal(t, "bob", market.ID, domain.OutcomeNo, "60")
	env.resolvePastDeadline(t, market.ID, domain.OutcomeYes)

	require.NoError(t, env.settleSvc.SettleMarket(ctx, market.ID))

	p, err := env.predictions.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	decEq(t, "160", p.PnlUsd)
}

func TestPayoutMultiplierCountsSettledRows(t *testing.T) {
	yes := domain.OutcomeYes
	no := domain.OutcomeNo
	revealed := time.Now()

	// A rerun over partially or fully settled rows must classify by what was
	// revealed, not by the current row status.
	preds := []domain.Prediction{
		{AmountStaked: domain.MustDec("100"), Status: domain.PredictionStatusSettled, PredictedOutcome: &yes, RevealedAt: &revealed},
		{AmountStaked: domain.MustDec("60"), Status: domain.PredictionStatusSettled, PredictedOutcome: &no, RevealedAt: &revealed},
		{AmountStaked: domain.MustDec("40"), Status: domain.PredictionStatusCommitted},
	}

	m, err := payoutMultiplier(preds, domain.OutcomeYes)
	require.NoError(t, err)
	require.NotNil(t, m)
	decEq(t, "2", m)
}

func TestSettleMarketRequiresResolvedState(t *testing.T) {
	env := newTestEnv(t)
	market := env.openMarket(t)

	err := env.settleSvc.SettleMarket(context.Background(), market.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidMarketState)
}

func TestClaimWinningsCreditsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	market := env.openMarket(t)

	alice := env.commitAndReveal(t, "alice", market.ID, domain.OutcomeYes, "100")
	env.commitAndReveal(t, "bob", market.ID, domain.OutcomeNo, "60")
	env.resolvePastDeadline(t, market.ID, domain.OutcomeYes)

	balanceBefore, err := env.accounts.Get(ctx, "alice")
	require.NoError(t, err)

	payout, err := env.settleSvc.ClaimWinnings(ctx, "alice", alice.ID)
	require.NoError(t, err)
	decEq(t, "160", payout)

	balanceAfter, err := env.accounts.Get(ctx, "alice")
	require.NoError(t, err)
	diff, err := domain.DecSub(balanceAfter.Balance, balanceBefore.Balance)
	require.NoError(t, err)
	decEq(t, "160", diff)

	// Second claim is rejected and the balance stays put.
	_, err = env.settleSvc.ClaimWinnings(ctx, "alice", alice.ID)
	assert.ErrorIs(t, err, domain.ErrWinningsAlreadyClaimed)

	again, err := env.accounts.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, again.Balance.Cmp(balanceAfter.Balance))
}

func TestClaimGuards(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	market := env.openMarket(t)

	alice := env.commitAndReveal(t, "alice", market.ID, domain.OutcomeYes, "100")
	bob := env.commitAndReveal(t, "bob", market.ID, domain.OutcomeNo, "60")

	// Not settled yet.
	_, err := env.settleSvc.ClaimWinnings(ctx, "alice", alice.ID)
	assert.ErrorIs(t, err, domain.ErrPredictionNotSettled)

	env.resolvePastDeadline(t, market.ID, domain.OutcomeYes)

	// Wrong owner.
	_, err = env.settleSvc.ClaimWinnings(ctx, "mallory", alice.ID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	// Loser cannot claim.
	_, err = env.settleSvc.ClaimWinnings(ctx, "bob", bob.ID)
	assert.ErrorIs(t, err, domain.ErrPredictionDidNotWin)

	// Unknown prediction.
	_, err = env.settleSvc.ClaimWinnings(ctx, "alice", "no-such-id")
	assert.ErrorIs(t, err, domain.ErrPredictionNotFound)
}

func TestClaimPausedWhileDisputed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	market := env.openMarket(t)

	alice := env.commitAndReveal(t, "alice", market.ID, domain.OutcomeYes, "100")
	env.commitAndReveal(t, "bob", market.ID, domain.OutcomeNo, "60")
	env.resolvePastDeadline(t, market.ID, domain.OutcomeYes)

	_, err := env.disputeSvc.SubmitDispute(ctx, "bob", market.ID, "oracle feed was stale", "")
	require.NoError(t, err)

	_, err = env.settleSvc.ClaimWinnings(ctx, "alice", alice.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidMarketState)
}

func TestClaimLockSerializesConcurrentClaims(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	market := env.openMarket(t)

	alice := env.commitAndReveal(t, "alice", market.ID, domain.OutcomeYes, "100")
	env.commitAndReveal(t, "bob", market.ID, domain.OutcomeNo, "60")
	env.resolvePastDeadline(t, market.ID, domain.OutcomeYes)

	release, err := env.locks.Acquire(ctx, "claim:"+alice.ID, claimLockTTL)
	require.NoError(t, err)
	defer release()

	_, err = env.settleSvc.ClaimWinnings(ctx, "alice", alice.ID)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestSettlementNotifiesUsers(t *testing.T) {
	env := newTestEnv(t)
	market := env.openMarket(t)

	env.commitAndReveal(t, "alice", market.ID, domain.OutcomeYes, "100")
	env.commitAndReveal(t, "bob", market.ID, domain.OutcomeNo, "60")
	env.resolvePastDeadline(t, market.ID, domain.OutcomeYes)

	env.sink.mu.Lock()
	defer env.sink.mu.Unlock()
	kinds := map[string]int{}
	for _, n := range env.sink.sent {
		kinds[n.Kind]++
	}
	assert.Equal(t, 2, kinds[domain.NotifyPredictionSettled])
}
