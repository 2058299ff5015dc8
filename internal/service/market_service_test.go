package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outcomelab/predmarket/internal/amm"
	"github.com/outcomelab/predmarket/internal/domain"
)

func TestCreateMarketSeedsPoolAtInitialProbability(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	market, err := env.marketSvc.CreateMarket(ctx, CreateMarketParams{
		Question:       "Will the rollout finish this quarter?",
		ContractRef:    "0xabc",
		ClosingAt:      env.clock.Add(48 * time.Hour),
		Subsidy:        domain.MustDec("500"),
		InitialYesProb: domain.MustDec("0.3"),
		FeeRate:        domain.MustDec("0.02"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusOpen, market.Status)

	pool, err := env.pools.GetByMarket(ctx, market.ID)
	require.NoError(t, err)
	// reserveYes = 2*500*0.7, reserveNo = 2*500*0.3.
	decEq(t, "700", pool.ReserveYes)
	decEq(t, "300", pool.ReserveNo)

	price, err := amm.YesPrice(&pool)
	require.NoError(t, err)
	decEq(t, "0.3", price)
}

func TestCreateMarketValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	base := CreateMarketParams{
		Question:       "q",
		ClosingAt:      env.clock.Add(time.Hour),
		Subsidy:        domain.MustDec("100"),
		InitialYesProb: domain.MustDec("0.5"),
		FeeRate:        domain.MustDec("0.02"),
	}

	p := base
	p.Question = ""
	_, err := env.marketSvc.CreateMarket(ctx, p)
	assert.Error(t, err)

	p = base
	p.ClosingAt = env.clock.Add(-time.Hour)
	_, err = env.marketSvc.CreateMarket(ctx, p)
	assert.Error(t, err)

	p = base
	p.InitialYesProb = domain.MustDec("1")
	_, err = env.marketSvc.CreateMarket(ctx, p)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	p = base
	p.Subsidy = domain.MustDec("0")
	_, err = env.marketSvc.CreateMarket(ctx, p)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestCloseMarketRequiresDeadline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	market := env.openMarket(t)

	_, err := env.marketSvc.CloseMarket(ctx, market.ID)
	assert.ErrorIs(t, err, domain.ErrMarketStillOpen)

	env.advanceClock(25 * time.Hour)
	closed, err := env.marketSvc.CloseMarket(ctx, market.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusClosed, closed.Status)

	_, err = env.marketSvc.CloseMarket(ctx, market.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidMarketState)
}

func TestResolveMarketSettlesAndPublishes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	market := env.openMarket(t)
	pred := env.commitAndReveal(t, "alice", market.ID, domain.OutcomeNo, "80")

	env.advanceClock(25 * time.Hour)
	resolved, err := env.marketSvc.ResolveMarket(ctx, market.ID, domain.OutcomeNo, domain.ResolutionSourceAdmin)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)

	p, err := env.predictions.GetByID(ctx, pred.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PredictionStatusSettled, p.Status)

	env.bus.mu.Lock()
	defer env.bus.mu.Unlock()
	assert.NotEmpty(t, env.bus.published["markets"])
	assert.NotEmpty(t, env.bus.published["settlements"])
}

func TestResolveBeforeDeadlineRejected(t *testing.T) {
	env := newTestEnv(t)
	market := env.openMarket(t)

	_, err := env.marketSvc.ResolveMarket(context.Background(), market.ID, domain.OutcomeYes, domain.ResolutionSourceAdmin)
	assert.ErrorIs(t, err, domain.ErrMarketStillOpen)
}

func TestCancelMarket(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	market := env.openMarket(t)

	cancelled, err := env.marketSvc.CancelMarket(ctx, market.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusCancelled, cancelled.Status)

	// Terminal: no further transitions.
	_, err = env.marketSvc.CancelMarket(ctx, market.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidMarketState)
	_, err = env.marketSvc.CloseMarket(ctx, market.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidMarketState)
}

func TestCloseDueMarketsSweep(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	due := env.openMarket(t)
	notDue, err := env.marketSvc.CreateMarket(ctx, CreateMarketParams{
		Question:       "Later market",
		ClosingAt:      env.clock.Add(72 * time.Hour),
		Subsidy:        domain.MustDec("100"),
		InitialYesProb: domain.MustDec("0.5"),
		FeeRate:        domain.MustDec("0.02"),
	})
	require.NoError(t, err)

	env.advanceClock(25 * time.Hour)
	closed, err := env.marketSvc.CloseDueMarkets(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	m, err := env.markets.GetByID(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusClosed, m.Status)

	m, err = env.markets.GetByID(ctx, notDue.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusOpen, m.Status)
}
