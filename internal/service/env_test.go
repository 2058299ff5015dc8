package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/outcomelab/predmarket/internal/commitment"
	"github.com/outcomelab/predmarket/internal/crypto"
	"github.com/outcomelab/predmarket/internal/domain"
)

// baseTime is the fixed wall clock all test services start from.
var baseTime = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	markets      *memMarkets
	predictions  *memPredictions
	pools        *memPools
	positions    *memPositions
	trades       *memTrades
	attestations *memAttestations
	oracles      *memOracles
	disputes     *memDisputes
	accounts     *memAccounts
	ledger       *fakeLedger
	locks        *fakeLocks
	bus          *fakeBus
	sink         *fakeSink
	prices       *fakePrices
	vault        *fakeVault

	clock time.Time

	predictionSvc *PredictionService
	marketSvc     *MarketService
	tradeSvc      *TradeService
	oracleSvc     *OracleService
	disputeSvc    *DisputeService
	settleSvc     *SettlementService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		markets:      newMemMarkets(),
		predictions:  newMemPredictions(),
		pools:        newMemPools(),
		positions:    newMemPositions(),
		trades:       newMemTrades(),
		attestations: newMemAttestations(),
		oracles:      newMemOracles(),
		disputes:     newMemDisputes(),
		accounts:     newMemAccounts(),
		ledger:       &fakeLedger{},
		locks:        newFakeLocks(),
		bus:          newFakeBus(),
		sink:         &fakeSink{},
		prices:       newFakePrices(),
		vault:        newFakeVault(),
		clock:        baseTime,
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tx := fakeTx{}

	box, err := crypto.NewSaltBox("test-engine-secret")
	require.NoError(t, err)

	env.settleSvc = NewSettlementService(env.markets, env.predictions, env.accounts, tx, env.locks, env.bus, env.sink, logger)
	env.marketSvc = NewMarketService(env.markets, env.pools, tx, env.settleSvc, env.prices, env.bus, logger)
	env.predictionSvc = NewPredictionService(env.markets, env.predictions, env.accounts, tx, env.ledger, commitment.NewEngine(box), env.bus, logger)
	env.tradeSvc = NewTradeService(env.markets, env.pools, env.positions, env.trades, env.accounts, tx, env.ledger, env.locks, env.prices, env.bus, env.sink, logger)
	env.oracleSvc = NewOracleService(env.oracles, env.attestations, env.markets, tx, env.marketSvc, env.vault, logger)
	env.disputeSvc = NewDisputeService(env.disputes, env.markets, tx, env.settleSvc, env.bus, env.sink, logger)

	env.setClock(baseTime)
	return env
}

// setClock pins every service's wall clock to ts.
func (e *testEnv) setClock(ts time.Time) {
	e.clock = ts
	now := func() time.Time { return ts }
	e.predictionSvc.now = now
	e.marketSvc.now = now
	e.tradeSvc.now = now
	e.oracleSvc.now = now
	e.disputeSvc.now = now
	e.settleSvc.now = now
}

// advanceClock moves the shared clock forward by d.
func (e *testEnv) advanceClock(d time.Duration) {
	e.setClock(e.clock.Add(d))
}

// openMarket seeds a standard open market with a 50/50 AMM pool closing one
// day out.
func (e *testEnv) openMarket(t *testing.T) domain.Market {
	t.Helper()
	market, err := e.marketSvc.CreateMarket(context.Background(), CreateMarketParams{
		Question:       "Will it ship by Friday?",
		ContractRef:    "0xmarket",
		ClosingAt:      e.clock.Add(24 * time.Hour),
		Subsidy:        domain.MustDec("1000"),
		InitialYesProb: domain.MustDec("0.5"),
		FeeRate:        domain.MustDec("0.02"),
	})
	require.NoError(t, err)
	return market
}

// commitAndReveal pushes one user through commit and reveal on market.
func (e *testEnv) commitAndReveal(t *testing.T, userID, marketID string, outcome domain.Outcome, stake string) domain.Prediction {
	t.Helper()
	ctx := context.Background()
	e.accounts.deposit(userID, "100000")
	_, err := e.predictionSvc.Commit(ctx, userID, marketID, outcome, domain.MustDec(stake))
	require.NoError(t, err)
	pred, err := e.predictionSvc.Reveal(ctx, userID, marketID)
	require.NoError(t, err)
	return pred
}

// resolvePastDeadline closes the clock past the market deadline and resolves
// it as admin with the given outcome, running settlement.
func (e *testEnv) resolvePastDeadline(t *testing.T, marketID string, outcome domain.Outcome) {
	t.Helper()
	e.advanceClock(25 * time.Hour)
	_, err := e.marketSvc.ResolveMarket(context.Background(), marketID, outcome, domain.ResolutionSourceAdmin)
	require.NoError(t, err)
}
