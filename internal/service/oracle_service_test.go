package service

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outcomelab/predmarket/internal/crypto"
	"github.com/outcomelab/predmarket/internal/domain"
)

// testOracle is a registered oracle plus the private key its attestations
// are signed with.
type testOracle struct {
	domain.Oracle
	keyHex string
}

func registerOracles(t *testing.T, env *testEnv, n int) []testOracle {
	t.Helper()
	out := make([]testOracle, 0, n)
	for i := 0; i < n; i++ {
		pk, err := ethcrypto.GenerateKey()
		require.NoError(t, err)
		addr := ethcrypto.PubkeyToAddress(pk.PublicKey).Hex()

		oracle, err := env.oracleSvc.RegisterOracle(context.Background(), "oracle", addr)
		require.NoError(t, err)
		out = append(out, testOracle{
			Oracle: oracle,
			keyHex: hex.EncodeToString(ethcrypto.FromECDSA(pk)),
		})
	}
	return out
}

func attest(t *testing.T, env *testEnv, o testOracle, marketID string, outcome domain.Outcome) error {
	t.Helper()
	sig, err := crypto.SignAttestation(marketID, int(outcome), o.keyHex)
	require.NoError(t, err)
	_, err = env.oracleSvc.SubmitAttestation(context.Background(), o.ID, marketID, outcome, sig, nil)
	return err
}

func TestAttestationRequiresClosedOrDueMarket(t *testing.T) {
	env := newTestEnv(t)
	market := env.openMarket(t)
	oracles := registerOracles(t, env, 1)

	err := attest(t, env, oracles[0], market.ID, domain.OutcomeYes)
	assert.ErrorIs(t, err, domain.ErrMarketStillOpen)
}

func TestAttestationSignatureVerification(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	market := env.openMarket(t)
	oracles := registerOracles(t, env, 3)
	env.advanceClock(25 * time.Hour)

	// A signature from a different key than the registered address.
	wrongSig, err := crypto.SignAttestation(market.ID, int(domain.OutcomeYes), oracles[1].keyHex)
	require.NoError(t, err)
	_, err = env.oracleSvc.SubmitAttestation(ctx, oracles[0].ID, market.ID, domain.OutcomeYes, wrongSig, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidAttestationProof)

	// A signature over a different outcome than the one submitted.
	sig, err := crypto.SignAttestation(market.ID, int(domain.OutcomeNo), oracles[0].keyHex)
	require.NoError(t, err)
	_, err = env.oracleSvc.SubmitAttestation(ctx, oracles[0].ID, market.ID, domain.OutcomeYes, sig, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidAttestationProof)

	// The genuine signature is accepted.
	require.NoError(t, attest(t, env, oracles[0], market.ID, domain.OutcomeYes))
}

func TestDuplicateAttestationRejected(t *testing.T) {
	env := newTestEnv(t)
	market := env.openMarket(t)
	oracles := registerOracles(t, env, 3)
	env.advanceClock(25 * time.Hour)

	require.NoError(t, attest(t, env, oracles[0], market.ID, domain.OutcomeYes))

	err := attest(t, env, oracles[0], market.ID, domain.OutcomeNo)
	assert.ErrorIs(t, err, domain.ErrDuplicateAttestation)
}

func TestDuplicateAttestationLeavesNoStrayProof(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	market := env.openMarket(t)
	oracles := registerOracles(t, env, 3)
	env.advanceClock(25 * time.Hour)

	doc := []byte(`{"source":"feed-a"}`)
	sig, err := crypto.SignAttestation(market.ID, int(domain.OutcomeYes), oracles[0].keyHex)
	require.NoError(t, err)

	att, err := env.oracleSvc.SubmitAttestation(ctx, oracles[0].ID, market.ID, domain.OutcomeYes, sig, doc)
	require.NoError(t, err)
	require.NotEmpty(t, att.ProofRef)

	stored, err := env.vault.Get(ctx, att.ProofRef)
	require.NoError(t, err)
	assert.Equal(t, doc, stored)

	// The repeat submission is rejected before the vault is touched.
	sig, err = crypto.SignAttestation(market.ID, int(domain.OutcomeNo), oracles[0].keyHex)
	require.NoError(t, err)
	_, err = env.oracleSvc.SubmitAttestation(ctx, oracles[0].ID, market.ID, domain.OutcomeNo, sig, []byte(`{"source":"feed-b"}`))
	assert.ErrorIs(t, err, domain.ErrDuplicateAttestation)

	env.vault.mu.Lock()
	defer env.vault.mu.Unlock()
	assert.Equal(t, 1, env.vault.puts)
}

func TestUnknownOrInactiveOracleRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	market := env.openMarket(t)
	env.advanceClock(25 * time.Hour)

	_, err := env.oracleSvc.SubmitAttestation(ctx, "ghost", market.ID, domain.OutcomeYes, "00", nil)
	assert.ErrorIs(t, err, domain.ErrOracleUnknown)

	inactive := registerOracles(t, env, 1)[0]
	inactive.Active = false
	require.NoError(t, env.oracles.Create(ctx, inactive.Oracle))
	err = attest(t, env, inactive, market.ID, domain.OutcomeYes)
	assert.ErrorIs(t, err, domain.ErrOracleUnknown)
}

func TestFiveOracleConsensusResolvesOnThirdAgreement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	market := env.openMarket(t)
	env.commitAndReveal(t, "alice", market.ID, domain.OutcomeYes, "100")
	oracles := registerOracles(t, env, 5)
	env.advanceClock(25 * time.Hour)

	// Two YES and two NO: no consensus among five oracles.
	require.NoError(t, attest(t, env, oracles[0], market.ID, domain.OutcomeYes))
	require.NoError(t, attest(t, env, oracles[1], market.ID, domain.OutcomeYes))
	require.NoError(t, attest(t, env, oracles[2], market.ID, domain.OutcomeNo))
	require.NoError(t, attest(t, env, oracles[3], market.ID, domain.OutcomeNo))

	_, _, err := env.oracleSvc.CheckConsensus(ctx, market.ID)
	assert.ErrorIs(t, err, domain.ErrNoConsensus)
	m, err := env.markets.GetByID(ctx, market.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusOpen, m.Status)
	assert.Equal(t, 4, m.AttestationCount)

	// The fifth attestation reaches the 3-of-5 threshold and the market
	// resolves immediately.
	require.NoError(t, attest(t, env, oracles[4], market.ID, domain.OutcomeYes))

	m, err = env.markets.GetByID(ctx, market.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusResolved, m.Status)
	require.NotNil(t, m.WinningOutcome)
	assert.Equal(t, domain.OutcomeYes, *m.WinningOutcome)
	assert.Equal(t, domain.ResolutionSourceOracleConsensus, m.ResolutionSource)
}

func TestResolvePendingSweep(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	market := env.openMarket(t)
	oracles := registerOracles(t, env, 3)
	env.advanceClock(25 * time.Hour)

	_, err := env.marketSvc.CloseMarket(ctx, market.ID)
	require.NoError(t, err)

	require.NoError(t, attest(t, env, oracles[0], market.ID, domain.OutcomeNo))

	resolved, err := env.oracleSvc.ResolvePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, resolved, "one attestation of three is below threshold")

	require.NoError(t, attest(t, env, oracles[1], market.ID, domain.OutcomeNo))

	m, err := env.markets.GetByID(ctx, market.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusResolved, m.Status)

	// The sweep after resolution finds nothing left to do.
	resolved, err = env.oracleSvc.ResolvePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, resolved)
}
