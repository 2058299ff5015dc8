package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/outcomelab/predmarket/internal/consensus"
	"github.com/outcomelab/predmarket/internal/crypto"
	"github.com/outcomelab/predmarket/internal/domain"
	"github.com/outcomelab/predmarket/internal/lifecycle"
)

// Resolver fixes a market's winning outcome. Implemented by MarketService.
type Resolver interface {
	ResolveMarket(ctx context.Context, marketID string, outcome domain.Outcome, source domain.ResolutionSource) (domain.Market, error)
}

// OracleService manages the oracle registry, attestation intake, and the
// consensus sweep that resolves markets once a strict majority of the
// registered oracles agree.
type OracleService struct {
	oracles      domain.OracleStore
	attestations domain.AttestationStore
	markets      domain.MarketStore
	tx           domain.TxManager
	resolver     Resolver
	vault        domain.ProofVault
	logger       *slog.Logger
	now          func() time.Time
}

func NewOracleService(
	oracles domain.OracleStore,
	attestations domain.AttestationStore,
	markets domain.MarketStore,
	tx domain.TxManager,
	resolver Resolver,
	vault domain.ProofVault,
	logger *slog.Logger,
) *OracleService {
	return &OracleService{
		oracles:      oracles,
		attestations: attestations,
		markets:      markets,
		tx:           tx,
		resolver:     resolver,
		vault:        vault,
		logger:       logger,
		now:          time.Now,
	}
}

// RegisterOracle adds an oracle to the active registry.
func (s *OracleService) RegisterOracle(ctx context.Context, name, address string) (domain.Oracle, error) {
	if name == "" || address == "" {
		return domain.Oracle{}, fmt.Errorf("oracle_service: name and address are required: %w", domain.ErrOracleUnknown)
	}
	oracle := domain.Oracle{
		ID:        uuid.New().String(),
		Name:      name,
		Address:   address,
		Active:    true,
		CreatedAt: s.now(),
	}
	if err := s.oracles.Create(ctx, oracle); err != nil {
		return domain.Oracle{}, fmt.Errorf("oracle_service: register oracle %q: %w", name, err)
	}

	s.logger.InfoContext(ctx, "oracle_service: registered",
		slog.String("oracle_id", oracle.ID),
		slog.String("name", name),
		slog.String("address", address),
	)
	return oracle, nil
}

// SubmitAttestation records one oracle's outcome report for a market. The
// market must be past its closing deadline, the signature must verify against
// the oracle's registered address, and repeated submissions by the same
// oracle are rejected. If consensus is reached the market resolves
// immediately.
func (s *OracleService) SubmitAttestation(ctx context.Context, oracleID, marketID string, outcome domain.Outcome, sigHex string, proofDoc []byte) (domain.Attestation, error) {
	if !outcome.Valid() {
		return domain.Attestation{}, domain.ErrInvalidOutcome
	}

	oracle, err := s.oracles.GetByID(ctx, oracleID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Attestation{}, fmt.Errorf("oracle %s: %w", oracleID, domain.ErrOracleUnknown)
		}
		return domain.Attestation{}, fmt.Errorf("oracle_service: get oracle %s: %w", oracleID, err)
	}
	if !oracle.Active {
		return domain.Attestation{}, fmt.Errorf("oracle %s is inactive: %w", oracleID, domain.ErrOracleUnknown)
	}

	market, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Attestation{}, fmt.Errorf("market %s: %w", marketID, domain.ErrMarketNotFound)
		}
		return domain.Attestation{}, fmt.Errorf("oracle_service: get market %s: %w", marketID, err)
	}
	if err := lifecycle.CanResolve(&market, s.now()); err != nil {
		return domain.Attestation{}, err
	}

	ok, err := crypto.VerifyAttestationSig(marketID, int(outcome), sigHex, oracle.Address)
	if err != nil {
		return domain.Attestation{}, fmt.Errorf("%v: %w", err, domain.ErrInvalidAttestationProof)
	}
	if !ok {
		return domain.Attestation{}, fmt.Errorf("signature does not match oracle %s address: %w",
			oracleID, domain.ErrInvalidAttestationProof)
	}

	// Reject repeat submissions before touching the proof vault, so a
	// duplicate never leaves an orphaned proof object behind. The store's
	// uniqueness constraint stays authoritative under races.
	existing, err := s.attestations.ListByMarket(ctx, marketID)
	if err != nil {
		return domain.Attestation{}, fmt.Errorf("oracle_service: list attestations for %s: %w", marketID, err)
	}
	for _, a := range existing {
		if a.OracleID == oracleID {
			return domain.Attestation{}, fmt.Errorf("oracle %s already attested market %s: %w",
				oracleID, marketID, domain.ErrDuplicateAttestation)
		}
	}

	proofRef := ""
	if len(proofDoc) > 0 && s.vault != nil {
		ref, err := s.vault.Put(ctx, marketID, oracleID, proofDoc)
		if err != nil {
			// The signed attestation is the source of truth; losing the raw
			// proof document is survivable.
			s.logger.WarnContext(ctx, "oracle_service: proof vault write failed",
				slog.String("market_id", marketID),
				slog.String("oracle_id", oracleID),
				slog.String("error", err.Error()),
			)
		} else {
			proofRef = ref
		}
	}

	att := domain.Attestation{
		ID:          uuid.New().String(),
		MarketID:    marketID,
		OracleID:    oracleID,
		Outcome:     outcome,
		ProofRef:    proofRef,
		Signature:   sigHex,
		SubmittedAt: s.now(),
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.attestations.Create(ctx, att); err != nil {
			return err
		}
		m, err := s.markets.GetByIDForUpdate(ctx, marketID)
		if err != nil {
			return fmt.Errorf("oracle_service: lock market %s: %w", marketID, err)
		}
		m.AttestationCount++
		m.UpdatedAt = s.now()
		return s.markets.Update(ctx, m)
	})
	if err != nil {
		return domain.Attestation{}, err
	}

	s.logger.InfoContext(ctx, "oracle_service: attestation recorded",
		slog.String("market_id", marketID),
		slog.String("oracle_id", oracleID),
		slog.String("outcome", outcome.Label()),
	)

	if _, err := s.CheckAndSettle(ctx, marketID); err != nil {
		// Consensus is re-evaluated by the sweep; a failure here does not
		// invalidate the recorded attestation.
		s.logger.WarnContext(ctx, "oracle_service: consensus check failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}

	return att, nil
}

// CheckConsensus tallies the market's attestations against the strict
// majority of the active oracle registry. Returns ErrNoConsensus while no
// outcome has reached the threshold.
func (s *OracleService) CheckConsensus(ctx context.Context, marketID string) (domain.Outcome, consensus.Tally, error) {
	total, err := s.oracles.CountActive(ctx)
	if err != nil {
		return 0, consensus.Tally{}, fmt.Errorf("oracle_service: count oracles: %w", err)
	}
	atts, err := s.attestations.ListByMarket(ctx, marketID)
	if err != nil {
		return 0, consensus.Tally{}, fmt.Errorf("oracle_service: list attestations for %s: %w", marketID, err)
	}

	tally := consensus.Count(atts)
	outcome, ok := tally.Winner(consensus.Threshold(total))
	if !ok {
		return 0, tally, fmt.Errorf("market %s: %d yes / %d no of %d oracles: %w",
			marketID, tally.Yes, tally.No, total, domain.ErrNoConsensus)
	}
	return outcome, tally, nil
}

// CheckAndSettle resolves the market if consensus has been reached. Returns
// whether the market was resolved by this call.
func (s *OracleService) CheckAndSettle(ctx context.Context, marketID string) (bool, error) {
	outcome, _, err := s.CheckConsensus(ctx, marketID)
	if err != nil {
		if errors.Is(err, domain.ErrNoConsensus) {
			return false, nil
		}
		return false, err
	}
	if _, err := s.resolver.ResolveMarket(ctx, marketID, outcome, domain.ResolutionSourceOracleConsensus); err != nil {
		if errors.Is(err, domain.ErrInvalidMarketState) {
			// Already resolved by a concurrent submission or the sweep.
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ResolvePending sweeps closed markets and resolves any whose attestations
// have reached consensus. Returns the number of markets resolved.
func (s *OracleService) ResolvePending(ctx context.Context) (int, error) {
	closed, err := s.markets.ListByStatus(ctx, domain.MarketStatusClosed, domain.ListOpts{})
	if err != nil {
		return 0, fmt.Errorf("oracle_service: list closed markets: %w", err)
	}

	resolved := 0
	for _, m := range closed {
		settled, err := s.CheckAndSettle(ctx, m.ID)
		if err != nil {
			s.logger.WarnContext(ctx, "oracle_service: sweep resolve failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if settled {
			resolved++
		}
	}
	return resolved, nil
}
