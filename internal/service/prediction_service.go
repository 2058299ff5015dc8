package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"

	"github.com/outcomelab/predmarket/internal/commitment"
	"github.com/outcomelab/predmarket/internal/domain"
	"github.com/outcomelab/predmarket/internal/lifecycle"
)

// PredictionService runs the commit-reveal flow: hidden stake commitments
// while a market is open, reveals during the reveal window, and per-user
// stats for external leaderboards.
type PredictionService struct {
	markets     domain.MarketStore
	predictions domain.PredictionStore
	accounts    domain.AccountStore
	tx          domain.TxManager
	ledger      domain.LedgerClient
	commits     *commitment.Engine
	bus         domain.SignalBus
	logger      *slog.Logger
	now         func() time.Time
}

// NewPredictionService creates a PredictionService with all required
// dependencies.
func NewPredictionService(
	markets domain.MarketStore,
	predictions domain.PredictionStore,
	accounts domain.AccountStore,
	tx domain.TxManager,
	ledger domain.LedgerClient,
	commits *commitment.Engine,
	bus domain.SignalBus,
	logger *slog.Logger,
) *PredictionService {
	return &PredictionService{
		markets:     markets,
		predictions: predictions,
		accounts:    accounts,
		tx:          tx,
		ledger:      ledger,
		commits:     commits,
		bus:         bus,
		logger:      logger,
		now:         time.Now,
	}
}

// Commit stakes amount on a hidden outcome for the given market. The
// commitment hash is mirrored to the ledger network before any local
// mutation; the stake is escrowed from the user's balance, the prediction
// row created, and the market's outcome volume bumped in one unit of work.
func (s *PredictionService) Commit(ctx context.Context, userID, marketID string, outcome domain.Outcome, amount *apd.Decimal) (domain.Prediction, error) {
	if !outcome.Valid() {
		return domain.Prediction{}, domain.ErrInvalidOutcome
	}
	if amount == nil || amount.Sign() <= 0 {
		return domain.Prediction{}, domain.ErrInvalidAmount
	}

	market, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Prediction{}, fmt.Errorf("market %s: %w", marketID, domain.ErrMarketNotFound)
		}
		return domain.Prediction{}, fmt.Errorf("prediction_service: get market %s: %w", marketID, err)
	}
	if err := lifecycle.CanCommit(&market, s.now()); err != nil {
		return domain.Prediction{}, err
	}

	// Cheap pre-check; the unique constraint on (user, market) is the
	// authoritative guard under concurrency.
	if _, err := s.predictions.GetByUserAndMarket(ctx, userID, marketID); err == nil {
		return domain.Prediction{}, domain.ErrAlreadyCommitted
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Prediction{}, fmt.Errorf("prediction_service: check existing prediction: %w", err)
	}

	com, err := s.commits.NewCommitment(userID, marketID, outcome)
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("prediction_service: build commitment: %w", err)
	}

	var pred domain.Prediction
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		// External call first: its failure aborts the unit of work before
		// any balance mutation, so the caller can safely retry.
		receipt, err := s.ledger.CommitPrediction(ctx, market.ContractRef, com.Hash, amount)
		if err != nil {
			return fmt.Errorf("prediction_service: ledger commit: %w", err)
		}

		if err := s.accounts.Debit(ctx, userID, amount); err != nil {
			return err
		}

		pred = domain.Prediction{
			ID:             uuid.New().String(),
			UserID:         userID,
			MarketID:       marketID,
			CommitmentHash: com.Hash,
			EncryptedSalt:  com.EncryptedSalt,
			SaltIV:         com.SaltIV,
			AmountStaked:   domain.CloneDec(amount),
			Status:         domain.PredictionStatusCommitted,
			PnlUsd:         domain.DecZero(),
			CommitTxHash:   receipt.TxHash,
			CommittedAt:    s.now(),
		}
		if err := s.predictions.Create(ctx, pred); err != nil {
			return err
		}

		return s.markets.AddVolume(ctx, marketID, outcome, amount)
	})
	if err != nil {
		return domain.Prediction{}, err
	}

	publishEvent(ctx, s.bus, s.logger, "predictions", map[string]any{
		"event":         "prediction_committed",
		"prediction_id": pred.ID,
		"market_id":     marketID,
		"amount":        amount.Text('f'),
	})

	s.logger.InfoContext(ctx, "prediction_service: committed",
		slog.String("prediction_id", pred.ID),
		slog.String("user_id", userID),
		slog.String("market_id", marketID),
		slog.String("amount", amount.Text('f')),
	)

	return pred, nil
}

// Reveal discloses the user's hidden outcome by decrypting the stored salt
// and recomputing the commitment hash for each candidate. The reveal window
// ends at the market's closing time regardless of status.
func (s *PredictionService) Reveal(ctx context.Context, userID, marketID string) (domain.Prediction, error) {
	market, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Prediction{}, fmt.Errorf("market %s: %w", marketID, domain.ErrMarketNotFound)
		}
		return domain.Prediction{}, fmt.Errorf("prediction_service: get market %s: %w", marketID, err)
	}
	if err := lifecycle.CanReveal(&market, s.now()); err != nil {
		return domain.Prediction{}, err
	}

	pred, err := s.predictions.GetByUserAndMarket(ctx, userID, marketID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Prediction{}, domain.ErrPredictionNotFound
		}
		return domain.Prediction{}, fmt.Errorf("prediction_service: get prediction: %w", err)
	}
	if pred.Status != domain.PredictionStatusCommitted {
		return domain.Prediction{}, domain.ErrPredictionNotCommitted
	}

	salt, err := s.commits.DecryptSalt(pred.EncryptedSalt, pred.SaltIV)
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("prediction_service: %w", err)
	}
	outcome, err := commitment.RecoverOutcome(pred.CommitmentHash, userID, marketID, salt)
	if err != nil {
		return domain.Prediction{}, err
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		receipt, err := s.ledger.RevealPrediction(ctx, market.ContractRef, outcome, salt)
		if err != nil {
			return fmt.Errorf("prediction_service: ledger reveal: %w", err)
		}

		locked, err := s.predictions.GetByIDForUpdate(ctx, pred.ID)
		if err != nil {
			return fmt.Errorf("prediction_service: lock prediction: %w", err)
		}
		if locked.Status != domain.PredictionStatusCommitted {
			return domain.ErrPredictionNotCommitted
		}

		o := outcome
		revealedAt := s.now()
		locked.PredictedOutcome = &o
		locked.Status = domain.PredictionStatusRevealed
		locked.RevealedAt = &revealedAt
		locked.RevealTxHash = receipt.TxHash

		if err := s.predictions.Update(ctx, locked); err != nil {
			return err
		}
		pred = locked
		return nil
	})
	if err != nil {
		return domain.Prediction{}, err
	}

	s.logger.InfoContext(ctx, "prediction_service: revealed",
		slog.String("prediction_id", pred.ID),
		slog.String("market_id", marketID),
		slog.String("outcome", outcome.Label()),
	)

	return pred, nil
}

// Stats returns the user's aggregate commit-reveal record.
func (s *PredictionService) Stats(ctx context.Context, userID string) (domain.PredictionStats, error) {
	stats, err := s.predictions.UserStats(ctx, userID)
	if err != nil {
		return domain.PredictionStats{}, fmt.Errorf("prediction_service: user stats for %q: %w", userID, err)
	}
	return stats, nil
}
