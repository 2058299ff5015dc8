package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/apd/v3"
	"golang.org/x/sync/errgroup"

	"github.com/outcomelab/predmarket/internal/domain"
)

// claimLockTTL bounds how long a claim holds the per-prediction lock.
const claimLockTTL = 10 * time.Second

// settleConcurrency caps the per-prediction settlement fan-out.
const settleConcurrency = 8

// SettlementService distributes the staked pool parimutuel-style once a
// market resolves, and pays out claimed winnings at most once per prediction.
type SettlementService struct {
	markets     domain.MarketStore
	predictions domain.PredictionStore
	accounts    domain.AccountStore
	tx          domain.TxManager
	locks       domain.LockManager
	bus         domain.SignalBus
	sink        domain.NotificationSink
	logger      *slog.Logger
	now         func() time.Time
}

func NewSettlementService(
	markets domain.MarketStore,
	predictions domain.PredictionStore,
	accounts domain.AccountStore,
	tx domain.TxManager,
	locks domain.LockManager,
	bus domain.SignalBus,
	sink domain.NotificationSink,
	logger *slog.Logger,
) *SettlementService {
	return &SettlementService{
		markets:     markets,
		predictions: predictions,
		accounts:    accounts,
		tx:          tx,
		locks:       locks,
		bus:         bus,
		sink:        sink,
		logger:      logger,
		now:         time.Now,
	}
}

// payoutMultiplier computes (winPool + losePool) / winPool over the market's
// predictions. Unrevealed stakes are forfeited into the losing pool; stakes
// revealed on the losing side join it too.
func payoutMultiplier(preds []domain.Prediction, winner domain.Outcome) (*apd.Decimal, error) {
	winPool := domain.DecZero()
	losePool := domain.DecZero()

	for _, p := range preds {
		var err error
		if p.RevealedAt != nil && p.PredictedOutcome != nil && *p.PredictedOutcome == winner {
			winPool, err = domain.DecAdd(winPool, p.AmountStaked)
		} else {
			losePool, err = domain.DecAdd(losePool, p.AmountStaked)
		}
		if err != nil {
			return nil, err
		}
	}

	if winPool.Sign() <= 0 {
		// Nobody revealed the winning side; there is nothing to multiply.
		return nil, nil
	}
	total, err := domain.DecAdd(winPool, losePool)
	if err != nil {
		return nil, err
	}
	return domain.DecQuo(total, winPool)
}

// SettleMarket marks every prediction of a resolved market settled, flagging
// winners and computing their parimutuel payout. Idempotent: already-settled
// predictions are skipped, so a partial failure can simply be rerun.
func (s *SettlementService) SettleMarket(ctx context.Context, marketID string) error {
	market, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("market %s: %w", marketID, domain.ErrMarketNotFound)
		}
		return fmt.Errorf("settlement_service: get market %s: %w", marketID, err)
	}
	if !market.Resolved() {
		return fmt.Errorf("market %s is %s: %w", marketID, market.Status, domain.ErrInvalidMarketState)
	}
	winner := *market.WinningOutcome

	preds, err := s.predictions.ListByMarket(ctx, marketID)
	if err != nil {
		return fmt.Errorf("settlement_service: list predictions for %s: %w", marketID, err)
	}
	if len(preds) == 0 {
		return nil
	}

	multiplier, err := payoutMultiplier(preds, winner)
	if err != nil {
		return fmt.Errorf("settlement_service: payout multiplier for %s: %w", marketID, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(settleConcurrency)
	var settled int64
	var mu sync.Mutex

	for _, p := range preds {
		if p.Status == domain.PredictionStatusSettled {
			continue
		}
		g.Go(func() error {
			done, err := s.settleOne(gctx, p.ID, winner, multiplier)
			if err != nil {
				return err
			}
			if done {
				mu.Lock()
				settled++
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("settlement_service: settle market %s: %w", marketID, err)
	}

	publishEvent(ctx, s.bus, s.logger, "settlements", map[string]any{
		"event":     "market_settled",
		"market_id": marketID,
		"outcome":   winner.Label(),
		"settled":   settled,
	})

	s.logger.InfoContext(ctx, "settlement_service: market settled",
		slog.String("market_id", marketID),
		slog.String("outcome", winner.Label()),
		slog.Int64("predictions", settled),
	)
	return nil
}

// settleOne settles a single prediction in its own unit of work. Returns
// false without error if another settler got there first.
func (s *SettlementService) settleOne(ctx context.Context, predictionID string, winner domain.Outcome, multiplier *apd.Decimal) (bool, error) {
	var pred domain.Prediction
	settled := false
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := s.predictions.GetByIDForUpdate(ctx, predictionID)
		if err != nil {
			return fmt.Errorf("lock prediction %s: %w", predictionID, err)
		}
		if p.Status == domain.PredictionStatusSettled {
			return nil
		}

		won := p.RevealedAt != nil &&
			p.PredictedOutcome != nil && *p.PredictedOutcome == winner

		p.IsWinner = won
		if won && multiplier != nil {
			payout, err := domain.DecMul(p.AmountStaked, multiplier)
			if err != nil {
				return err
			}
			p.PnlUsd = domain.RoundDisplay(payout)
		} else {
			// Losing and unrevealed stakes are forfeited into the pool; the
			// ledger records zero winnings for them.
			p.PnlUsd = domain.DecZero()
		}
		p.Status = domain.PredictionStatusSettled
		t := s.now()
		p.SettledAt = &t

		if err := s.predictions.Update(ctx, p); err != nil {
			return err
		}
		pred = p
		settled = true
		return nil
	})
	if err != nil || !settled {
		return false, err
	}

	notifyUser(ctx, s.sink, s.logger, pred.UserID, domain.NotifyPredictionSettled, map[string]any{
		"prediction_id": pred.ID,
		"market_id":     pred.MarketID,
		"is_winner":     pred.IsWinner,
		"pnl_usd":       pred.PnlUsd.Text('f'),
	})
	return true, nil
}

// ResettleMarket reruns settlement after a dispute overturned the outcome.
// Unclaimed predictions are re-marked against the corrected outcome; payouts
// already claimed cannot be reversed and their prediction IDs are returned
// for the dispute record.
func (s *SettlementService) ResettleMarket(ctx context.Context, marketID string) ([]string, error) {
	market, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("settlement_service: get market %s: %w", marketID, err)
	}
	if !market.Resolved() {
		return nil, fmt.Errorf("market %s is %s: %w", marketID, market.Status, domain.ErrInvalidMarketState)
	}
	winner := *market.WinningOutcome

	preds, err := s.predictions.ListByMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("settlement_service: list predictions for %s: %w", marketID, err)
	}

	multiplier, err := payoutMultiplier(preds, winner)
	if err != nil {
		return nil, fmt.Errorf("settlement_service: payout multiplier for %s: %w", marketID, err)
	}

	var conflicted []string
	for _, p := range preds {
		if p.WinningsClaimed {
			conflicted = append(conflicted, p.ID)
			continue
		}
		err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
			cur, err := s.predictions.GetByIDForUpdate(ctx, p.ID)
			if err != nil {
				return fmt.Errorf("lock prediction %s: %w", p.ID, err)
			}
			if cur.WinningsClaimed {
				conflicted = append(conflicted, cur.ID)
				return nil
			}

			won := cur.PredictedOutcome != nil && *cur.PredictedOutcome == winner &&
				cur.RevealedAt != nil

			cur.IsWinner = won
			if won && multiplier != nil {
				payout, err := domain.DecMul(cur.AmountStaked, multiplier)
				if err != nil {
					return err
				}
				cur.PnlUsd = domain.RoundDisplay(payout)
			} else {
				cur.PnlUsd = domain.DecZero()
			}
			cur.Status = domain.PredictionStatusSettled
			t := s.now()
			cur.SettledAt = &t
			return s.predictions.Update(ctx, cur)
		})
		if err != nil {
			return nil, fmt.Errorf("settlement_service: resettle prediction %s: %w", p.ID, err)
		}
	}

	sort.Strings(conflicted)
	s.logger.InfoContext(ctx, "settlement_service: market resettled",
		slog.String("market_id", marketID),
		slog.String("outcome", winner.Label()),
		slog.Int("claimed_conflicts", len(conflicted)),
	)
	return conflicted, nil
}

// ClaimWinnings credits a winning prediction's payout to its owner, at most
// once. Claims are paused while the market is disputed.
func (s *SettlementService) ClaimWinnings(ctx context.Context, userID, predictionID string) (*apd.Decimal, error) {
	unlock, err := s.locks.Acquire(ctx, "claim:"+predictionID, claimLockTTL)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var payout *apd.Decimal
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		pred, err := s.predictions.GetByIDForUpdate(ctx, predictionID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.ErrPredictionNotFound
			}
			return fmt.Errorf("settlement_service: lock prediction %s: %w", predictionID, err)
		}
		if pred.UserID != userID {
			return domain.ErrUnauthorized
		}
		if pred.Status != domain.PredictionStatusSettled {
			return domain.ErrPredictionNotSettled
		}
		if !pred.IsWinner {
			return domain.ErrPredictionDidNotWin
		}
		if pred.WinningsClaimed {
			return domain.ErrWinningsAlreadyClaimed
		}
		if pred.PnlUsd == nil || pred.PnlUsd.Sign() <= 0 {
			return domain.ErrNoWinningsToClaim
		}

		market, err := s.markets.GetByID(ctx, pred.MarketID)
		if err != nil {
			return fmt.Errorf("settlement_service: get market %s: %w", pred.MarketID, err)
		}
		if !market.Resolved() {
			// Disputed markets pause claims until review lands.
			return fmt.Errorf("market %s is %s: %w", market.ID, market.Status, domain.ErrInvalidMarketState)
		}

		pred.WinningsClaimed = true
		if err := s.predictions.Update(ctx, pred); err != nil {
			return err
		}
		if err := s.accounts.Credit(ctx, userID, pred.PnlUsd); err != nil {
			return err
		}
		payout = domain.CloneDec(pred.PnlUsd)
		return nil
	})
	if err != nil {
		return nil, err
	}

	notifyUser(ctx, s.sink, s.logger, userID, domain.NotifyWinningsClaimed, map[string]any{
		"prediction_id": predictionID,
		"payout":        payout.Text('f'),
	})
	publishEvent(ctx, s.bus, s.logger, "settlements", map[string]any{
		"event":         "winnings_claimed",
		"prediction_id": predictionID,
		"payout":        payout.Text('f'),
	})

	s.logger.InfoContext(ctx, "settlement_service: winnings claimed",
		slog.String("prediction_id", predictionID),
		slog.String("user_id", userID),
		slog.String("payout", payout.Text('f')),
	)
	return payout, nil
}
