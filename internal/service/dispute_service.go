package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/outcomelab/predmarket/internal/domain"
	"github.com/outcomelab/predmarket/internal/lifecycle"
)

// ReviewDecision is the reviewer's terminal verdict on a dispute.
type ReviewDecision struct {
	Action     domain.DisputeAction
	NewOutcome *domain.Outcome // required for resolve_new_outcome
	Notes      string
}

// DisputeService handles formal challenges against market outcomes: opening
// a dispute freezes claims, review either dismisses it or overturns the
// outcome and reruns settlement.
type DisputeService struct {
	disputes domain.DisputeStore
	markets  domain.MarketStore
	tx       domain.TxManager
	settler  Settler
	bus      domain.SignalBus
	sink     domain.NotificationSink
	logger   *slog.Logger
	now      func() time.Time
}

func NewDisputeService(
	disputes domain.DisputeStore,
	markets domain.MarketStore,
	tx domain.TxManager,
	settler Settler,
	bus domain.SignalBus,
	sink domain.NotificationSink,
	logger *slog.Logger,
) *DisputeService {
	return &DisputeService{
		disputes: disputes,
		markets:  markets,
		tx:       tx,
		settler:  settler,
		bus:      bus,
		sink:     sink,
		logger:   logger,
		now:      time.Now,
	}
}

// SubmitDispute opens a challenge against the market's outcome and moves the
// market to disputed, pausing claims until review.
func (s *DisputeService) SubmitDispute(ctx context.Context, userID, marketID, reason, evidence string) (domain.Dispute, error) {
	if strings.TrimSpace(reason) == "" {
		return domain.Dispute{}, fmt.Errorf("dispute_service: reason must not be empty: %w", domain.ErrMarketNotDisputable)
	}

	var dispute domain.Dispute
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		market, err := s.markets.GetByIDForUpdate(ctx, marketID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("market %s: %w", marketID, domain.ErrMarketNotFound)
			}
			return fmt.Errorf("dispute_service: lock market %s: %w", marketID, err)
		}

		prior := market.WinningOutcome
		if err := lifecycle.MarkDisputed(&market); err != nil {
			return err
		}
		market.UpdatedAt = s.now()
		if err := s.markets.Update(ctx, market); err != nil {
			return err
		}

		dispute = domain.Dispute{
			ID:        uuid.New().String(),
			MarketID:  marketID,
			UserID:    userID,
			Reason:    reason,
			Evidence:  evidence,
			Status:    domain.DisputeStatusOpen,
			CreatedAt: s.now(),
			UpdatedAt: s.now(),
		}
		if prior != nil {
			o := *prior
			dispute.PriorOutcome = &o
		}
		return s.disputes.Create(ctx, dispute)
	})
	if err != nil {
		return domain.Dispute{}, err
	}

	publishEvent(ctx, s.bus, s.logger, "disputes", map[string]any{
		"event":      "dispute_opened",
		"dispute_id": dispute.ID,
		"market_id":  marketID,
	})

	s.logger.InfoContext(ctx, "dispute_service: opened",
		slog.String("dispute_id", dispute.ID),
		slog.String("market_id", marketID),
		slog.String("user_id", userID),
	)
	return dispute, nil
}

// ReviewDispute moves an open dispute into reviewing.
func (s *DisputeService) ReviewDispute(ctx context.Context, disputeID string) (domain.Dispute, error) {
	var dispute domain.Dispute
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		d, err := s.disputes.GetByIDForUpdate(ctx, disputeID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.ErrDisputeNotFound
			}
			return fmt.Errorf("dispute_service: lock dispute %s: %w", disputeID, err)
		}
		if d.Status != domain.DisputeStatusOpen {
			return domain.ErrDisputeAlreadyReviewed
		}
		d.Status = domain.DisputeStatusReviewing
		d.UpdatedAt = s.now()
		if err := s.disputes.Update(ctx, d); err != nil {
			return err
		}
		dispute = d
		return nil
	})
	if err != nil {
		return domain.Dispute{}, err
	}

	s.logger.InfoContext(ctx, "dispute_service: under review", slog.String("dispute_id", disputeID))
	return dispute, nil
}

// ResolveDispute lands a reviewer's decision. Dismissal restores the prior
// outcome; resolve_new_outcome overwrites it and, if the outcome actually
// changed, reruns settlement. Predictions whose payouts were already claimed
// cannot be reversed and are recorded in the dispute's admin notes.
func (s *DisputeService) ResolveDispute(ctx context.Context, disputeID string, decision ReviewDecision) (domain.Dispute, error) {
	var (
		dispute        domain.Dispute
		outcomeChanged bool
		marketID       string
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		d, err := s.disputes.GetByIDForUpdate(ctx, disputeID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.ErrDisputeNotFound
			}
			return fmt.Errorf("dispute_service: lock dispute %s: %w", disputeID, err)
		}
		switch d.Status {
		case domain.DisputeStatusOpen, domain.DisputeStatusReviewing:
		default:
			return domain.ErrDisputeAlreadyReviewed
		}

		market, err := s.markets.GetByIDForUpdate(ctx, d.MarketID)
		if err != nil {
			return fmt.Errorf("dispute_service: lock market %s: %w", d.MarketID, err)
		}
		marketID = market.ID

		switch decision.Action {
		case domain.DisputeActionDismiss:
			if err := lifecycle.SettleDispute(&market, nil, market.ResolutionSource, s.now()); err != nil {
				return err
			}
			d.Status = domain.DisputeStatusDismissed
			d.Resolution = "outcome upheld"

		case domain.DisputeActionResolveNewOutcome:
			if decision.NewOutcome == nil {
				return domain.ErrMissingOutcome
			}
			outcomeChanged = d.PriorOutcome == nil || *d.PriorOutcome != *decision.NewOutcome
			if err := lifecycle.SettleDispute(&market, decision.NewOutcome, domain.ResolutionSourceDisputeReview, s.now()); err != nil {
				return err
			}
			d.Status = domain.DisputeStatusResolved
			d.Resolution = fmt.Sprintf("outcome set to %s", decision.NewOutcome.Label())

		default:
			return fmt.Errorf("dispute_service: unknown action %q: %w", decision.Action, domain.ErrDisputeNotReviewable)
		}

		market.UpdatedAt = s.now()
		if err := s.markets.Update(ctx, market); err != nil {
			return err
		}

		d.AdminNotes = decision.Notes
		t := s.now()
		d.ResolvedAt = &t
		d.UpdatedAt = t
		if err := s.disputes.Update(ctx, d); err != nil {
			return err
		}
		dispute = d
		return nil
	})
	if err != nil {
		return domain.Dispute{}, err
	}

	if outcomeChanged {
		conflicted, err := s.settler.ResettleMarket(ctx, marketID)
		if err != nil {
			return domain.Dispute{}, fmt.Errorf("dispute_service: resettle market %s: %w", marketID, err)
		}
		if len(conflicted) > 0 {
			// Already-claimed payouts are not clawed back; surface them for
			// manual follow-up.
			note := fmt.Sprintf("unreversed claimed payouts: %s", strings.Join(conflicted, ", "))
			if err := s.appendAdminNote(ctx, disputeID, note); err != nil {
				s.logger.ErrorContext(ctx, "dispute_service: record claim conflicts failed",
					slog.String("dispute_id", disputeID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	payload := map[string]any{
		"event":      "dispute_resolved",
		"dispute_id": disputeID,
		"market_id":  marketID,
		"status":     string(dispute.Status),
	}
	publishEvent(ctx, s.bus, s.logger, "disputes", payload)
	notifyUser(ctx, s.sink, s.logger, dispute.UserID, domain.NotifyDisputeResolved, payload)

	s.logger.InfoContext(ctx, "dispute_service: resolved",
		slog.String("dispute_id", disputeID),
		slog.String("market_id", marketID),
		slog.String("status", string(dispute.Status)),
		slog.Bool("outcome_changed", outcomeChanged),
	)
	return dispute, nil
}

func (s *DisputeService) appendAdminNote(ctx context.Context, disputeID, note string) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		d, err := s.disputes.GetByIDForUpdate(ctx, disputeID)
		if err != nil {
			return err
		}
		if d.AdminNotes == "" {
			d.AdminNotes = note
		} else {
			d.AdminNotes += "; " + note
		}
		d.UpdatedAt = s.now()
		return s.disputes.Update(ctx, d)
	})
}

// GetDispute fetches a dispute by ID.
func (s *DisputeService) GetDispute(ctx context.Context, disputeID string) (domain.Dispute, error) {
	d, err := s.disputes.GetByID(ctx, disputeID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Dispute{}, domain.ErrDisputeNotFound
		}
		return domain.Dispute{}, fmt.Errorf("dispute_service: get dispute %s: %w", disputeID, err)
	}
	return d, nil
}

// ListDisputes lists a market's disputes.
func (s *DisputeService) ListDisputes(ctx context.Context, marketID string) ([]domain.Dispute, error) {
	disputes, err := s.disputes.ListByMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("dispute_service: list disputes for %s: %w", marketID, err)
	}
	return disputes, nil
}
