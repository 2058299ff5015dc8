// Package lifecycle is the market state machine. It owns the legality rules
// for staking, revealing, closing, resolving, and disputing, and performs
// the status transitions on a Market value. Persistence is the caller's
// responsibility.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/outcomelab/predmarket/internal/domain"
)

// CanCommit reports whether a new prediction may be committed: the market
// must be open and the closing deadline still ahead.
func CanCommit(m *domain.Market, now time.Time) error {
	if m.Status != domain.MarketStatusOpen {
		return fmt.Errorf("market %s is %s: %w", m.ID, m.Status, domain.ErrMarketNotOpen)
	}
	if m.ClosingPassed(now) {
		return fmt.Errorf("market %s closed at %s: %w", m.ID, m.ClosingAt.Format(time.RFC3339), domain.ErrMarketClosed)
	}
	return nil
}

// CanReveal reports whether a reveal is still allowed. The reveal window
// ends at the closing deadline, independent of whether the status has
// already advanced to closed.
func CanReveal(m *domain.Market, now time.Time) error {
	switch m.Status {
	case domain.MarketStatusOpen, domain.MarketStatusClosed:
	default:
		return fmt.Errorf("market %s is %s: %w", m.ID, m.Status, domain.ErrInvalidMarketState)
	}
	if m.ClosingPassed(now) {
		return fmt.Errorf("market %s: %w", m.ID, domain.ErrRevealPeriodEnded)
	}
	return nil
}

// CanTrade reports whether AMM trading is allowed (open markets only).
func CanTrade(m *domain.Market) error {
	if m.Status != domain.MarketStatusOpen {
		return fmt.Errorf("market %s is %s: %w", m.ID, m.Status, domain.ErrMarketNotOpen)
	}
	return nil
}

// CanResolve reports whether the market may be resolved now: it must be
// closed, or still open with its closing deadline already passed.
func CanResolve(m *domain.Market, now time.Time) error {
	switch m.Status {
	case domain.MarketStatusClosed:
		return nil
	case domain.MarketStatusOpen:
		if !m.ClosingPassed(now) {
			return fmt.Errorf("market %s closes at %s: %w", m.ID, m.ClosingAt.Format(time.RFC3339), domain.ErrMarketStillOpen)
		}
		return nil
	default:
		return fmt.Errorf("market %s is %s: %w", m.ID, m.Status, domain.ErrInvalidMarketState)
	}
}

// Close transitions an open market past its deadline to closed.
func Close(m *domain.Market, now time.Time) error {
	if m.Status != domain.MarketStatusOpen {
		return fmt.Errorf("market %s is %s: %w", m.ID, m.Status, domain.ErrInvalidMarketState)
	}
	if !m.ClosingPassed(now) {
		return fmt.Errorf("market %s closes at %s: %w", m.ID, m.ClosingAt.Format(time.RFC3339), domain.ErrMarketStillOpen)
	}
	m.Status = domain.MarketStatusClosed
	return nil
}

// Resolve stamps the winning outcome and moves the market to resolved.
func Resolve(m *domain.Market, outcome domain.Outcome, source domain.ResolutionSource, now time.Time) error {
	if !outcome.Valid() {
		return domain.ErrInvalidOutcome
	}
	if err := CanResolve(m, now); err != nil {
		return err
	}
	o := outcome
	m.Status = domain.MarketStatusResolved
	m.WinningOutcome = &o
	m.ResolutionSource = source
	t := now
	m.ResolvedAt = &t
	return nil
}

// CanDispute reports whether a dispute may be opened: resolved and closed
// markets only. An open market cannot be disputed.
func CanDispute(m *domain.Market) error {
	switch m.Status {
	case domain.MarketStatusResolved, domain.MarketStatusClosed:
		return nil
	default:
		return fmt.Errorf("market %s is %s: %w", m.ID, m.Status, domain.ErrMarketNotDisputable)
	}
}

// MarkDisputed moves the market to disputed, pausing claims and trades.
func MarkDisputed(m *domain.Market) error {
	if err := CanDispute(m); err != nil {
		return err
	}
	m.Status = domain.MarketStatusDisputed
	return nil
}

// SettleDispute returns a disputed market to resolved. When outcome is nil
// the prior winning outcome is kept (dismissal); otherwise the outcome and
// source are overwritten (overturned resolution).
func SettleDispute(m *domain.Market, outcome *domain.Outcome, source domain.ResolutionSource, now time.Time) error {
	if m.Status != domain.MarketStatusDisputed {
		return fmt.Errorf("market %s is %s: %w", m.ID, m.Status, domain.ErrInvalidMarketState)
	}
	if outcome != nil {
		if !outcome.Valid() {
			return domain.ErrInvalidOutcome
		}
		o := *outcome
		m.WinningOutcome = &o
		m.ResolutionSource = source
		t := now
		m.ResolvedAt = &t
	}
	m.Status = domain.MarketStatusResolved
	return nil
}

// Cancel is the terminal escape hatch, legal from open, closed, or resolved.
func Cancel(m *domain.Market) error {
	switch m.Status {
	case domain.MarketStatusOpen, domain.MarketStatusClosed, domain.MarketStatusResolved:
		m.Status = domain.MarketStatusCancelled
		return nil
	default:
		return fmt.Errorf("market %s is %s: %w", m.ID, m.Status, domain.ErrInvalidMarketState)
	}
}
