package domain

import (
	"time"

	"github.com/cockroachdb/apd/v3"
)

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusOpen      MarketStatus = "open"
	MarketStatusClosed    MarketStatus = "closed"
	MarketStatusResolved  MarketStatus = "resolved"
	MarketStatusCancelled MarketStatus = "cancelled"
	MarketStatusDisputed  MarketStatus = "disputed"
)

// ResolutionSource records which mechanism fixed a market's winning outcome.
type ResolutionSource string

const (
	ResolutionSourceOracleConsensus ResolutionSource = "oracle_consensus"
	ResolutionSourceAdmin           ResolutionSource = "admin"
	ResolutionSourceDisputeReview   ResolutionSource = "dispute_review"
)

// Market represents a binary-outcome prediction market.
//
// WinningOutcome is set iff Status is resolved (a disputed market keeps the
// contested value until the dispute lands).
type Market struct {
	ID               string
	Question         string
	ContractRef      string // reference handed to the external ledger network
	Status           MarketStatus
	ClosingAt        time.Time
	WinningOutcome   *Outcome
	ResolutionSource ResolutionSource
	ResolvedAt       *time.Time

	// Commit-stake volume per outcome. Independent of the AMM pool.
	VolumeYes *apd.Decimal
	VolumeNo  *apd.Decimal

	AttestationCount int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Resolved reports whether the market has a fixed winning outcome.
func (m *Market) Resolved() bool {
	return m.Status == MarketStatusResolved && m.WinningOutcome != nil
}

// ClosingPassed reports whether the staking/reveal deadline is behind now.
func (m *Market) ClosingPassed(now time.Time) bool {
	return !now.Before(m.ClosingAt)
}
