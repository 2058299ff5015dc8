package domain

import "time"

// DisputeStatus tracks a dispute's review lifecycle.
type DisputeStatus string

const (
	DisputeStatusOpen      DisputeStatus = "open"
	DisputeStatusReviewing DisputeStatus = "reviewing"
	DisputeStatusResolved  DisputeStatus = "resolved"
	DisputeStatusDismissed DisputeStatus = "dismissed"
)

// DisputeAction is the reviewer's terminal decision.
type DisputeAction string

const (
	DisputeActionDismiss           DisputeAction = "dismiss"
	DisputeActionResolveNewOutcome DisputeAction = "resolve_new_outcome"
)

// Dispute is a formal challenge against a market's outcome. Creating one
// moves the market to disputed; resolving it returns the market to resolved,
// possibly with a corrected winning outcome.
type Dispute struct {
	ID       string
	MarketID string
	UserID   string

	Reason   string
	Evidence string

	Status     DisputeStatus
	Resolution string
	AdminNotes string

	// PriorOutcome preserves the contested outcome so a dismissal can
	// restore it verbatim.
	PriorOutcome *Outcome

	CreatedAt  time.Time
	UpdatedAt  time.Time
	ResolvedAt *time.Time
}
