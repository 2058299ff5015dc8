package domain

import "context"

// Notification event kinds emitted by the engine.
const (
	NotifyPredictionSettled = "prediction.settled"
	NotifyWinningsClaimed   = "winnings.claimed"
	NotifyMarketResolved    = "market.resolved"
	NotifyTradeExecuted     = "trade.executed"
	NotifyDisputeResolved   = "dispute.resolved"
)

// NotificationSink receives fire-and-forget user notifications after
// settlement and claim events. A sink failure must never roll back the
// financial transaction that triggered it.
type NotificationSink interface {
	Notify(ctx context.Context, userID, kind string, payload map[string]any) error
}

// ProofVault stores raw attestation proof documents and returns a stable
// reference key.
type ProofVault interface {
	Put(ctx context.Context, marketID, oracleID string, doc []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}
