package domain

import "errors"

// Validation errors: rejected before any state access.
var (
	ErrInvalidOutcome    = errors.New("invalid outcome")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInvalidShareCount = errors.New("share count must be positive")
	ErrMissingOutcome    = errors.New("new winning outcome required")
)

// NotFound errors.
var (
	ErrNotFound           = errors.New("not found")
	ErrMarketNotFound     = errors.New("market not found")
	ErrPredictionNotFound = errors.New("prediction not found")
	ErrDisputeNotFound    = errors.New("dispute not found")
	ErrNoSharesFound      = errors.New("no shares held for outcome")
)

// Unauthorized errors.
var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrOracleUnknown = errors.New("oracle not registered or inactive")
)

// StateConflict errors: wrong lifecycle state, duplicates.
var (
	ErrMarketNotOpen           = errors.New("market is not open")
	ErrMarketClosed            = errors.New("market has closed")
	ErrMarketStillOpen         = errors.New("market closing time has not passed")
	ErrMarketNotDisputable     = errors.New("market cannot be disputed in its current state")
	ErrInvalidMarketState      = errors.New("operation illegal in current market state")
	ErrRevealPeriodEnded       = errors.New("reveal period has ended")
	ErrAlreadyCommitted        = errors.New("prediction already committed for this market")
	ErrInvalidCommitment       = errors.New("commitment verification failed")
	ErrPredictionNotCommitted  = errors.New("prediction already revealed or invalid status")
	ErrPredictionNotSettled    = errors.New("prediction is not settled")
	ErrPredictionDidNotWin     = errors.New("prediction did not win")
	ErrWinningsAlreadyClaimed  = errors.New("winnings already claimed")
	ErrNoWinningsToClaim       = errors.New("no winnings to claim")
	ErrDuplicateAttestation    = errors.New("oracle already attested for this market")
	ErrInvalidAttestationProof = errors.New("attestation signature does not match oracle")
	ErrDisputeAlreadyReviewed  = errors.New("dispute already reviewed")
	ErrDisputeNotReviewable    = errors.New("dispute is not in a reviewable state")
	ErrNoConsensus             = errors.New("consensus threshold not reached")
	ErrLockHeld                = errors.New("lock already held")
)

// EconomicConstraint errors.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientShares  = errors.New("insufficient shares")
	ErrSlippageExceeded    = errors.New("slippage exceeded")
)

// ExternalFailure errors: safe to retry, no local mutation has occurred.
var (
	ErrLedgerUnavailable = errors.New("ledger network call failed")
)
