package domain

import "time"

// Oracle is a registered attestation source. The active registry size is the
// denominator of the consensus threshold.
type Oracle struct {
	ID        string
	Name      string
	Address   string // secp256k1 address expected to sign attestations
	Active    bool
	CreatedAt time.Time
}

// Attestation is one oracle's immutable outcome report for a market.
// Unique per (market, oracle).
type Attestation struct {
	ID       string
	MarketID string
	OracleID string
	Outcome  Outcome

	// ProofRef is the blob-storage key of the raw proof document, if any.
	ProofRef string
	// Signature is a hex secp256k1 signature over the attestation digest.
	Signature string

	SubmittedAt time.Time
}
