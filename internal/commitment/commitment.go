// Package commitment implements the commit-reveal scheme binding a hidden
// predicted outcome to a public hash. A commitment is SHA-256 over
// (user, market, outcome, salt); revealing recomputes the hash for each
// candidate outcome so the prediction is recoverable from the hash alone
// without ever storing it in cleartext.
package commitment

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/outcomelab/predmarket/internal/crypto"
	"github.com/outcomelab/predmarket/internal/domain"
)

// saltLen is the random salt length in bytes.
const saltLen = 32

// Commitment is the material produced for one commit: the public hash plus
// the encrypted salt envelope. Only Hash, EncryptedSalt, and SaltIV are
// persisted; Salt is handed to the ledger network and then discarded.
type Commitment struct {
	Hash          string
	Salt          string // hex plaintext, never persisted
	EncryptedSalt string // base64
	SaltIV        string // base64
}

// Engine builds commitments and recovers outcomes at reveal time.
type Engine struct {
	box *crypto.SaltBox
}

// NewEngine creates an Engine using box for salt-at-rest encryption.
func NewEngine(box *crypto.SaltBox) *Engine {
	return &Engine{box: box}
}

// Hash computes the deterministic commitment hash for the tuple. Same
// inputs always yield the same hash; it is the value checked at reveal.
func Hash(userID, marketID string, outcome domain.Outcome, salt string) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d|%s", userID, marketID, outcome, salt))
	return hex.EncodeToString(sum[:])
}

// NewCommitment generates a fresh random salt, computes the commitment hash
// for the chosen outcome, and seals the salt for storage.
func (e *Engine) NewCommitment(userID, marketID string, outcome domain.Outcome) (Commitment, error) {
	if !outcome.Valid() {
		return Commitment{}, domain.ErrInvalidOutcome
	}

	raw := make([]byte, saltLen)
	if _, err := rand.Read(raw); err != nil {
		return Commitment{}, fmt.Errorf("commitment: generating salt: %w", err)
	}
	salt := hex.EncodeToString(raw)

	ct, nonce, err := e.box.Seal([]byte(salt))
	if err != nil {
		return Commitment{}, fmt.Errorf("commitment: sealing salt: %w", err)
	}

	return Commitment{
		Hash:          Hash(userID, marketID, outcome, salt),
		Salt:          salt,
		EncryptedSalt: ct,
		SaltIV:        nonce,
	}, nil
}

// DecryptSalt opens a stored salt envelope.
func (e *Engine) DecryptSalt(encryptedSalt, iv string) (string, error) {
	plain, err := e.box.Open(encryptedSalt, iv)
	if err != nil {
		return "", fmt.Errorf("commitment: %w", err)
	}
	return string(plain), nil
}

// VerifyReveal reports whether the candidate outcome and salt reproduce the
// stored commitment hash. Pure function, side effect free.
func VerifyReveal(storedHash, userID, marketID string, candidate domain.Outcome, salt string) bool {
	return candidate.Valid() && Hash(userID, marketID, candidate, salt) == storedHash
}

// RecoverOutcome recomputes the hash for each candidate outcome and returns
// the one that matches storedHash. If neither candidate reproduces the hash
// the commitment is invalid (tampered salt or corrupted record).
func RecoverOutcome(storedHash, userID, marketID, salt string) (domain.Outcome, error) {
	for _, candidate := range []domain.Outcome{domain.OutcomeNo, domain.OutcomeYes} {
		if VerifyReveal(storedHash, userID, marketID, candidate, salt) {
			return candidate, nil
		}
	}
	return 0, domain.ErrInvalidCommitment
}
