package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// attestDomain versions the attestation signing scheme.
const attestDomain = "predmarket.attest.v1"

// AttestationDigest returns the 32-byte digest an oracle signs when
// attesting an outcome for a market.
func AttestationDigest(marketID string, outcome int) []byte {
	msg := fmt.Sprintf("%s|%s|%d", attestDomain, marketID, outcome)
	return ethcrypto.Keccak256([]byte(msg))
}

// SignAttestation signs the attestation digest with a hex-encoded secp256k1
// private key and returns the hex signature. Used by oracle tooling and
// tests; the engine itself only verifies.
func SignAttestation(marketID string, outcome int, privateKeyHex string) (string, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("crypto: invalid private key: %w", err)
	}

	sig, err := ethcrypto.Sign(AttestationDigest(marketID, outcome), pk)
	if err != nil {
		return "", fmt.Errorf("crypto: sign attestation: %w", err)
	}
	return hex.EncodeToString(sig), nil
}

// VerifyAttestationSig recovers the signer of a hex attestation signature and
// reports whether it matches the oracle's registered address.
func VerifyAttestationSig(marketID string, outcome int, sigHex, address string) (bool, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return false, fmt.Errorf("crypto: decode signature: %w", err)
	}
	if len(sig) != 65 {
		return false, fmt.Errorf("crypto: expected 65-byte signature, got %d bytes", len(sig))
	}

	// Normalise Ethereum-style V values (27/28) to the 0/1 recovery ID.
	if sig[64] >= 27 {
		sig = append(append([]byte{}, sig[:64]...), sig[64]-27)
	}

	pub, err := ethcrypto.SigToPub(AttestationDigest(marketID, outcome), sig)
	if err != nil {
		return false, fmt.Errorf("crypto: recover signer: %w", err)
	}

	recovered := ethcrypto.PubkeyToAddress(*pub)
	return recovered == common.HexToAddress(address), nil
}
