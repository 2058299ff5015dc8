package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaltBoxRoundTrip(t *testing.T) {
	box, err := NewSaltBox("engine-secret")
	require.NoError(t, err)

	ct, nonce, err := box.Seal([]byte("deadbeef"))
	require.NoError(t, err)
	require.NotEmpty(t, ct)
	require.NotEmpty(t, nonce)

	plain, err := box.Open(ct, nonce)
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", string(plain))
}

func TestSaltBoxWrongSecret(t *testing.T) {
	box1, err := NewSaltBox("secret-one")
	require.NoError(t, err)
	box2, err := NewSaltBox("secret-two")
	require.NoError(t, err)

	ct, nonce, err := box1.Seal([]byte("hidden"))
	require.NoError(t, err)

	_, err = box2.Open(ct, nonce)
	assert.Error(t, err)
}

func TestSaltBoxEmptySecret(t *testing.T) {
	_, err := NewSaltBox("")
	assert.Error(t, err)
}

func TestHMACHeadersDeterministic(t *testing.T) {
	auth := &HMACAuth{Key: "key", Secret: "secret", Passphrase: "pass"}

	h1 := auth.HeadersAt("POST", "/predictions/commit", `{"a":1}`, 1700000000)
	h2 := auth.HeadersAt("POST", "/predictions/commit", `{"a":1}`, 1700000000)

	assert.Equal(t, h1, h2)
	assert.Equal(t, "key", h1["X-LEDGER-API-KEY"])
	assert.Equal(t, "1700000000", h1["X-LEDGER-TIMESTAMP"])
	assert.NotEmpty(t, h1["X-LEDGER-SIGNATURE"])

	// A different body must change the signature.
	h3 := auth.HeadersAt("POST", "/predictions/commit", `{"a":2}`, 1700000000)
	assert.NotEqual(t, h1["X-LEDGER-SIGNATURE"], h3["X-LEDGER-SIGNATURE"])
}

func TestAttestationSignVerify(t *testing.T) {
	pk, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(pk.PublicKey).Hex()
	pkHex := hex.EncodeToString(crypto.FromECDSA(pk))

	sig, err := SignAttestation("mkt-1", 1, pkHex)
	require.NoError(t, err)

	ok, err := VerifyAttestationSig("mkt-1", 1, sig, addr)
	require.NoError(t, err)
	assert.True(t, ok)

	// Wrong outcome must not verify.
	ok, err = VerifyAttestationSig("mkt-1", 0, sig, addr)
	require.NoError(t, err)
	assert.False(t, ok)

	// Wrong market must not verify.
	ok, err = VerifyAttestationSig("mkt-2", 1, sig, addr)
	require.NoError(t, err)
	assert.False(t, ok)
}
