package crypto

import (
	"testing"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeccak256HasherIsDeterministic(t *testing.T) {
	h := NewKeccak256Hasher()
	a := h.Hash([]byte("hello"))
	b := h.Hash([]byte("hello"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, h.Hash([]byte("world")))
}

func TestKeccak256HasherCompressDependsOnDepth(t *testing.T) {
	h := NewKeccak256Hasher()
	left := h.Hash([]byte("left"))
	right := h.Hash([]byte("right"))

	atZero := h.Compress(left, right, 0)
	atOne := h.Compress(left, right, 1)
	assert.NotEqual(t, atZero, atOne, "depth must domain-separate compressed hashes")

	swapped := h.Compress(right, left, 0)
	assert.NotEqual(t, atZero, swapped, "left/right order must matter")
}

func TestECDSAVerifierRecoversSignerAddress(t *testing.T) {
	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	want := gethcrypto.PubkeyToAddress(key.PublicKey)

	hasher := NewKeccak256Hasher()
	verifier := NewECDSAVerifier(hasher)

	msg := []byte("a transaction body")
	digest := hasher.Hash(msg)
	sig, err := gethcrypto.Sign(digest, key)
	require.NoError(t, err)

	got, err := verifier.RecoverAddress(msg, sig)
	require.NoError(t, err)
	assert.Equal(t, [20]byte(want), got)
}

func TestECDSAVerifierRejectsMalformedSignature(t *testing.T) {
	verifier := NewECDSAVerifier(NewKeccak256Hasher())
	_, err := verifier.RecoverAddress([]byte("msg"), []byte{1, 2, 3})
	assert.Error(t, err)
}
