package blsSigner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBLSPrivateKey = "1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef"

func TestInMemoryBLSSigner(t *testing.T) {
	pk, err := PrivateKeyFromHex(testBLSPrivateKey)
	require.NoError(t, err)
	signer, err := NewInMemoryBLSSigner(pk)
	require.NoError(t, err)

	digest := [32]byte{0x01, 0x02}
	sig, err := signer.SignBytes(context.Background(), digest)
	require.NoError(t, err)
	sigBytes, err := SignatureToPrecompileFormat(sig)
	require.NoError(t, err)
	assert.Len(t, sigBytes, SignatureLength)

	again, err := signer.SignBytes(context.Background(), digest)
	require.NoError(t, err)
	againBytes, err := SignatureToPrecompileFormat(again)
	require.NoError(t, err)
	assert.Equal(t, sigBytes, againBytes, "BLS signatures are deterministic")

	pub, err := signer.GetPublicKey(context.Background())
	require.NoError(t, err)
	pubBytes, err := PublicKeyToPrecompileFormat(pub)
	require.NoError(t, err)
	assert.Len(t, pubBytes, PublicKeyLength)
}

func TestNewInMemoryBLSSigner_NilKey(t *testing.T) {
	_, err := NewInMemoryBLSSigner(nil)
	assert.Error(t, err)
}
