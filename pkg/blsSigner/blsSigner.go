// Package blsSigner provides BN254 BLS signing for BLS-owned smart accounts.
// This package defines the signer interface used by the BLS account variant and
// helpers that render signatures and public keys in the EVM precompile layout
// the on-chain verifier expects.
package blsSigner

import (
	"context"
	"fmt"

	"github.com/Layr-Labs/crypto-libs/pkg/bn254"
)

const (
	// SignatureLength is the size of a G1 signature in precompile format
	SignatureLength = 64
	// PublicKeyLength is the size of a G2 public key in precompile format
	PublicKeyLength = 128
)

// IBLSSigner defines the interface for BLS signature operations.
// Implementations of this interface provide the ability to sign 32-byte digests
// and return the associated public key for verification purposes.
type IBLSSigner interface {
	// SignBytes signs the provided digest using the BLS signature scheme on the BN254 curve.
	// Returns a BN254 signature that can be verified against the signer's public key.
	SignBytes(ctx context.Context, data [32]byte) (*bn254.Signature, error)

	// GetPublicKey returns the BLS public key associated with this signer.
	GetPublicKey(ctx context.Context) (*bn254.PublicKey, error)
}

// SignatureToPrecompileFormat renders a signature as the 64-byte (X, Y) G1 point.
func SignatureToPrecompileFormat(signature *bn254.Signature) ([]byte, error) {
	g1Point := &bn254.G1Point{
		G1Affine: signature.GetG1Point(),
	}
	g1Bytes, err := g1Point.ToPrecompileFormat()
	if err != nil {
		return nil, fmt.Errorf("failed to convert G1 point to precompile format: %w", err)
	}
	if len(g1Bytes) != SignatureLength {
		return nil, fmt.Errorf("unexpected G1 point length %d", len(g1Bytes))
	}
	return g1Bytes, nil
}

// PublicKeyToPrecompileFormat renders a public key as the 128-byte G2 point,
// which is the uint256[4] public key of the account factory.
func PublicKeyToPrecompileFormat(pubKey *bn254.PublicKey) ([]byte, error) {
	g2Point := bn254.NewZeroG2Point().AddPublicKey(pubKey)

	g2Bytes, err := g2Point.ToPrecompileFormat()
	if err != nil {
		return nil, fmt.Errorf("public key not in correct subgroup: %w", err)
	}
	if len(g2Bytes) != PublicKeyLength {
		return nil, fmt.Errorf("unexpected G2 point length %d", len(g2Bytes))
	}
	return g2Bytes, nil
}

// PrivateKeyFromHex parses a hex encoded BN254 private key.
func PrivateKeyFromHex(hexKey string) (*bn254.PrivateKey, error) {
	scheme := bn254.NewScheme()
	genericPk, err := scheme.NewPrivateKeyFromHexString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create BLS private key: %w", err)
	}
	pk, err := bn254.NewPrivateKeyFromBytes(genericPk.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to convert BLS private key: %w", err)
	}
	return pk, nil
}
