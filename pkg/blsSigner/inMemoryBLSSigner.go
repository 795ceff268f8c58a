package blsSigner

import (
	"context"
	"fmt"

	"github.com/Layr-Labs/crypto-libs/pkg/bn254"
)

// InMemoryBLSSigner implements IBLSSigner using an in-memory BLS private key.
// This implementation stores the BLS private key in memory and provides
// fast signing operations suitable for development and testing environments.
type InMemoryBLSSigner struct {
	privateKey *bn254.PrivateKey
	publicKey  *bn254.PublicKey
}

// NewInMemoryBLSSigner creates a new InMemoryBLSSigner from a BN254 private key.
// The corresponding public key is derived and cached.
//
// Parameters:
//   - privateKey: A BN254 private key from the crypto-libs package
//
// Returns:
//   - *InMemoryBLSSigner: A new signer instance
//   - error: An error if the private key is nil
func NewInMemoryBLSSigner(privateKey *bn254.PrivateKey) (*InMemoryBLSSigner, error) {
	if privateKey == nil {
		return nil, fmt.Errorf("private key cannot be nil")
	}

	return &InMemoryBLSSigner{
		privateKey: privateKey,
		publicKey:  privateKey.Public(),
	}, nil
}

// SignBytes signs the given digest using the BLS private key.
func (s *InMemoryBLSSigner) SignBytes(_ context.Context, data [32]byte) (*bn254.Signature, error) {
	return s.privateKey.SignSolidityCompatible(data)
}

// GetPublicKey returns the public key associated with this signer.
func (s *InMemoryBLSSigner) GetPublicKey(_ context.Context) (*bn254.PublicKey, error) {
	return s.publicKey, nil
}
