// Package txSigner provides ECDSA signing capabilities for smart account owners.
// This package defines the signer interface used by ECDSA-validated account
// variants and implementations backed by a raw private key or an AWS KMS key.
package txSigner

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// ISigner defines the signing capability of an account owner.
// Signatures are 65 bytes in [R || S || V] form with V in {0, 1}, matching
// crypto.Sign; callers apply any chain-specific recovery id normalization.
type ISigner interface {
	// SignHash signs a 32-byte digest.
	//
	// Parameters:
	//   - ctx: Context for the operation
	//   - hash: The digest to sign
	//
	// Returns:
	//   - []byte: The 65-byte signature
	//   - error: An error if the backend fails to sign
	SignHash(ctx context.Context, hash common.Hash) ([]byte, error)

	// SignMessage signs message using the EIP-191 personal message prefix.
	SignMessage(ctx context.Context, message []byte) ([]byte, error)

	// GetAddress returns the Ethereum address associated with this signer.
	//
	// Returns:
	//   - common.Address: The Ethereum address of the signer
	//   - error: An error if the address cannot be determined
	GetAddress() (common.Address, error)
}
