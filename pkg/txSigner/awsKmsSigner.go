package txSigner

import (
	"context"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/kms"
	"github.com/aws/aws-sdk-go/service/kms/kmsiface"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	secp256k1N     = crypto.S256().Params().N
	secp256k1HalfN = new(big.Int).Rsh(secp256k1N, 1)
)

// AWSKMSSigner implements ISigner using an ECC_SECG_P256K1 AWS KMS key
type AWSKMSSigner struct {
	kmsClient kmsiface.KMSAPI
	keyID     string
	address   common.Address
}

// NewAWSKMSSigner creates a new AWSKMSSigner with the specified KMS key ID and AWS region.
// This constructor establishes a connection to AWS KMS and derives the Ethereum address
// from the public key associated with the specified KMS key.
//
// Parameters:
//   - keyID: The AWS KMS key ID or ARN for signing operations
//   - region: The AWS region where the KMS key is located
//
// Returns:
//   - *AWSKMSSigner: A new AWS KMS signer instance
//   - error: An error if the AWS session cannot be created or the key is invalid
func NewAWSKMSSigner(keyID, region string) (*AWSKMSSigner, error) {
	// Create AWS session
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return NewAWSKMSSignerWithClient(kms.New(sess), keyID)
}

// NewAWSKMSSignerWithClient creates an AWSKMSSigner from an existing KMS client
func NewAWSKMSSignerWithClient(kmsClient kmsiface.KMSAPI, keyID string) (*AWSKMSSigner, error) {
	address, err := getAddressFromKMSKey(kmsClient, keyID)
	if err != nil {
		return nil, fmt.Errorf("failed to derive address from KMS key: %w", err)
	}

	return &AWSKMSSigner{
		kmsClient: kmsClient,
		keyID:     keyID,
		address:   address,
	}, nil
}

// GetAddress returns the Ethereum address associated with this KMS key.
//
// Returns:
//   - common.Address: The Ethereum address derived from the KMS key
//   - error: Always returns nil for AWS KMS signers
func (a *AWSKMSSigner) GetAddress() (common.Address, error) {
	return a.address, nil
}

// SignMessage signs the EIP-191 hash of message with KMS
func (a *AWSKMSSigner) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	return a.SignHash(ctx, common.BytesToHash(accounts.TextHash(message)))
}

// SignHash signs a hash using AWS KMS.
// KMS returns an ASN.1 DER signature without a recovery id, so S is normalized to
// the lower half of the curve order and V is found by recovering the address.
func (a *AWSKMSSigner) SignHash(ctx context.Context, hash common.Hash) ([]byte, error) {
	// Prepare signing input
	input := &kms.SignInput{
		KeyId:            aws.String(a.keyID),
		Message:          hash.Bytes(),
		MessageType:      aws.String("DIGEST"),
		SigningAlgorithm: aws.String("ECDSA_SHA_256"),
	}

	// Sign with KMS
	result, err := a.kmsClient.SignWithContext(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("KMS signing failed: %w", err)
	}

	// Parse the ASN.1 DER signature into r, s values
	r, s, err := parseASN1Signature(result.Signature)
	if err != nil {
		return nil, fmt.Errorf("failed to parse KMS signature: %w", err)
	}
	if s.Cmp(secp256k1HalfN) > 0 {
		s = new(big.Int).Sub(secp256k1N, s)
	}

	// Convert to Ethereum signature format (r || s || v)
	signature := make([]byte, 65)
	r.FillBytes(signature[0:32])
	s.FillBytes(signature[32:64])

	// Try both recovery values and keep the one that recovers the key's address
	for v := 0; v < 2; v++ {
		signature[64] = byte(v)
		recovered, err := crypto.SigToPub(hash.Bytes(), signature)
		if err != nil {
			continue
		}
		if crypto.PubkeyToAddress(*recovered) == a.address {
			return signature, nil
		}
	}

	return nil, fmt.Errorf("failed to determine recovery ID")
}

type subjectPublicKeyInfo struct {
	Algorithm pkix.AlgorithmIdentifier
	PublicKey asn1.BitString
}

type ecdsaSignature struct {
	R, S *big.Int
}

// getAddressFromKMSKey derives the Ethereum address from a KMS public key
func getAddressFromKMSKey(kmsClient kmsiface.KMSAPI, keyID string) (common.Address, error) {
	// Get the public key from KMS
	input := &kms.GetPublicKeyInput{
		KeyId: aws.String(keyID),
	}

	result, err := kmsClient.GetPublicKey(input)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to get public key from KMS: %w", err)
	}

	// KMS returns a DER-encoded SubjectPublicKeyInfo
	var spki subjectPublicKeyInfo
	if _, err := asn1.Unmarshal(result.PublicKey, &spki); err != nil {
		return common.Address{}, fmt.Errorf("failed to parse public key info: %w", err)
	}
	pubKey, err := crypto.UnmarshalPubkey(spki.PublicKey.Bytes)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to parse public key: %w", err)
	}

	// Derive Ethereum address
	address := crypto.PubkeyToAddress(*pubKey)
	return address, nil
}

// parseASN1Signature parses an ASN.1 DER encoded ECDSA signature into r and s values
func parseASN1Signature(signature []byte) (*big.Int, *big.Int, error) {
	var sig ecdsaSignature
	rest, err := asn1.Unmarshal(signature, &sig)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid DER signature: %w", err)
	}
	if len(rest) > 0 {
		return nil, nil, fmt.Errorf("trailing bytes after DER signature")
	}
	if sig.R == nil || sig.S == nil || sig.R.Sign() <= 0 || sig.S.Sign() <= 0 {
		return nil, nil, fmt.Errorf("signature values must be positive")
	}
	return sig.R, sig.S, nil
}
