// Package awsSMBLSSigner provides AWS Secrets Manager-based BLS signature functionality.
// This package implements the IBLSSigner interface using BLS keystores stored
// in AWS Secrets Manager.
package awsSMBLSSigner

import (
	"context"
	"fmt"

	"github.com/Layr-Labs/crypto-libs/pkg/bn254"
	"github.com/Layr-Labs/crypto-libs/pkg/keystore"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/aws/aws-sdk-go/service/secretsmanager/secretsmanageriface"
	"go.uber.org/zap"
)

// AWSSMBLSSignerConfig holds the configuration for AWS Secrets Manager BLS signer.
// This configuration specifies the AWS region and secret name containing the BLS keystore.
type AWSSMBLSSignerConfig struct {
	// Region specifies the AWS region where the secret is stored
	Region string
	// SecretName is the name of the secret in AWS Secrets Manager containing the BLS keystore
	SecretName string
	// KeystorePassword decrypts the keystore; empty for unencrypted keystores
	KeystorePassword string
}

// AWSSMBLSSigner implements IBLSSigner using AWS Secrets Manager for key storage.
// The keystore is fetched for each operation so the key is never cached in memory.
type AWSSMBLSSigner struct {
	logger *zap.Logger
	config *AWSSMBLSSignerConfig
	client secretsmanageriface.SecretsManagerAPI
}

// NewAWSSMBLSSigner creates a new AWSSMBLSSigner instance.
//
// Parameters:
//   - cfg: Region and secret name of the keystore
//   - logger: A zap logger for logging operations and errors
//
// Returns:
//   - *AWSSMBLSSigner: A new AWS Secrets Manager BLS signer instance
//   - error: An error if the AWS session cannot be created
func NewAWSSMBLSSigner(cfg *AWSSMBLSSignerConfig, logger *zap.Logger) (*AWSSMBLSSigner, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return NewAWSSMBLSSignerWithClient(cfg, secretsmanager.New(sess), logger), nil
}

// NewAWSSMBLSSignerWithClient creates an AWSSMBLSSigner from an existing Secrets Manager client.
func NewAWSSMBLSSignerWithClient(cfg *AWSSMBLSSignerConfig, client secretsmanageriface.SecretsManagerAPI, logger *zap.Logger) *AWSSMBLSSigner {
	return &AWSSMBLSSigner{
		logger: logger,
		config: cfg,
		client: client,
	}
}

// getSecret retrieves and parses the BLS private key from AWS Secrets Manager.
func (a *AWSSMBLSSigner) getSecret(ctx context.Context) (*bn254.PrivateKey, error) {
	input := &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(a.config.SecretName),
		VersionStage: aws.String("AWSCURRENT"),
	}

	result, err := a.client.GetSecretValueWithContext(ctx, input)
	if err != nil {
		a.logger.Sugar().Errorw("Failed to get BLS keystore secret",
			zap.String("secretName", a.config.SecretName),
			zap.Error(err),
		)
		return nil, err
	}

	if result.SecretString == nil {
		return nil, fmt.Errorf("secret string is nil")
	}
	ks, err := keystore.ParseKeystoreJSON(*result.SecretString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse keystore JSON: %w", err)
	}
	return ks.GetBN254PrivateKey(a.config.KeystorePassword)
}

// SignBytes signs the provided digest using the BLS private key from AWS Secrets Manager.
func (a *AWSSMBLSSigner) SignBytes(ctx context.Context, data [32]byte) (*bn254.Signature, error) {
	pk, err := a.getSecret(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get secret: %w", err)
	}

	return pk.SignSolidityCompatible(data)
}

// GetPublicKey returns the BLS public key corresponding to the private key in AWS Secrets Manager.
func (a *AWSSMBLSSigner) GetPublicKey(ctx context.Context) (*bn254.PublicKey, error) {
	pk, err := a.getSecret(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get secret: %w", err)
	}
	return pk.Public(), nil
}
