// Package awskms stores gdprvault key material wrapped by AWS Key Management Service.
//
// Secrets are kept as base64 KMS ciphertext blobs in any backing
// gdprvault.SecretManagementService (environment, files, Vault KV) and are only
// unwrapped in memory when gdprvault.New fetches them. Seal produces the blobs
// during provisioning.
package awskms

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/hengadev/gdprvault"
)

// kmsClient is the part of the KMS API SecretStore needs (allows mocking).
type kmsClient interface {
	Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// Config holds configuration for the KMS-backed secret store.
type Config struct {
	// KeyID is the KMS key that wraps secrets: key id, key ARN or alias.
	// A bare name gets the "alias/" prefix. Only Seal needs it.
	KeyID string

	// Region is the AWS region (e.g., "eu-west-1").
	// If empty, uses AWS_REGION or the AWS config file.
	Region string

	// AWSConfig is an optional pre-configured AWS config. If provided, Region is ignored.
	AWSConfig *aws.Config
}

// SecretStore implements gdprvault.SecretManagementService by unwrapping
// KMS ciphertexts read from another store.
type SecretStore struct {
	client  kmsClient
	backing gdprvault.SecretManagementService
	keyID   string
	region  string
}

// New creates a SecretStore reading wrapped secrets from backing.
//
// Usage:
//
//	store, err := awskms.New(ctx, awskms.Config{Region: "eu-west-1"}, backing)
//	svc, err := gdprvault.New(ctx, cfg, store)
func New(ctx context.Context, cfg Config, backing gdprvault.SecretManagementService) (*SecretStore, error) {
	var awsConfig aws.Config
	if cfg.AWSConfig != nil {
		awsConfig = *cfg.AWSConfig
	} else {
		opts := []func(*config.LoadOptions) error{}
		if cfg.Region != "" {
			opts = append(opts, config.WithRegion(cfg.Region))
		}
		var err error
		awsConfig, err = config.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to load AWS config: %w", gdprvault.ErrSecretUnavailable, err)
		}
	}
	return newSecretStore(kms.NewFromConfig(awsConfig), backing, cfg.KeyID, awsConfig.Region)
}

func newSecretStore(client kmsClient, backing gdprvault.SecretManagementService, keyID, region string) (*SecretStore, error) {
	if backing == nil {
		return nil, fmt.Errorf("%w: backing secret store is required", gdprvault.ErrInvalidConfiguration)
	}
	return &SecretStore{client: client, backing: backing, keyID: normalizeKeyID(keyID), region: region}, nil
}

// normalizeKeyID adds the "alias/" prefix to bare alias names.
func normalizeKeyID(keyID string) string {
	if keyID == "" || strings.HasPrefix(keyID, "alias/") || strings.HasPrefix(keyID, "arn:") {
		return keyID
	}
	// Key ids are UUIDs; anything else is treated as an alias name.
	if len(keyID) == 36 && strings.Count(keyID, "-") == 4 {
		return keyID
	}
	return "alias/" + keyID
}

// GetSecret reads the wrapped secret at path and decrypts it with KMS.
// The ciphertext names its own key, so no KeyID is needed here.
func (s *SecretStore) GetSecret(ctx context.Context, path string) ([]byte, error) {
	wrapped, err := s.backing.GetSecret(ctx, path)
	if err != nil {
		return nil, err
	}
	blob, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(wrapped)))
	if err != nil {
		return nil, fmt.Errorf("%w: secret %s is not a base64 KMS ciphertext: %w", gdprvault.ErrInvalidConfiguration, path, err)
	}
	if len(blob) == 0 {
		return nil, fmt.Errorf("%w: secret %s is empty", gdprvault.ErrInvalidConfiguration, path)
	}

	result, err := s.client.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: blob})
	if err != nil {
		return nil, classify(gdprvault.ErrDecryption, fmt.Sprintf("failed to unwrap secret %s", path), err)
	}
	if len(result.Plaintext) == 0 {
		return nil, fmt.Errorf("%w: no plaintext returned from KMS for %s", gdprvault.ErrDecryption, path)
	}
	return result.Plaintext, nil
}

// Seal wraps plaintext under the configured KMS key and returns the base64
// ciphertext to store in the backing secret store.
func (s *SecretStore) Seal(ctx context.Context, plaintext []byte) ([]byte, error) {
	if s.keyID == "" {
		return nil, fmt.Errorf("%w: a KMS key id is required to seal secrets", gdprvault.ErrInvalidConfiguration)
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("%w: plaintext cannot be empty", gdprvault.ErrEncryption)
	}

	result, err := s.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     aws.String(s.keyID),
		Plaintext: plaintext,
	})
	if err != nil {
		return nil, classify(gdprvault.ErrEncryption, fmt.Sprintf("failed to wrap secret with KMS key %s", s.keyID), err)
	}
	if result.CiphertextBlob == nil {
		return nil, fmt.Errorf("%w: no ciphertext returned from KMS", gdprvault.ErrEncryption)
	}
	return []byte(base64.StdEncoding.EncodeToString(result.CiphertextBlob)), nil
}

// Region returns the AWS region this store talks to.
func (s *SecretStore) Region() string {
	return s.region
}

// classify keeps KMS outages retryable. Anything else is a bad secret or key
// and is reported under fallback.
func classify(fallback error, msg string, err error) error {
	var (
		internal *types.KMSInternalException
		timeout  *types.DependencyTimeoutException
		disabled *types.KMSInvalidStateException
	)
	switch {
	case errors.As(err, &internal), errors.As(err, &timeout):
		return fmt.Errorf("%w: %s: %w", gdprvault.ErrSecretUnavailable, msg, err)
	case errors.As(err, &disabled):
		return fmt.Errorf("%w: %s: key is not enabled: %w", gdprvault.ErrInvalidConfiguration, msg, err)
	default:
		return fmt.Errorf("%w: %s: %w", fallback, msg, err)
	}
}
