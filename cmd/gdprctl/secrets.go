package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/hengadev/gdprvault"
	"github.com/hengadev/gdprvault/providers/secrets/awskms"
	"github.com/hengadev/gdprvault/providers/secrets/hashicorp"
)

// envSecretPrefix starts the variables the env secret source reads.
const envSecretPrefix = "GDPR_SECRET_"

// envSecretStore reads base64 secrets from environment variables named after the
// storage path: "gdprvault/patient-pii/v1" is GDPR_SECRET_GDPRVAULT_PATIENT_PII_V1.
type envSecretStore struct{}

func envSecretName(path string) string {
	name := strings.ToUpper(path)
	name = strings.NewReplacer("/", "_", "-", "_", ".", "_").Replace(name)
	return envSecretPrefix + name
}

func (envSecretStore) GetSecret(_ context.Context, path string) ([]byte, error) {
	name := envSecretName(path)
	encoded, ok := os.LookupEnv(name)
	if !ok {
		return nil, fmt.Errorf("%w: secret %s (set %s)", gdprvault.ErrNotFound, path, name)
	}
	value, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not base64: %w", gdprvault.ErrInvalidConfiguration, name, err)
	}
	return value, nil
}

// openSecrets builds the secret source named by -secrets.
//
//	env    GDPR_SECRET_* variables holding base64 key material
//	vault  HashiCorp Vault KV v2 (VAULT_ADDR, VAULT_TOKEN or AppRole)
//	kms    GDPR_SECRET_* variables holding AWS KMS ciphertexts
func openSecrets(ctx context.Context, source, region string) (gdprvault.SecretManagementService, error) {
	switch source {
	case "", "env":
		return envSecretStore{}, nil
	case "vault":
		return hashicorp.NewKVStoreFromEnvironment(ctx)
	case "kms":
		return awskms.New(ctx, awskms.Config{Region: region}, envSecretStore{})
	default:
		return nil, fmt.Errorf("%w: unknown secret source %q (want env, vault or kms)", gdprvault.ErrInvalidConfiguration, source)
	}
}
