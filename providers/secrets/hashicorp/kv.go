package hashicorp

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/hashicorp/vault/api"
	"github.com/hengadev/gdprvault"
)

// DefaultMount is where the KV v2 engine is usually enabled.
const DefaultMount = "secret"

// KVStore implements gdprvault.SecretManagementService on a HashiCorp Vault KV v2 engine.
//
// Each secret lives at "{mount}/data/{path}" with its bytes base64 encoded under
// the "value" key, so a key stored with
//
//	vault kv put secret/gdprvault/patient-pii/v1 value=$(head -c32 /dev/urandom | base64)
//
// is what New reads for version 1 of alias "patient-pii".
type KVStore struct {
	client *api.Client
	mount  string
}

// NewKVStore wraps an authenticated client. An empty mount uses DefaultMount.
func NewKVStore(client *api.Client, mount string) *KVStore {
	if mount == "" {
		mount = DefaultMount
	}
	return &KVStore{client: client, mount: strings.Trim(mount, "/")}
}

// NewKVStoreFromEnvironment authenticates with NewClientFromEnvironment and uses DefaultMount.
func NewKVStoreFromEnvironment(ctx context.Context) (*KVStore, error) {
	client, err := NewClientFromEnvironment(ctx)
	if err != nil {
		return nil, err
	}
	return NewKVStore(client, DefaultMount), nil
}

// StoragePath returns the KV v2 API path for a secret path.
//
// Example: "gdprvault/patient-pii/v1" → "secret/data/gdprvault/patient-pii/v1"
func (k *KVStore) StoragePath(path string) string {
	return k.mount + "/data/" + strings.TrimPrefix(path, "/")
}

// GetSecret reads the latest version of the secret at path.
func (k *KVStore) GetSecret(ctx context.Context, path string) ([]byte, error) {
	secret, err := k.client.Logical().ReadWithContext(ctx, k.StoragePath(path))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s from Vault KV: %w", gdprvault.ErrSecretUnavailable, path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("%w: secret %s", gdprvault.ErrNotFound, path)
	}

	// KV v2 wraps the payload in a "data" key; a deleted version has none.
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: secret %s has no current version", gdprvault.ErrNotFound, path)
	}
	encoded, ok := data["value"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: secret %s has no value field", gdprvault.ErrInvalidConfiguration, path)
	}
	value, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: secret %s is not base64: %w", gdprvault.ErrInvalidConfiguration, path, err)
	}
	return value, nil
}

// PutSecret writes value as a new version of the secret at path.
func (k *KVStore) PutSecret(ctx context.Context, path string, value []byte) error {
	if len(value) == 0 {
		return fmt.Errorf("%w: secret %s cannot be empty", gdprvault.ErrInvalidConfiguration, path)
	}
	_, err := k.client.Logical().WriteWithContext(ctx, k.StoragePath(path), map[string]interface{}{
		"data": map[string]interface{}{
			"value": base64.StdEncoding.EncodeToString(value),
		},
	})
	if err != nil {
		return fmt.Errorf("%w: failed to write %s to Vault KV: %w", gdprvault.ErrSecretUnavailable, path, err)
	}
	return nil
}
