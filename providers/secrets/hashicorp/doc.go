// Package hashicorp provides HashiCorp Vault KV v2 storage for gdprvault key material.
//
// KVStore implements gdprvault.SecretManagementService. Every PII key version and
// the hash-index secret are separate KV entries whose "value" field holds the
// base64 encoded secret.
//
// # Basic Usage
//
//	kv, err := hashicorp.NewKVStoreFromEnvironment(ctx)
//	if err != nil {
//	    // handle error
//	}
//
//	svc, err := gdprvault.New(ctx, cfg, kv)
//
// # Provisioning
//
// With alias "patient-pii", key versions 1 and 2, and index alias "patient-index":
//
//	vault secrets enable -path=secret kv-v2
//	vault kv put secret/gdprvault/patient-pii/v1 value=$(head -c32 /dev/urandom | base64)
//	vault kv put secret/gdprvault/patient-pii/v2 value=$(head -c32 /dev/urandom | base64)
//	vault kv put secret/gdprvault/patient-index/index value=$(head -c32 /dev/urandom | base64)
//
// # Configuration
//
// See NewClientFromEnvironment for the VAULT_* variables. Read failures wrap
// gdprvault.ErrSecretUnavailable so gdprvault.New retries them; a missing entry
// wraps gdprvault.ErrNotFound and is not retried.
//
// # Required Policy
//
//	path "secret/data/gdprvault/*" {
//	  capabilities = ["read"]
//	}
//
// Add "create" and "update" for the principal that calls PutSecret.
package hashicorp
