package hashicorp

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/hashicorp/vault/api"
	"github.com/hengadev/gdprvault"
)

// NewClientFromEnvironment creates an authenticated Vault client.
//
// Environment Variables:
//   - VAULT_ADDR: Vault server address (required, e.g., "https://vault.example.com")
//   - VAULT_NAMESPACE: Vault namespace for HCP Vault (optional)
//   - VAULT_TOKEN: direct Vault token (optional, alternative to AppRole)
//   - VAULT_ROLE_ID / VAULT_SECRET_ID: AppRole credentials (optional, both required)
//
// A token wins over AppRole when both are configured.
func NewClientFromEnvironment(ctx context.Context) (*api.Client, error) {
	config := api.DefaultConfig()
	if addr := os.Getenv("VAULT_ADDR"); addr != "" {
		config.Address = addr
	}
	if config.Address == "" {
		return nil, fmt.Errorf("%w: VAULT_ADDR environment variable is required", gdprvault.ErrInvalidConfiguration)
	}
	config.HttpClient.Transport = &http.Transport{Proxy: http.ProxyFromEnvironment}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Vault client: %w", gdprvault.ErrSecretUnavailable, err)
	}
	if namespace := os.Getenv("VAULT_NAMESPACE"); namespace != "" {
		client.SetNamespace(namespace)
	}

	if token := os.Getenv("VAULT_TOKEN"); token != "" {
		client.SetToken(token)
		return client, nil
	}

	roleID, secretID := os.Getenv("VAULT_ROLE_ID"), os.Getenv("VAULT_SECRET_ID")
	if roleID == "" || secretID == "" {
		return nil, fmt.Errorf("%w: no Vault authentication method configured (set VAULT_TOKEN or VAULT_ROLE_ID+VAULT_SECRET_ID)",
			gdprvault.ErrInvalidConfiguration)
	}
	if err := loginAppRole(ctx, client, roleID, secretID); err != nil {
		return nil, err
	}
	return client, nil
}

func loginAppRole(ctx context.Context, client *api.Client, roleID, secretID string) error {
	resp, err := client.Logical().WriteWithContext(ctx, "auth/approle/login", map[string]interface{}{
		"role_id":   roleID,
		"secret_id": secretID,
	})
	if err != nil {
		return fmt.Errorf("%w: AppRole login failed: %w", gdprvault.ErrSecretUnavailable, err)
	}
	if resp == nil || resp.Auth == nil {
		return fmt.Errorf("%w: no auth info returned from AppRole login", gdprvault.ErrInvalidConfiguration)
	}
	client.SetToken(resp.Auth.ClientToken)
	return nil
}
