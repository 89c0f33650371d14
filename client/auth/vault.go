package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	vaultapi "github.com/hashicorp/vault/api"
)

const (
	defaultVaultKey = "api_key"
	vaultCacheTTL   = 5 * time.Minute
)

// VaultToken reads the API token from a Vault secret. The Vault address and
// token come from the standard VAULT_ADDR and VAULT_TOKEN variables.
type VaultToken struct {
	client *vaultapi.Client
	path   string
	key    string

	lock    sync.Mutex
	token   string
	fetched time.Time
}

// NewVaultToken returns a token source reading key from the secret at
// path. Both KV version 1 and 2 secrets are supported.
func NewVaultToken(path, key string) (*VaultToken, error) {
	cfg := vaultapi.DefaultConfig()
	if cfg.Error != nil {
		return nil, ConfigurationError{Setting: "vault", Message: cfg.Error.Error()}
	}
	client, err := vaultapi.NewClient(cfg)
	if err != nil {
		return nil, ConfigurationError{Setting: "vault", Message: err.Error()}
	}
	return newVaultToken(client, path, key), nil
}

func newVaultToken(client *vaultapi.Client, path, key string) *VaultToken {
	if len(key) == 0 {
		key = defaultVaultKey
	}
	return &VaultToken{client: client, path: path, key: key}
}

func (v *VaultToken) Token(ctx context.Context) (string, error) {
	v.lock.Lock()
	defer v.lock.Unlock()

	if len(v.token) > 0 && time.Since(v.fetched) < vaultCacheTTL {
		return v.token, nil
	}

	token, err := v.read(ctx)
	if err != nil {
		if len(v.token) > 0 {
			// keep using the last token while vault is unavailable
			return v.token, nil
		}
		return "", err
	}

	v.token = token
	v.fetched = time.Now()
	return token, nil
}

func (v *VaultToken) read(ctx context.Context) (string, error) {
	secret, err := v.client.Logical().ReadWithContext(ctx, v.path)
	if err != nil {
		return "", fmt.Errorf("vault read %s: %w", v.path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", ConfigurationError{Setting: "api-key-vault-path", Message: fmt.Sprintf("no secret at %s", v.path)}
	}

	data := secret.Data
	// KV version 2 nests the values
	if nested, ok := data["data"].(map[string]any); ok {
		data = nested
	}

	token, ok := data[v.key].(string)
	if !ok || len(token) == 0 {
		return "", ConfigurationError{Setting: "api-key-vault-path", Message: fmt.Sprintf("%s has no %q value", v.path, v.key)}
	}
	return token, nil
}
