// Package auth provides the API token used to authenticate with the
// monitoring provider.
package auth

import (
	"context"
	"strings"
)

// TokenSource returns the current API token. Implementations may refresh
// the token in the background; callers should ask for it on every request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a token given directly in the configuration.
type StaticToken string

func (t StaticToken) Token(ctx context.Context) (string, error) {
	if len(t) == 0 {
		return "", ConfigurationError{Setting: "api-key"}
	}
	return string(t), nil
}

// Settings selects where the API token comes from. Exactly one of
// Token, File or VaultPath is used, in that order of preference.
type Settings struct {
	Token     string
	File      string
	VaultPath string
	VaultKey  string
}

// NewTokenSource returns the token source for the settings. File and Vault
// sources keep running until ctx is cancelled.
func NewTokenSource(ctx context.Context, s Settings) (TokenSource, error) {
	switch {
	case len(strings.TrimSpace(s.Token)) > 0:
		return StaticToken(strings.TrimSpace(s.Token)), nil
	case len(s.File) > 0:
		return NewFileToken(ctx, s.File)
	case len(s.VaultPath) > 0:
		return NewVaultToken(s.VaultPath, s.VaultKey)
	}
	return nil, ConfigurationError{
		Setting: "api-key",
		Message: "one of api-key, api-key-file or api-key-vault-path must be set",
	}
}
