package config

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

const (
	keychainService = "deskconf"
	tokenAccount    = "api_token"
	tokenEnv        = "DESKCONF_API_TOKEN"
)

// GetAPIToken returns the bearer token guarding the HTTP API. DESKCONF_API_TOKEN
// wins when set. Otherwise the token is read from kc, and a new one is
// generated and stored on first use.
func GetAPIToken(kc Keychain) (string, error) {
	if tok := os.Getenv(tokenEnv); tok != "" {
		return tok, nil
	}
	if tok, err := kc.Get(keychainService, tokenAccount); err == nil && tok != "" {
		return tok, nil
	}

	tok := uuid.New().String()
	if err := kc.Set(keychainService, tokenAccount, tok); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return tok, nil
}
