package config

import "strings"

// Keychain reads and writes secrets in the platform secret store.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

// NewKeychain returns the macOS Keychain on darwin. Elsewhere it uses the
// Secret Service when secret-tool is reachable and a 0600 JSON file if not.
func NewKeychain() Keychain {
	return systemKeychain{}
}

type systemKeychain struct{}

func (systemKeychain) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (systemKeychain) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}
