//go:build !darwin

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// secretTool is libsecret's CLI. On desktops running a Secret Service
// (GNOME Keyring, KWallet) secrets go there; otherwise they fall back to a
// 0600 JSON file.
var secretTool = "secret-tool"

func secretServiceAvailable() bool {
	if os.Getenv("DBUS_SESSION_BUS_ADDRESS") == "" {
		return false
	}
	_, err := exec.LookPath(secretTool)
	return err == nil
}

func keychainGet(service, account string) ([]byte, error) {
	if secretServiceAvailable() {
		out, err := exec.Command(secretTool, "lookup", "service", service, "account", account).Output()
		if err == nil && len(out) > 0 {
			return out, nil
		}
	}
	return fileSecretGet(secretsFilePath(), service, account)
}

func keychainSet(service, account, value string) error {
	if secretServiceAvailable() {
		cmd := exec.Command(secretTool, "store",
			"--label", fmt.Sprintf("%s %s", service, account),
			"service", service,
			"account", account,
		)
		cmd.Stdin = strings.NewReader(value)
		if err := cmd.Run(); err == nil {
			return nil
		}
	}
	return fileSecretSet(secretsFilePath(), service, account, value)
}

func secretsFilePath() string {
	return filepath.Join(defaultDataDir(), "secrets.json")
}

// secretsFile maps service to account to secret.
type secretsFile map[string]map[string]string

func readSecrets(path string) (secretsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var secrets secretsFile
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return secrets, nil
}

func fileSecretGet(path, service, account string) ([]byte, error) {
	secrets, err := readSecrets(path)
	if err != nil {
		return nil, fmt.Errorf("secret store not available: %w", err)
	}
	val, ok := secrets[service][account]
	if !ok {
		return nil, fmt.Errorf("no secret for %s/%s", service, account)
	}
	return []byte(val), nil
}

func fileSecretSet(path, service, account, value string) error {
	secrets, err := readSecrets(path)
	if err != nil || secrets == nil {
		secrets = secretsFile{}
	}
	if secrets[service] == nil {
		secrets[service] = map[string]string{}
	}
	secrets[service][account] = value

	return writeJSONAtomic(path, secrets)
}
