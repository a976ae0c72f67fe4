//go:build darwin

package config

import (
	"fmt"
	"os/exec"
)

// Secrets live as generic passwords in the login keychain, labelled so
// they are recognizable in Keychain Access.
func keychainGet(service, account string) ([]byte, error) {
	out, err := exec.Command("security", "find-generic-password",
		"-s", service, "-a", account, "-w",
	).Output()
	if err != nil {
		return nil, fmt.Errorf("keychain lookup %s/%s: %w", service, account, err)
	}
	return out, nil
}

func keychainSet(service, account, value string) error {
	err := exec.Command("security", "add-generic-password", "-U",
		"-l", fmt.Sprintf("%s %s", service, account),
		"-s", service, "-a", account, "-w", value,
	).Run()
	if err != nil {
		return fmt.Errorf("keychain store %s/%s: %w", service, account, err)
	}
	return nil
}
