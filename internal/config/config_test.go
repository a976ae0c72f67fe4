package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

// memBackend is an in-memory ConfigBackend.
type memBackend struct {
	strings map[string]string
	ints    map[string]int
	bools   map[string]bool
	err     error
}

func newMemBackend() *memBackend {
	return &memBackend{strings: map[string]string{}, ints: map[string]int{}, bools: map[string]bool{}}
}

func (b *memBackend) GetString(key string) (string, bool, error) {
	if b.err != nil {
		return "", false, b.err
	}
	v, ok := b.strings[key]
	return v, ok, nil
}

func (b *memBackend) GetInt(key string) (int, bool, error) {
	if b.err != nil {
		return 0, false, b.err
	}
	v, ok := b.ints[key]
	return v, ok, nil
}

func (b *memBackend) GetBool(key string) (bool, bool, error) {
	if b.err != nil {
		return false, false, b.err
	}
	v, ok := b.bools[key]
	return v, ok, nil
}

func (b *memBackend) SetString(key, val string) error { b.strings[key] = val; return nil }
func (b *memBackend) SetInt(key string, val int) error { b.ints[key] = val; return nil }
func (b *memBackend) SetBool(key string, val bool) error { b.bools[key] = val; return nil }
func (b *memBackend) Delete(key string) error {
	delete(b.strings, key)
	delete(b.ints, key)
	delete(b.bools, key)
	return nil
}

// mockKeychain is a test double for Keychain.
type mockKeychain struct {
	values map[string]string
	getErr error
	setErr error
}

func (m *mockKeychain) Get(service, account string) (string, error) {
	if m.getErr != nil {
		return "", m.getErr
	}
	return m.values[service+"/"+account], nil
}

func (m *mockKeychain) Set(service, account, value string) error {
	if m.setErr != nil {
		return m.setErr
	}
	if m.values == nil {
		m.values = map[string]string{}
	}
	m.values[service+"/"+account] = value
	return nil
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
	t.Setenv(tokenEnv, "")
}

// TestDefaults verifies all default values are applied for an empty backend.
func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(newMemBackend())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if !cfg.Notify.Watch {
		t.Error("Notify.Watch should default to true")
	}
	if cfg.Storage.DataDir == "" {
		t.Error("Storage.DataDir is empty")
	}
	if want := filepath.Join(cfg.Storage.DataDir, "packages"); cfg.PackagesDir() != want {
		t.Errorf("PackagesDir() = %q, want %q", cfg.PackagesDir(), want)
	}
	if cfg.Desktop.ApplyCommand != "" || cfg.Desktop.DefaultsFile != "" {
		t.Errorf("Desktop = %+v, want empty", cfg.Desktop)
	}
}

// TestBackendValues verifies that every key type is read from the backend.
func TestBackendValues(t *testing.T) {
	clearEnv(t)

	b := newMemBackend()
	b.ints["server.port"] = 5000
	b.strings["storage.data_dir"] = "/tmp/deskconf-test"
	b.strings["packages.dir"] = "/usr/share/deskconf/packages"
	b.strings["desktop.apply_command"] = "gsettings-reload --all"
	b.bools["notify.watch"] = false

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Storage.DataDir != "/tmp/deskconf-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.PackagesDir() != "/usr/share/deskconf/packages" {
		t.Errorf("PackagesDir() = %q", cfg.PackagesDir())
	}
	if cfg.Desktop.ApplyCommand != "gsettings-reload --all" {
		t.Errorf("Desktop.ApplyCommand = %q", cfg.Desktop.ApplyCommand)
	}
	if cfg.Notify.Watch {
		t.Error("Notify.Watch = true, want false")
	}
}

// TestEnvOverride verifies that environment variables override backend values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)

	b := newMemBackend()
	b.ints["server.port"] = 5000
	b.strings["log.level"] = "info"

	t.Setenv("DESKCONF_SERVER_PORT", "6000")
	t.Setenv("DESKCONF_LOG_LEVEL", "debug")
	t.Setenv("DESKCONF_NOTIFY_WATCH", "0")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Notify.Watch {
		t.Error("Notify.Watch = true, want false")
	}
}

// TestInvalidEnvIgnored verifies a malformed env value keeps the previous value.
func TestInvalidEnvIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("DESKCONF_SERVER_PORT", "not-a-port")

	cfg, err := loadWith(newMemBackend())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want default", cfg.Server.Port)
	}
}

func TestBackendError(t *testing.T) {
	clearEnv(t)
	b := newMemBackend()
	b.err = errors.New("defaults unavailable")

	if _, err := loadWith(b); err == nil {
		t.Fatal("expected backend error")
	}
}

func TestSetKey(t *testing.T) {
	b := newMemBackend()

	if err := setKeyWith(b, "server.port", "4200"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if b.ints["server.port"] != 4200 {
		t.Errorf("server.port = %d", b.ints["server.port"])
	}
	if err := setKeyWith(b, "notify.watch", "no"); err == nil {
		t.Error("expected error for invalid bool")
	}
	if err := setKeyWith(b, "notify.watch", "FALSE"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if v, ok := b.bools["notify.watch"]; !ok || v {
		t.Errorf("notify.watch = %v (set %v), want false", v, ok)
	}
	if err := setKeyWith(b, "server.port", "abc"); err == nil {
		t.Error("expected error for invalid integer")
	}
	if err := setKeyWith(b, "no.such.key", "x"); err == nil || !strings.Contains(err.Error(), "unknown config key") {
		t.Errorf("err = %v, want unknown key error", err)
	}
}

func TestShowAllCoversValidKeys(t *testing.T) {
	clearEnv(t)
	cfg, _ := loadWith(newMemBackend())

	infos := ShowAll(cfg)
	keys := ValidKeys()
	if len(infos) != len(keys) {
		t.Fatalf("ShowAll has %d entries, ValidKeys %d", len(infos), len(keys))
	}
	for i, info := range infos {
		if info.Key != keys[i] {
			t.Errorf("entry %d: %q != %q", i, info.Key, keys[i])
		}
		if !strings.HasPrefix(info.EnvVar, "DESKCONF_") {
			t.Errorf("%s: env var %q", info.Key, info.EnvVar)
		}
	}
}

func TestGetAPIToken(t *testing.T) {
	t.Setenv(tokenEnv, "")

	kc := &mockKeychain{}
	first, err := GetAPIToken(kc)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if first == "" {
		t.Fatal("empty token")
	}
	second, err := GetAPIToken(kc)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if first != second {
		t.Errorf("token changed between calls: %q != %q", first, second)
	}

	t.Setenv(tokenEnv, "from-env")
	if got, _ := GetAPIToken(kc); got != "from-env" {
		t.Errorf("token = %q, want env value", got)
	}
}

func TestGetAPIToken_StoreFailure(t *testing.T) {
	t.Setenv(tokenEnv, "")
	kc := &mockKeychain{getErr: errors.New("locked"), setErr: errors.New("locked")}
	if _, err := GetAPIToken(kc); err == nil {
		t.Fatal("expected error when the token cannot be stored")
	}
}

func TestLoadDefaults_Builtin(t *testing.T) {
	d, err := LoadDefaults("")
	if err != nil {
		t.Fatalf("LoadDefaults: %v", err)
	}

	if got := d.Get("defaults.desktop.theme", nil); got != "StandardTheme" {
		t.Errorf("theme = %v", got)
	}
	if got := d.Get("defaults.desktop.iconview.enabled", nil); got != true {
		t.Errorf("iconview.enabled = %#v, want true", got)
	}
	if got := d.Get("defaults.desktop.nothing", "fb"); got != "fb" {
		t.Errorf("missing path = %v, want fallback", got)
	}
	if _, ok := d.Get("defaults", nil).(map[string]any); !ok {
		t.Errorf("defaults is not a tree: %T", d.Get("defaults", nil))
	}
	locales := d.Locales()
	if len(locales) == 0 || locales[0] != "en_EN" {
		t.Errorf("Locales() = %v", locales)
	}
}

func TestLoadDefaults_Override(t *testing.T) {
	path := filepath.Join(t.TempDir(), "defaults.yaml")
	content := `
locales: [nb_NO]
defaults:
  desktop:
    theme: Midnight
    background:
      color: "#000000"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	d, err := LoadDefaults(path)
	if err != nil {
		t.Fatalf("LoadDefaults: %v", err)
	}
	if got := d.Get("defaults.desktop.theme", nil); got != "Midnight" {
		t.Errorf("theme = %v, want override", got)
	}
	if got := d.Get("defaults.desktop.background.color", nil); got != "#000000" {
		t.Errorf("color = %v, want override", got)
	}
	if got := d.Get("defaults.desktop.background.style", nil); got != "color" {
		t.Errorf("sibling style = %v, want built-in value", got)
	}
	if !reflect.DeepEqual(d.Locales(), []string{"nb_NO"}) {
		t.Errorf("Locales() = %v, want override list", d.Locales())
	}
}

func TestLoadDefaults_MissingOverride(t *testing.T) {
	d, err := LoadDefaults(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadDefaults: %v", err)
	}
	if got := d.Get("defaults.locale.language", nil); got != "en_EN" {
		t.Errorf("language = %v", got)
	}
}

func TestLoadDefaults_BadOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "defaults.yaml")
	if err := os.WriteFile(path, []byte("defaults: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadDefaults(path); err == nil {
		t.Fatal("expected parse error")
	}
}
