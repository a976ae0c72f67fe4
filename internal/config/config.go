package config

import "path/filepath"

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Log      LogConfig
	Packages PackagesConfig
	Desktop  DesktopConfig
	Notify   NotifyConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type PackagesConfig struct {
	// Dir holds installed theme packages. Empty means <data dir>/packages.
	Dir string
}

type DesktopConfig struct {
	// ApplyCommand is run after every save, split on whitespace.
	ApplyCommand string
	// DefaultsFile is a YAML file merged over the built-in defaults.
	DefaultsFile string
}

type NotifyConfig struct {
	Watch bool
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Notify: NotifyConfig{
			Watch: true,
		},
	}
}

// PackagesDir returns the package directory with its default applied.
func (c Config) PackagesDir() string {
	if c.Packages.Dir != "" {
		return c.Packages.Dir
	}
	return filepath.Join(c.Storage.DataDir, "packages")
}

// Load reads configuration from the platform-native backend and
// environment variables.
//
// On macOS the backend is UserDefaults (domain: com.deskconf.app).
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/deskconf/config.json.
//
// Environment variables (DESKCONF_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}
