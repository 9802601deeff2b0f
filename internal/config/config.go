// Package config loads the YAML client configuration and applies
// defaults for everything left unset.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/VBlackJack/genpwd-pro-sub017/kdf"
	"github.com/VBlackJack/genpwd-pro-sub017/rotation"
)

// Duration wraps time.Duration with YAML support for strings like "15m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full client configuration.
type Config struct {
	DataDir  string         `yaml:"data_dir"`
	Vault    VaultConfig    `yaml:"vault"`
	Session  SessionConfig  `yaml:"session"`
	Provider ProviderConfig `yaml:"provider,omitempty"`
	Rotation RotationConfig `yaml:"rotation"`
	KDF      KDFConfig      `yaml:"kdf"`
	Log      LogConfig      `yaml:"log"`
}

// VaultConfig identifies the local vault and this device.
type VaultConfig struct {
	ID       string `yaml:"id"`
	DeviceID string `yaml:"device_id"`
}

// SessionConfig controls the unlocked-key lifetime.
type SessionConfig struct {
	TTL Duration `yaml:"ttl"`
}

// ProviderConfig selects and parameterizes the sync backend. An empty
// kind disables sync. Zero timeouts fall back to the provider's defaults.
type ProviderConfig struct {
	Kind   string `yaml:"kind,omitempty"`
	Bucket string `yaml:"bucket,omitempty"`
	Region string `yaml:"region,omitempty"`
	Prefix string `yaml:"prefix,omitempty"`

	ConnectTimeout Duration `yaml:"connect_timeout,omitempty"`
	ReadTimeout    Duration `yaml:"read_timeout,omitempty"`
	WriteTimeout   Duration `yaml:"write_timeout,omitempty"`
}

// RotationConfig controls the store passphrase rotation cadence.
type RotationConfig struct {
	Interval Duration `yaml:"interval"`
}

// KDFConfig selects the key derivation profile for the master passphrase.
type KDFConfig struct {
	Profile string `yaml:"profile"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		DataDir:  filepath.Join(home, ".genpwd"),
		Vault:    VaultConfig{ID: "personal"},
		Session:  SessionConfig{TTL: Duration(15 * time.Minute)},
		Rotation: RotationConfig{Interval: Duration(rotation.DefaultInterval)},
		KDF:      KDFConfig{Profile: "moderate"},
		Log:      LogConfig{Level: "info"},
	}
}

// Load reads path and overlays it on the defaults. A missing file is not
// an error; the defaults are returned as-is.
func Load(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes the configuration to path, creating parent directories.
func (c Config) Save(path string) error {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

// Validate rejects settings the rest of the stack would choke on later.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must be set")
	}
	if c.Vault.ID == "" {
		return fmt.Errorf("vault.id must be set")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session.ttl must be positive")
	}
	if c.Rotation.Interval <= 0 {
		return fmt.Errorf("rotation.interval must be positive")
	}
	if _, err := kdf.Profile(c.KDF.Profile); err != nil {
		return fmt.Errorf("kdf.profile: %w", err)
	}
	if c.Provider.ConnectTimeout < 0 || c.Provider.ReadTimeout < 0 || c.Provider.WriteTimeout < 0 {
		return fmt.Errorf("provider timeouts must not be negative")
	}
	switch c.Provider.Kind {
	case "", "memory":
	case "s3":
		if c.Provider.Bucket == "" {
			return fmt.Errorf("provider.bucket must be set for s3")
		}
		if c.Provider.Region == "" {
			return fmt.Errorf("provider.region must be set for s3")
		}
	default:
		return fmt.Errorf("unknown provider kind %q", c.Provider.Kind)
	}
	return nil
}

// StorePath returns the encrypted database location.
func (c Config) StorePath() string {
	return filepath.Join(c.DataDir, "store.db")
}
