package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "personal", cfg.Vault.ID)
	assert.Equal(t, Duration(15*time.Minute), cfg.Session.TTL)
	assert.Equal(t, "moderate", cfg.KDF.Profile)
	assert.Empty(t, cfg.Provider.Kind)
}

func TestLoad_OverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
data_dir: /tmp/genpwd-test
vault:
  id: work
  device_id: laptop
session:
  ttl: 5m
provider:
  kind: s3
  bucket: my-vaults
  region: eu-west-1
  connect_timeout: 5s
  read_timeout: 20s
  write_timeout: 1m
rotation:
  interval: 720h
kdf:
  profile: sensitive
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "work", cfg.Vault.ID)
	assert.Equal(t, "laptop", cfg.Vault.DeviceID)
	assert.Equal(t, Duration(5*time.Minute), cfg.Session.TTL)
	assert.Equal(t, "my-vaults", cfg.Provider.Bucket)
	assert.Equal(t, Duration(5*time.Second), cfg.Provider.ConnectTimeout)
	assert.Equal(t, Duration(20*time.Second), cfg.Provider.ReadTimeout)
	assert.Equal(t, Duration(time.Minute), cfg.Provider.WriteTimeout)
	assert.Equal(t, Duration(720*time.Hour), cfg.Rotation.Interval)
	assert.Equal(t, "sensitive", cfg.KDF.Profile)
	assert.Equal(t, filepath.Join("/tmp/genpwd-test", "store.db"), cfg.StorePath())
}

func TestLoad_RejectsBadSettings(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"bad duration", "session:\n  ttl: soon\n"},
		{"unknown provider", "provider:\n  kind: gopherdrive\n"},
		{"s3 without bucket", "provider:\n  kind: s3\n  region: eu-west-1\n"},
		{"unknown profile", "kdf:\n  profile: ludicrous\n"},
		{"negative timeout", "provider:\n  kind: memory\n  read_timeout: -5s\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.raw), 0o600))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestSaveRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg := Default()
	cfg.Vault.DeviceID = "device-a"
	cfg.Provider = ProviderConfig{Kind: "s3", Bucket: "b", Region: "r"}
	require.NoError(t, cfg.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}
