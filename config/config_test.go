package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"ctfadapter/native/market"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	require.Equal(t, ":8645", cfg.ListenAddress)
	require.Equal(t, market.DefaultSafetyPeriod, cfg.SafetyPeriodSeconds)
	require.Equal(t, "sqlite", cfg.History.Driver)
	require.NoError(t, cfg.Validate())
}

func TestLoadAppliesFileValues(t *testing.T) {
	path := writeConfig(t, `
ListenAddress = ":9000"
AdapterAddress = "0x00000000000000000000000000000000000000CA"
OracleAddress = "0x000000000000000000000000000000000000000F"
SafetyPeriodSeconds = 3600
AdminAddresses = ["0x00000000000000000000000000000000000000AD"]
TokenWhitelist = ["0x0000000000000000000000000000000000000077"]

[history]
Driver = "sqlite"
DSN = "file::memory:"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.ListenAddress)
	require.Equal(t, int64(3600), cfg.SafetyPeriodSeconds)
	require.Len(t, cfg.AdminAddrs(), 1)
	require.Len(t, cfg.WhitelistAddrs(), 1)
	require.Equal(t, byte(0x77), cfg.WhitelistAddrs()[0][19])
}

func TestLoadRejectsBadAddresses(t *testing.T) {
	path := writeConfig(t, `
AdapterAddress = "not-an-address"
OracleAddress = "0x000000000000000000000000000000000000000F"
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateRejectsAdapterOracleCollision(t *testing.T) {
	cfg := defaultConfig()
	cfg.OracleAddress = cfg.AdapterAddress
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsPostgresWithoutDSN(t *testing.T) {
	cfg := defaultConfig()
	cfg.History.Driver = "postgres"
	require.Error(t, cfg.Validate())
	cfg.History.DSN = "postgres://localhost/ctfadapter"
	require.NoError(t, cfg.Validate())
}

func TestResolveAuthSecretPrefersEnv(t *testing.T) {
	cfg := defaultConfig()
	cfg.AuthSecret = "inline"
	cfg.AuthSecretEnv = "CTFADAPTER_TEST_SECRET"
	t.Setenv("CTFADAPTER_TEST_SECRET", "from-env")
	require.Equal(t, "from-env", cfg.ResolveAuthSecret())
	t.Setenv("CTFADAPTER_TEST_SECRET", "")
	require.Equal(t, "inline", cfg.ResolveAuthSecret())
}
