package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tandad.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, defaultListenAddress, cfg.ListenAddress)
	require.Equal(t, uint64(defaultSecurityBps), cfg.SecurityBps)
	require.Equal(t, "info", cfg.LogLevel)
	require.FileExists(t, path)

	// The generated file round-trips.
	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.ListenAddress, reloaded.ListenAddress)
}

func TestLoadAppliesDefaultsToPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tandad.toml")
	require.NoError(t, os.WriteFile(path, []byte("ListenAddress = \":9000\"\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.ListenAddress)
	require.Equal(t, uint64(defaultSweepAfter), cfg.SweepAfterSeconds)
	require.Equal(t, uint64(defaultGrace), cfg.SequencerGraceSeconds)
	require.Equal(t, defaultStableToken, cfg.StableToken)
}

func TestValidateRejectsWeakSecurity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tandad.toml")
	require.NoError(t, os.WriteFile(path, []byte("SecurityBps = 9000\n"), 0o600))

	_, err := Load(path)
	require.ErrorContains(t, err, "SecurityBps")
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tandad.toml")
	require.NoError(t, os.WriteFile(path, []byte("LogLevel = \"verbose\"\n"), 0o600))

	_, err := Load(path)
	require.ErrorContains(t, err, "LogLevel")
}

func TestPauseSwitchesParse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tandad.toml")
	body := "[pauses]\nCollateral = true\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.True(t, cfg.Pauses.Collateral)
	require.False(t, cfg.Pauses.Fund)
}
