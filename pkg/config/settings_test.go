package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func defaultConfig(t *testing.T) *Config {
	t.Helper()
	v := viper.New()
	setDefaults(v)

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	cfg.SecretAES = "0123456789abcdef0123"
	cfg.CapabilitySecret = "fedcba9876543210fedc"
	return &cfg
}

func TestNewSettingsDefaults(t *testing.T) {
	s, err := NewSettings(defaultConfig(t))
	require.NoError(t, err)

	require.Equal(t, 30*24*time.Hour, s.Credential.TTL)
	require.Equal(t, 90, s.Credential.DefaultUses)
	require.Equal(t, 32, s.Credential.KeySize)
	require.Equal(t, "VIDEO_DECRYPTION", s.Credential.KeyKind)
	require.True(t, s.Ledger.Enabled)
	require.Equal(t, LedgerModeSimulator, s.Ledger.Mode)
	require.Equal(t, FailurePolicyWarn, s.Ledger.FailurePolicy)
	require.Equal(t, []byte("0123456789abcdef0123"), s.Secrets.AtRestKey)
}

func TestNewSettingsReportsEveryProblem(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Credential.DefaultUses = 0
	cfg.Credential.KeySize = 8
	cfg.Ledger.Mode = LedgerModeEthereum
	cfg.Ledger.FailurePolicy = "panic"
	cfg.SecretAES = "short"

	_, err := NewSettings(cfg)
	require.Error(t, err)
	for _, want := range []string{
		"CREDENTIAL.DEFAULT_USES",
		"CREDENTIAL.KEY_SIZE",
		"LEDGER.RPC_URL",
		"LEDGER.CONTRACT_ADDRESS",
		"LEDGER.PRIVATE_KEY",
		"LEDGER.FAILURE_POLICY",
		"SECRET_AES",
	} {
		require.ErrorContains(t, err, want)
	}
}

func TestNewSettingsDisabledLedgerSkipsLedgerChecks(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Ledger.Enabled = false
	cfg.Ledger.Mode = "bogus"
	cfg.Ledger.Timeout = 0

	s, err := NewSettings(cfg)
	require.NoError(t, err)
	require.False(t, s.Ledger.Enabled)
}

func TestLoadConfigReadsEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CREDENTIAL_DEFAULT_USES", "12")
	t.Setenv("LEDGER_FAILURE_POLICY", "abort")
	t.Setenv("SECRET_AES", "env-secret-value-123")

	cfg, err := LoadConfig(Params{})
	require.NoError(t, err)
	require.Equal(t, 12, cfg.Credential.DefaultUses)
	require.Equal(t, FailurePolicyAbort, cfg.Ledger.FailurePolicy)
	require.Equal(t, "env-secret-value-123", cfg.SecretAES)
}
