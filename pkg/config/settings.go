package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	LedgerModeSimulator = "simulator"
	LedgerModeEthereum  = "ethereum"

	FailurePolicyWarn  = "warn"
	FailurePolicyAbort = "abort"

	minSecretSize = 16
)

// Settings is the validated, immutable view of the credential engine options.
// It is built once at startup and handed to constructors by pointer.
type Settings struct {
	Credential CredentialSettings
	Ledger     LedgerSettings
	Secrets    SecretSettings
}

type CredentialSettings struct {
	TTL           time.Duration
	DefaultUses   int
	KeySize       int
	TokenSize     int
	KeyKind       string
	CapabilityTTL time.Duration
}

type LedgerSettings struct {
	Enabled         bool
	Mode            string
	RPCURL          string
	ContractAddress string
	PrivateKey      string
	ChainID         int64
	Timeout         time.Duration
	RetryCount      int
	RetryInterval   time.Duration
	FailurePolicy   string
	ConfirmDelay    time.Duration
	SweepInterval   time.Duration
}

type SecretSettings struct {
	AtRestKey     []byte
	CapabilityKey []byte
}

// NewSettings validates cfg and returns the immutable settings. Every missing or
// out-of-range option is reported at once.
func NewSettings(cfg *Config) (*Settings, error) {
	if cfg == nil {
		return nil, errors.New("config: nil config")
	}

	var errs []error
	c := cfg.Credential
	l := cfg.Ledger

	if c.TTLDays <= 0 {
		errs = append(errs, fmt.Errorf("CREDENTIAL.TTL_DAYS must be > 0, got %d", c.TTLDays))
	}
	if c.DefaultUses <= 0 {
		errs = append(errs, fmt.Errorf("CREDENTIAL.DEFAULT_USES must be > 0, got %d", c.DefaultUses))
	}
	if c.KeySize < minSecretSize {
		errs = append(errs, fmt.Errorf("CREDENTIAL.KEY_SIZE must be >= %d, got %d", minSecretSize, c.KeySize))
	}
	if c.TokenSize < minSecretSize {
		errs = append(errs, fmt.Errorf("CREDENTIAL.TOKEN_SIZE must be >= %d, got %d", minSecretSize, c.TokenSize))
	}
	if strings.TrimSpace(c.KeyKind) == "" {
		errs = append(errs, errors.New("CREDENTIAL.KEY_KIND is required"))
	}
	if c.CapabilityTTL <= 0 {
		errs = append(errs, errors.New("CREDENTIAL.CAPABILITY_TTL must be > 0"))
	}

	if l.Enabled {
		switch l.Mode {
		case LedgerModeSimulator:
		case LedgerModeEthereum:
			if l.RPCURL == "" {
				errs = append(errs, errors.New("LEDGER.RPC_URL is required in ethereum mode"))
			}
			if l.ContractAddress == "" {
				errs = append(errs, errors.New("LEDGER.CONTRACT_ADDRESS is required in ethereum mode"))
			}
			if l.PrivateKey == "" {
				errs = append(errs, errors.New("LEDGER.PRIVATE_KEY is required in ethereum mode"))
			}
		default:
			errs = append(errs, fmt.Errorf("LEDGER.MODE must be %q or %q, got %q", LedgerModeSimulator, LedgerModeEthereum, l.Mode))
		}
		if l.Timeout <= 0 {
			errs = append(errs, errors.New("LEDGER.TIMEOUT must be > 0"))
		}
		if l.RetryCount < 0 {
			errs = append(errs, errors.New("LEDGER.RETRY_COUNT must be >= 0"))
		}
		if l.RetryCount > 0 && l.RetryInterval <= 0 {
			errs = append(errs, errors.New("LEDGER.RETRY_INTERVAL must be > 0 when retries are enabled"))
		}
	}

	switch l.FailurePolicy {
	case FailurePolicyWarn, FailurePolicyAbort:
	default:
		errs = append(errs, fmt.Errorf("LEDGER.FAILURE_POLICY must be %q or %q, got %q", FailurePolicyWarn, FailurePolicyAbort, l.FailurePolicy))
	}

	if len(cfg.SecretAES) < minSecretSize {
		errs = append(errs, fmt.Errorf("SECRET_AES must be at least %d bytes", minSecretSize))
	}
	if len(cfg.CapabilitySecret) < minSecretSize {
		errs = append(errs, fmt.Errorf("CAPABILITY_SECRET must be at least %d bytes", minSecretSize))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}

	return &Settings{
		Credential: CredentialSettings{
			TTL:           time.Duration(c.TTLDays) * 24 * time.Hour,
			DefaultUses:   c.DefaultUses,
			KeySize:       c.KeySize,
			TokenSize:     c.TokenSize,
			KeyKind:       c.KeyKind,
			CapabilityTTL: c.CapabilityTTL,
		},
		Ledger: LedgerSettings{
			Enabled:         l.Enabled,
			Mode:            l.Mode,
			RPCURL:          l.RPCURL,
			ContractAddress: l.ContractAddress,
			PrivateKey:      l.PrivateKey,
			ChainID:         l.ChainID,
			Timeout:         l.Timeout,
			RetryCount:      l.RetryCount,
			RetryInterval:   l.RetryInterval,
			FailurePolicy:   l.FailurePolicy,
			ConfirmDelay:    l.ConfirmDelay,
			SweepInterval:   l.SweepInterval,
		},
		Secrets: SecretSettings{
			AtRestKey:     []byte(cfg.SecretAES),
			CapabilityKey: []byte(cfg.CapabilitySecret),
		},
	}, nil
}
