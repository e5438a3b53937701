package ledger

import (
	"context"

	"vaultkey-controlplane/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("ledger",
	fx.Provide(
		NewOracle,
		NewAnchorer,
	),
)

// NewOracle picks the implementation from settings. It returns a nil Oracle when the
// ledger is disabled; Anchorer treats that as Skipped.
func NewOracle(lc fx.Lifecycle, settings *config.Settings) (Oracle, error) {
	s := settings.Ledger
	if !s.Enabled {
		zap.L().Warn("ledger disabled, credentials are stored with the sentinel reference",
			zap.String("ledger_tx_ref", DisabledRef))
		return nil, nil
	}

	switch s.Mode {
	case config.LedgerModeEthereum:
		oracle, client, err := DialEthereum(context.Background(), s)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				client.Close()
				return nil
			},
		})
		zap.L().Info("ledger oracle connected",
			zap.String("kind", KindEthereum),
			zap.String("contract", s.ContractAddress),
			zap.Int("retry_count", s.RetryCount),
			zap.Duration("timeout", s.Timeout),
		)
		return oracle, nil
	default:
		zap.L().Info("ledger oracle running in simulator mode")
		return NewSimulator(), nil
	}
}
