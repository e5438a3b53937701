package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"vaultkey-controlplane/pkg/config"
	"vaultkey-controlplane/pkg/db"
	"vaultkey-controlplane/pkg/hashistack/secretmanager"
	"vaultkey-controlplane/pkg/ledger"
	"vaultkey-controlplane/pkg/logger"
	"vaultkey-controlplane/pkg/metrics"
	"vaultkey-controlplane/pkg/otelcol"
	"vaultkey-controlplane/pkg/profiling"
	"vaultkey-controlplane/pkg/task"
	"vaultkey-controlplane/services/credential"
)

// worker confirms submitted ledger transactions and sweeps the ones still pending.
func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		otelcol.Module,
		metrics.Module,
		db.Module,
		ledger.Module,
		task.Client,
		task.Server,
		credential.Worker,
		profiling.Module,
		fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	fx.New(opts...).Run()
}
