package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"vaultkey-controlplane/pkg/accesscontrol"
	"vaultkey-controlplane/pkg/capability"
	"vaultkey-controlplane/pkg/codestore"
	"vaultkey-controlplane/pkg/config"
	"vaultkey-controlplane/pkg/db"
	"vaultkey-controlplane/pkg/featureflags"
	"vaultkey-controlplane/pkg/gen"
	"vaultkey-controlplane/pkg/hashistack/secretmanager"
	"vaultkey-controlplane/pkg/hashistack/servicediscover"
	"vaultkey-controlplane/pkg/health"
	"vaultkey-controlplane/pkg/ledger"
	"vaultkey-controlplane/pkg/logger"
	"vaultkey-controlplane/pkg/metrics"
	"vaultkey-controlplane/pkg/otelcol"
	"vaultkey-controlplane/pkg/profiling"
	"vaultkey-controlplane/pkg/redis"
	"vaultkey-controlplane/pkg/server"
	"vaultkey-controlplane/pkg/task"
	"vaultkey-controlplane/services/account"
	"vaultkey-controlplane/services/credential"
)

func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		otelcol.Module,
		metrics.Module,
		db.Module,
		redis.Module,
		codestore.Module,
		task.Client,
		gen.Module,
		featureflags.Module,
		ledger.Module,
		capability.Module,
		accesscontrol.Module,
		account.Module,
		credential.Module,
		credential.API,
		health.Module,
		server.ProvideGRPCServer,
		server.ProvideHTTPServer,
		servicediscover.Module,
		profiling.Module,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	fx.New(opts...).Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "production" {
		return fxevent.NopLogger
	}
	return &fxevent.ZapLogger{Logger: logger}
})
