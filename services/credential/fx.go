package credential

import (
	"vaultkey-controlplane/pkg/config"
	"vaultkey-controlplane/pkg/keycodec"

	"go.uber.org/fx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
)

func provideCodec(s *config.Settings) (*keycodec.Codec, error) {
	return keycodec.New(s.Secrets.AtRestKey)
}

var Module = fx.Module("credential.service",
	fx.Provide(
		NewRepository,
		provideCodec,
		NewService,
	),
)

// API exposes the service over gin and the gRPC health protocol.
var API = fx.Module("credential.api",
	fx.Provide(NewHandler, NewHealthServer),
	fx.Invoke(
		RegisterRoutes,
		registerHealthServer,
	),
)

// Worker runs ledger confirmations and the pending sweep.
var Worker = fx.Module("credential.worker",
	fx.Provide(
		NewRepository,
		NewConfirmer,
		NewSweeper,
	),
	fx.Invoke(
		registerConfirmHandler,
		StartSweeper,
	),
)

func registerHealthServer(server *grpc.Server, h *HealthServer) {
	grpc_health_v1.RegisterHealthServer(server, h)
}

