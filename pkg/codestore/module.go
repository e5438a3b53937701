package codestore

import "go.uber.org/fx"

var Module = fx.Module("codestore",
	fx.Provide(
		fx.Annotate(NewRedisStore, fx.As(new(Store))),
	),
)

// MemoryModule backs the Store with process memory, for single-instance deployments.
var MemoryModule = fx.Module("codestore.memory",
	fx.Provide(
		fx.Annotate(func() *MemoryStore { return NewMemoryStore(0) }, fx.As(new(Store))),
	),
)
