package server

import (
	"vaultkey-controlplane/pkg/config"
	"vaultkey-controlplane/pkg/health"
	"vaultkey-controlplane/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewEngine builds the gin router shared by every HTTP route. Services add their
// routes through fx.Invoke.
func NewEngine(cfg *config.Config, h health.HealthService) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.Tracing(cfg.AppName),
		middleware.Logger(),
		middleware.Error(),
	)

	r.GET("/healthz", h.Liveness)
	r.GET("/readyz", h.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
