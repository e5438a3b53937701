package health

import (
	"context"
	"net/http"
	"time"

	"vaultkey-controlplane/pkg/ledger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("health", fx.Provide(ProvideHealth))

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDegraded  = "degraded"

	probeTimeout = 3 * time.Second
)

type Dependency struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	Advisory bool   `json:"advisory,omitempty"`
}

type Health struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Deps    []Dependency `json:"deps"`
}

type HealthService interface {
	Liveness(c *gin.Context)
	Readiness(c *gin.Context)
}

type health struct {
	db     *gorm.DB
	redis  *redis.Client
	oracle ledger.Oracle
}

type HealthParams struct {
	fx.In
	DB     *gorm.DB      `optional:"true"`
	Redis  *redis.Client `optional:"true"`
	Oracle ledger.Oracle `optional:"true"`
}

func ProvideHealth(p HealthParams) HealthService {
	return &health{
		db:     p.DB,
		redis:  p.Redis,
		oracle: p.Oracle,
	}
}

func (h *health) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, &Health{
		Status:  StatusHealthy,
		Message: "OK",
	})
}

// Readiness fails when the database or redis is unreachable. The ledger is
// reported but never fails the probe, since credentials keep working unanchored.
func (h *health) Readiness(c *gin.Context) {
	out := h.check(c.Request.Context())
	code := http.StatusOK
	if out.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, out)
}

func (h *health) check(ctx context.Context) *Health {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out := &Health{Status: StatusHealthy, Message: "OK", Deps: make([]Dependency, 0, 3)}

	if h.db != nil {
		dep := Dependency{Name: h.db.Name(), Status: StatusHealthy, Message: "OK"}
		sqlDB, err := h.db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			dep.Status = StatusUnhealthy
			dep.Message = err.Error()
		}
		out.Deps = append(out.Deps, dep)
	}

	if h.redis != nil {
		dep := Dependency{Name: "redis", Status: StatusHealthy, Message: "OK"}
		if err := h.redis.Ping(ctx).Err(); err != nil {
			dep.Status = StatusUnhealthy
			dep.Message = err.Error()
		}
		out.Deps = append(out.Deps, dep)
	}

	if h.oracle != nil {
		dep := Dependency{Name: "ledger:" + h.oracle.Kind(), Status: StatusHealthy, Message: "OK", Advisory: true}
		st, err := h.oracle.Health(ctx)
		switch {
		case err != nil:
			dep.Status = StatusDegraded
			dep.Message = err.Error()
		case st == nil || !st.Connected:
			dep.Status = StatusDegraded
			dep.Message = "not connected"
		}
		out.Deps = append(out.Deps, dep)
	}

	for _, d := range out.Deps {
		switch {
		case d.Status == StatusUnhealthy && !d.Advisory:
			out.Status = StatusUnhealthy
			out.Message = d.Name + " unavailable"
			return out
		case d.Status != StatusHealthy && out.Status == StatusHealthy:
			out.Status = StatusDegraded
			out.Message = d.Name + " degraded"
		}
	}
	return out
}
