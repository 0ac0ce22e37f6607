package httpapi

import (
	"medilicense/pkg/config"
	"medilicense/pkg/health"
	"medilicense/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi",
	fx.Provide(NewEngine),
)

type Params struct {
	fx.In
	Config *config.Config
	Health health.HealthService `optional:"true"`
}

// NewEngine builds the gin engine every HTTP service mounts its routes on.
// It carries request IDs, error rendering, /metrics and the health probes.
func NewEngine(p Params) *gin.Engine {
	if p.Config.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.Error())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if p.Health != nil {
		health.Routes(r, p.Health)
	}
	return r
}
