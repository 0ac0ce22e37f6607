package license

import (
	"context"

	"medilicense/pkg/config"
	"medilicense/pkg/dns"
	"medilicense/pkg/featureflags"
	"medilicense/pkg/middleware"
	"medilicense/services/keygen"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// VerificationLabel is the DNS label holding activation TXT records:
// _medilicense.<domain> TXT <license id>.
const VerificationLabel = "_medilicense"

var Module = fx.Module("license.service",
	fx.Provide(
		NewRepository,
		NewUserStore,
		NewAuditSink,
		provideCache,
		provideVerifier,
		provideKeyExists,
		NewService,
		NewHandler,
	),
	fx.Invoke(migrate),
)

var Gateway = fx.Module("license.gateway",
	fx.Invoke(registerRoutes),
)

var TaskModule = fx.Module("license.task",
	fx.Provide(
		fx.Annotate(schedules, fx.ResultTags(`group:"task.schedules,flatten"`)),
	),
	fx.Invoke(registerTaskHandlers),
)

func migrate(cfg *config.Config, db *gorm.DB) error {
	if !cfg.Database.AutoMigrate {
		return nil
	}
	if err := db.AutoMigrate(Models()...); err != nil {
		zap.L().Error("failed to migrate license tables", zap.Error(err))
		return err
	}
	return nil
}

func provideKeyExists(repo Repository) keygen.ExistsFunc {
	return repo.KeyExists
}

type cacheParams struct {
	fx.In

	Config *config.Config
	Redis  *redis.Client `optional:"true"`
}

func provideCache(p cacheParams) Cache {
	switch {
	case p.Config.License.Cache.Driver == "memory":
		return NewMemoryCache()
	case p.Redis != nil:
		return NewRedisCache(p.Redis)
	}
	zap.L().Warn("redis not available, using in-process license cache")
	return NewMemoryCache()
}

func provideVerifier(cfg *config.Config) DomainVerifier {
	if !cfg.License.VerifyDomain {
		return nil
	}
	return dns.TXTVerifier{Label: VerificationLabel}
}

type routeParams struct {
	fx.In

	Config  *config.Config
	Engine  *gin.Engine
	Handler *Handler
	Redis   *redis.Client            `optional:"true"`
	Flags   featureflags.FeatureFlag `optional:"true"`
}

func registerRoutes(p routeParams) error {
	var limit gin.HandlerFunc
	if rate := p.Config.License.RateLimit; rate != "" {
		var err error
		if limit, err = middleware.RateLimit(rate, p.Redis); err != nil {
			zap.L().Error("invalid license rate limit", zap.String("rate", rate), zap.Error(err))
			return err
		}
	}

	var enabled func(ctx context.Context) bool
	if flag := p.Config.License.EnforcementFlag; flag != "" && p.Flags != nil {
		enabled = func(ctx context.Context) bool {
			return p.Flags.IsEnabled(ctx, flag, true)
		}
	}

	p.Handler.Routes(p.Engine, limit, middleware.LicenseGate(p.Handler.Restriction, enabled))
	return nil
}
