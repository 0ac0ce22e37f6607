package middleware

import (
	"medilicense/pkg/rediskey"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// RateLimit limits requests per client IP. formatted uses the limiter
// notation, e.g. "30-M". With a redis client the counters are shared by
// every replica; otherwise they are process local.
func RateLimit(formatted string, rdb *redis.Client) (gin.HandlerFunc, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, err
	}

	var store limiter.Store
	if rdb != nil {
		store, err = sredis.NewStoreWithOptions(rdb, limiter.StoreOptions{
			Prefix: rediskey.LicenseRateLimitName,
		})
		if err != nil {
			return nil, err
		}
	} else {
		store = memory.NewStore()
	}

	zap.L().Info("rate limit enabled", zap.String("rate", formatted), zap.Bool("shared", rdb != nil))
	return mgin.NewMiddleware(limiter.New(store, rate)), nil
}
