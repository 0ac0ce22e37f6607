package main

import (
	"log"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"medilicense/pkg/config"
	"medilicense/pkg/db"
	"medilicense/pkg/featureflags"
	"medilicense/pkg/gen"
	"medilicense/pkg/hashistack/secretmanager"
	"medilicense/pkg/hashistack/servicediscover"
	"medilicense/pkg/health"
	"medilicense/pkg/httpapi"
	"medilicense/pkg/logger"
	"medilicense/pkg/otelcol"
	"medilicense/pkg/profiling"
	"medilicense/pkg/redis"
	"medilicense/pkg/server"
	"medilicense/pkg/task"
	"medilicense/services/keygen"
	"medilicense/services/license"
	jobs "medilicense/services/task"
)

func main() {
	opts := []fx.Option{
		configModules(),
		logger.Module,
		db.Module,
		redis.Module,
		gen.Module,
		otelcol.Module,
		profiling.Module,
		featureflags.Module,
		health.Module,
		task.Client,
		task.Server,
		jobs.Module,
		jobs.SchedulerModule,
		keygen.Module,
		httpapi.Module,
		license.Module,
		license.Gateway,
		license.TaskModule,
		server.ProvideGRPCServer,
		server.ProvideHTTPServer,
		servicediscover.Module,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

// configModules reads config from consul when REMOTE_CONFIG_PROVIDER is set,
// otherwise from config.yaml and the environment. Vault is consulted
// whenever VAULT_ADDR is present.
func configModules() fx.Option {
	var opts []fx.Option
	if _, ok := os.LookupEnv("VAULT_ADDR"); ok {
		opts = append(opts, secretmanager.Module)
	}

	if _, ok := os.LookupEnv("REMOTE_CONFIG_PROVIDER"); ok {
		opts = append(opts, config.RemoteModule)
	} else {
		opts = append(opts, config.Module)
	}
	return fx.Options(opts...)
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
