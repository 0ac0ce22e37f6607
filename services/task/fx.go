package task

import (
	"medilicense/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("task.service",
	fx.Provide(
		NewService,
	),
	fx.Invoke(migrate),
)

// SchedulerModule runs the cron table of every contributed Schedule.
var SchedulerModule = fx.Module("task.scheduler",
	fx.Provide(NewScheduler),
	fx.Invoke(StartScheduler),
)

func migrate(cfg *config.Config, db *gorm.DB) error {
	if !cfg.Database.AutoMigrate {
		return nil
	}
	if err := db.AutoMigrate(Models()...); err != nil {
		zap.L().Error("failed to migrate task tables", zap.Error(err))
		return err
	}
	return nil
}
