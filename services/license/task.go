package license

import (
	"context"

	"medilicense/pkg/config"
	"medilicense/pkg/taskname"
	"medilicense/services/task"

	"github.com/hibiken/asynq"
)

func (s *Service) resetMonthlyJob(ctx context.Context, args map[string]any) (map[string]any, error) {
	n, err := s.ResetMonthlyUsage(ctx)
	return map[string]any{"licenses": n}, err
}

func (s *Service) expiryScanJob(ctx context.Context, args map[string]any) (map[string]any, error) {
	n, err := s.NotifyExpiring(ctx, intArg(args, "within_days"))
	return map[string]any{"warned": n}, err
}

// intArg reads a numeric job argument; JSON decoding yields float64.
func intArg(args map[string]any, name string) int {
	switch v := args[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}

func registerTaskHandlers(mux *asynq.ServeMux, jobs *task.Service, svc *Service) {
	mux.Handle(taskname.LicenseUsageResetMonthly, jobs.Handler(svc.resetMonthlyJob))
	mux.Handle(taskname.LicenseExpiryScan, jobs.Handler(svc.expiryScanJob))
}

func schedules(cfg *config.Config) []task.Schedule {
	return []task.Schedule{
		{
			Name:        taskname.LicenseUsageResetMonthly,
			Description: "Reset monthly appointment counters",
			Spec:        cfg.License.MonthlyResetCron,
		},
		{
			Name:        taskname.LicenseExpiryScan,
			Description: "Warn about licenses expiring soon",
			Spec:        cfg.License.ExpiryScanCron,
			Args:        map[string]any{"within_days": cfg.License.ExpiringSoonDays},
		},
	}
}
