package task

import (
	"context"
	"maps"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Schedule is one cron driven task. Modules contribute schedules to the
// "task.schedules" value group.
type Schedule struct {
	Name        string
	Description string
	Spec        string
	Args        map[string]any
}

type Scheduler struct {
	service   *Service
	cron      *cron.Cron
	schedules []Schedule
}

type SchedulerParams struct {
	fx.In
	Service   *Service
	Schedules []Schedule `group:"task.schedules"`
}

func NewScheduler(p SchedulerParams) *Scheduler {
	return &Scheduler{
		service:   p.Service,
		cron:      cron.New(cron.WithLocation(time.UTC)),
		schedules: p.Schedules,
	}
}

// Register adds every schedule to the cron table and records the task
// definitions. Schedules with an empty spec are skipped.
func (s *Scheduler) Register(ctx context.Context) error {
	for _, sc := range s.schedules {
		if sc.Spec == "" {
			zap.L().Info("[Scheduler] schedule disabled", zap.String("task", sc.Name))
			continue
		}
		if err := s.service.EnsureTask(ctx, sc.Name, sc.Description, sc.Spec); err != nil {
			return err
		}
		if _, err := s.cron.AddFunc(sc.Spec, s.enqueueFunc(sc)); err != nil {
			return err
		}
		zap.L().Info("[Scheduler] registered", zap.String("task", sc.Name), zap.String("spec", sc.Spec))
	}
	return nil
}

func (s *Scheduler) enqueueFunc(sc Schedule) func() {
	return func() {
		start := time.Now()
		if _, err := s.service.Enqueue(context.Background(), sc.Name, maps.Clone(sc.Args)); err != nil {
			zap.L().Error("[Scheduler] failed to enqueue", zap.String("task", sc.Name), zap.Error(err))
			return
		}
		zap.L().Info("[Scheduler] enqueued", zap.String("task", sc.Name), zap.Duration("duration", time.Since(start)))
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop waits for running enqueues or until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		zap.L().Warn("[Scheduler] stop timed out")
	}
}

// StartScheduler hooks the scheduler into the fx lifecycle.
func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := s.Register(ctx); err != nil {
				return err
			}
			s.Start()
			zap.L().Info("[Scheduler] started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			s.Stop(ctx)
			return nil
		},
	})
}
