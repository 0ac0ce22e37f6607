package task

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"time"

	taskq "medilicense/pkg/task"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Payload is the envelope every enqueued task carries.
type Payload struct {
	JobID string         `json:"job_id"`
	Args  map[string]any `json:"args,omitempty"`
}

// HandlerFunc does the work of one job and returns metadata to store on it.
type HandlerFunc func(ctx context.Context, args map[string]any) (map[string]any, error)

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	enqueuer taskq.Enqueuer
	now      func() time.Time
}

type Params struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Enqueuer taskq.Enqueuer `optional:"true"`
}

func NewService(p Params) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		enqueuer: p.Enqueuer,
		now:      time.Now,
	}
}

// EnsureTask registers or refreshes a task definition.
func (s *Service) EnsureTask(ctx context.Context, name, description, schedule string) error {
	t := Task{Name: name, Description: description, Schedule: schedule, IsActive: true}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"description", "schedule", "updated_at"}),
	}).Create(&t).Error
}

// Enqueue creates a pending job record and hands the task to asynq.
func (s *Service) Enqueue(ctx context.Context, name string, args map[string]any, opts ...asynq.Option) (*Job, error) {
	if s.enqueuer == nil {
		return nil, fmt.Errorf("enqueue %s: no task client configured", name)
	}

	job := Job{
		ID:       s.node.Generate().String(),
		TaskName: name,
		Status:   JobPending,
		Metadata: maps.Clone(args),
	}
	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		return nil, err
	}

	payload, err := json.Marshal(Payload{JobID: job.ID, Args: args})
	if err != nil {
		return nil, err
	}

	if _, err := s.enqueuer.Enqueue(ctx, asynq.NewTask(name, payload), opts...); err != nil {
		s.finish(ctx, job.ID, nil, err)
		return nil, err
	}

	zap.L().Info("enqueued job",
		zap.String("task", name),
		zap.String("job_id", job.ID),
	)
	return &job, nil
}

// Handler adapts fn into an asynq handler that records the job lifecycle
// running -> success|failed. Tasks enqueued without a job record get one.
func (s *Service) Handler(fn HandlerFunc) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload Payload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			zap.L().Error("invalid task payload", zap.String("task", t.Type()), zap.Error(err))
			return fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
		}
		return s.Run(ctx, t.Type(), payload, fn)
	}
}

// Run executes fn as the job in payload.
func (s *Service) Run(ctx context.Context, name string, payload Payload, fn HandlerFunc) error {
	now := s.now()
	if payload.JobID == "" {
		payload.JobID = s.node.Generate().String()
		job := Job{ID: payload.JobID, TaskName: name, Status: JobRunning, StartedAt: &now, Metadata: maps.Clone(payload.Args)}
		if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
			return err
		}
	} else {
		res := s.db.WithContext(ctx).Model(&Job{}).Where("id = ?", payload.JobID).Updates(map[string]any{
			"status":     JobRunning,
			"started_at": now,
		})
		if res.Error != nil {
			return res.Error
		}
	}

	zap.L().Info("Processing job", zap.String("task", name), zap.String("job_id", payload.JobID))

	out, err := fn(ctx, payload.Args)
	s.finish(ctx, payload.JobID, out, err)
	if err != nil {
		zap.L().Error("job failed", zap.String("task", name), zap.String("job_id", payload.JobID), zap.Error(err))
		return err
	}

	zap.L().Info("Finished job", zap.String("task", name), zap.String("job_id", payload.JobID))
	return nil
}

func (s *Service) finish(ctx context.Context, jobID string, out map[string]any, err error) {
	fields := map[string]any{
		"status":       JobSuccess,
		"completed_at": s.now(),
	}
	if err != nil {
		fields["status"] = JobFailed
		fields["error_msg"] = err.Error()
	}
	if out != nil {
		fields["metadata"] = datatypes.JSONMap(out)
	}

	if uerr := s.db.WithContext(ctx).Model(&Job{}).Where("id = ?", jobID).Updates(fields).Error; uerr != nil {
		zap.L().Error("failed to record job result", zap.String("job_id", jobID), zap.Error(uerr))
	}
}

// Get returns one job record.
func (s *Service) Get(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	if err := s.db.WithContext(ctx).Where("id = ?", jobID).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}
