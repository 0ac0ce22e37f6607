package task

import (
	"time"

	"gorm.io/datatypes"
)

type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobSuccess JobStatus = "success"
	JobFailed  JobStatus = "failed"
)

// Task is a registered background task definition.
type Task struct {
	Name        string    `gorm:"column:name;primaryKey;type:varchar(100)"`
	Description string    `gorm:"column:description;type:text"`
	Schedule    string    `gorm:"column:schedule;type:varchar(50)"` // cron format (optional)
	IsActive    bool      `gorm:"column:is_active;default:true"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
	Jobs        []Job     `gorm:"foreignKey:TaskName;references:Name"`
}

// Job is an execution record for a task
type Job struct {
	ID          string            `gorm:"column:id;primaryKey;type:varchar(32)"`
	TaskName    string            `gorm:"column:task_name;index;not null"`
	Status      JobStatus         `gorm:"column:status;type:varchar(20);default:'pending'"`
	ErrorMsg    string            `gorm:"column:error_msg;type:text"`
	StartedAt   *time.Time        `gorm:"column:started_at"`
	CompletedAt *time.Time        `gorm:"column:completed_at"`
	CreatedAt   time.Time         `gorm:"autoCreateTime"`
	UpdatedAt   time.Time         `gorm:"autoUpdateTime"`
	Metadata    datatypes.JSONMap `gorm:"column:metadata"`
}

func Models() []any {
	return []any{&Task{}, &Job{}}
}
