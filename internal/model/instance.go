package model

import (
	"time"

	"gorm.io/datatypes"
)

// TaskInstance overrides the state of one occurrence of a recurring task.
// At most one row exists per (task, date).
type TaskInstance struct {
	ID                    uint           `gorm:"primaryKey" json:"-"`
	TaskID                string         `gorm:"size:36;not null;uniqueIndex:idx_task_instance_date" json:"taskId"`
	InstanceDate          datatypes.Date `gorm:"not null;uniqueIndex:idx_task_instance_date" json:"instanceDate"`
	Status                string         `gorm:"default:not_started" json:"status"`
	ActualDurationMinutes int            `json:"actualDurationMinutes"`
	CompletedAt           *time.Time     `json:"completedAt"`
	Notes                 string         `json:"notes"`
	CreatedAt             time.Time      `json:"-"`
	UpdatedAt             time.Time      `json:"-"`
}

func (TaskInstance) TableName() string {
	return "daily_task_instances"
}
