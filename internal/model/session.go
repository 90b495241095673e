package model

import "time"

// SessionLog records worked time on a task. Rows are never updated.
type SessionLog struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	TaskID          string    `gorm:"size:36;index;not null" json:"taskId"`
	DurationMinutes int       `json:"durationMinutes"`
	Type            string    `json:"type"`
	Timestamp       time.Time `gorm:"index" json:"timestamp"`
	ReceivedAt      time.Time `gorm:"index" json:"-"`
}

func (SessionLog) TableName() string {
	return "session_logs"
}
