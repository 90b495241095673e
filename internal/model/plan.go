package model

import (
	"time"

	"gorm.io/datatypes"
)

// Plan groups tasks. ID is generated by the client and stays stable across devices.
type Plan struct {
	ID          string          `gorm:"primaryKey;size:36" json:"id"`
	UserID      string          `gorm:"size:64;index;not null" json:"userId"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	PlanType    string          `json:"planType"`
	StartDate   *datatypes.Date `json:"startDate"`
	EndDate     *datatypes.Date `json:"endDate"`
	Priority    int             `json:"priority"`
	Status      string          `gorm:"default:not_started" json:"status"`
	SortOrder   int             `json:"sortOrder"`
	TargetHours float64         `json:"targetHours"`
	Color       string          `json:"color"`

	// LastModified is the client clock used for last-writer-wins.
	LastModified time.Time `gorm:"column:updated_at;not null" json:"lastModified"`
	CreatedAt    time.Time `json:"createdAt"`
	// ChangedAt is the server clock of the last write, used as the pull cursor.
	ChangedAt time.Time `gorm:"index" json:"-"`
}
