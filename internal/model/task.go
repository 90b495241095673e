package model

import (
	"time"

	"gorm.io/datatypes"
)

// Task is a single item of a plan. A recurring task is a template: its per-date state
// lives in TaskInstance rows.
type Task struct {
	ID          string          `gorm:"primaryKey;size:36" json:"id"`
	PlanID      string          `gorm:"size:36;index;not null" json:"planId"`
	IsRecurring bool            `gorm:"default:false" json:"isRecurring"`
	RepeatDays  WeekdayMask     `json:"repeatDays"`
	StartDate   *datatypes.Date `json:"startDate"`
	EndDate     *datatypes.Date `json:"endDate"`
	TaskDate    *datatypes.Date `gorm:"index" json:"taskDate"`

	Title                 string     `json:"title"`
	Description           string     `json:"description"`
	DurationMinutes       int        `json:"durationMinutes"`
	ActualDurationMinutes int        `json:"actualDurationMinutes"`
	Status                string     `gorm:"default:not_started" json:"status"`
	Priority              int        `json:"priority"`
	StartTime             string     `json:"startTime"`
	CompletedAt           *time.Time `json:"completedAt"`

	LastModified time.Time `gorm:"column:updated_at;not null" json:"lastModified"`
	CreatedAt    time.Time `json:"createdAt"`
	ChangedAt    time.Time `gorm:"index" json:"-"`
}

// Bounds returns the date range the task runs in: its own bounds, falling back to the
// plan's on each side. Either side may be nil.
func (t Task) Bounds(plan *Plan) (start, end *datatypes.Date) {
	start, end = t.StartDate, t.EndDate
	if plan != nil {
		if start == nil {
			start = plan.StartDate
		}
		if end == nil {
			end = plan.EndDate
		}
	}
	return start, end
}

// WeekdayMask is a 7-bit set of weekdays, bit 0 being Sunday.
type WeekdayMask uint8

// AllWeekdays has every day of the week set.
const AllWeekdays WeekdayMask = 0x7f

// MaskOf builds a mask from weekdays.
func MaskOf(days ...time.Weekday) WeekdayMask {
	var m WeekdayMask
	for _, d := range days {
		m |= 1 << uint(d)
	}
	return m
}

// Has reports whether day is set.
func (m WeekdayMask) Has(day time.Weekday) bool {
	return m&(1<<uint(day)) != 0
}
