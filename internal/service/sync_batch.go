package service

import (
	"fmt"
	"time"

	"gorm.io/datatypes"

	"planner-sync/internal/model"
)

// PushBatch is one push request: local changes of a device.
type PushBatch struct {
	Plans    []PlanRecord    `json:"plans"`
	Tasks    []TaskRecord    `json:"tasks"`
	Sessions []SessionRecord `json:"sessions"`
}

// PlanRecord is the client copy of a plan.
type PlanRecord struct {
	ID           string          `json:"id" validate:"required,uuid"`
	Title        string          `json:"title" validate:"max=255"`
	Description  string          `json:"description"`
	PlanType     string          `json:"planType" validate:"max=64"`
	StartDate    *datatypes.Date `json:"startDate"`
	EndDate      *datatypes.Date `json:"endDate"`
	Priority     int             `json:"priority"`
	Status       string          `json:"status" validate:"omitempty,status"`
	SortOrder    int             `json:"sortOrder"`
	TargetHours  float64         `json:"targetHours" validate:"min=0"`
	Color        string          `json:"color" validate:"max=32"`
	CreatedAt    *time.Time      `json:"createdAt"`
	LastModified time.Time       `json:"lastModified" validate:"required"`
}

// TaskRecord is the client copy of a task.
type TaskRecord struct {
	ID                    string          `json:"id" validate:"required,uuid"`
	PlanID                string          `json:"planId" validate:"required,uuid"`
	IsRecurring           bool            `json:"isRecurring"`
	RepeatDays            int             `json:"repeatDays" validate:"min=0,max=127"`
	StartDate             *datatypes.Date `json:"startDate"`
	EndDate               *datatypes.Date `json:"endDate"`
	TaskDate              *datatypes.Date `json:"taskDate"`
	Title                 string          `json:"title" validate:"max=255"`
	Description           string          `json:"description"`
	DurationMinutes       int             `json:"durationMinutes" validate:"min=0"`
	ActualDurationMinutes int             `json:"actualDurationMinutes" validate:"min=0"`
	Status                string          `json:"status" validate:"omitempty,status"`
	Priority              int             `json:"priority"`
	StartTime             string          `json:"startTime" validate:"max=8"`
	CompletedAt           *time.Time      `json:"completedAt"`
	CreatedAt             *time.Time      `json:"createdAt"`
	LastModified          time.Time       `json:"lastModified" validate:"required"`
}

// SessionRecord is a session log created on a device.
type SessionRecord struct {
	ID              string    `json:"id" validate:"required,uuid"`
	TaskID          string    `json:"taskId" validate:"required,uuid"`
	DurationMinutes int       `json:"durationMinutes" validate:"min=0"`
	Type            string    `json:"type" validate:"required,oneof=pomodoro stopwatch manual"`
	Timestamp       time.Time `json:"timestamp" validate:"required"`
}

// Validate checks the whole batch. Any failure rejects the batch before a single write.
func (b PushBatch) Validate() error {
	var details []string
	for i, p := range b.Plans {
		path := fmt.Sprintf("plans[%d]", i)
		details = append(details, checkStruct(path, p)...)
		details = append(details, checkRange(path, p.StartDate, p.EndDate)...)
	}
	for i, t := range b.Tasks {
		path := fmt.Sprintf("tasks[%d]", i)
		details = append(details, checkStruct(path, t)...)
		details = append(details, checkRange(path, t.StartDate, t.EndDate)...)
		if t.IsRecurring && t.RepeatDays == 0 {
			details = append(details, path+".repeatDays: recurring task needs at least one weekday")
		}
	}
	for i, s := range b.Sessions {
		details = append(details, checkStruct(fmt.Sprintf("sessions[%d]", i), s)...)
	}
	if len(details) > 0 {
		return invalid(details...)
	}
	return nil
}

// Size is the number of records in the batch.
func (b PushBatch) Size() int {
	return len(b.Plans) + len(b.Tasks) + len(b.Sessions)
}

func checkRange(path string, start, end *datatypes.Date) []string {
	if start != nil && end != nil && model.DateTime(*end).Before(model.DateTime(*start)) {
		return []string{path + ".endDate: before startDate"}
	}
	return nil
}

func (p PlanRecord) toModel(userID string, now time.Time) model.Plan {
	status := p.Status
	if status == "" {
		status = model.StatusNotStarted
	}
	return model.Plan{
		ID:           p.ID,
		UserID:       userID,
		Title:        p.Title,
		Description:  p.Description,
		PlanType:     p.PlanType,
		StartDate:    normalizeDate(p.StartDate),
		EndDate:      normalizeDate(p.EndDate),
		Priority:     p.Priority,
		Status:       status,
		SortOrder:    p.SortOrder,
		TargetHours:  p.TargetHours,
		Color:        p.Color,
		LastModified: normalizeTime(p.LastModified),
		CreatedAt:    createdAt(p.CreatedAt, p.LastModified),
		ChangedAt:    now,
	}
}

func (t TaskRecord) toModel(now time.Time) model.Task {
	status := t.Status
	if status == "" {
		status = model.StatusNotStarted
	}
	var completedAt *time.Time
	if t.CompletedAt != nil {
		c := normalizeTime(*t.CompletedAt)
		completedAt = &c
	}
	return model.Task{
		ID:                    t.ID,
		PlanID:                t.PlanID,
		IsRecurring:           t.IsRecurring,
		RepeatDays:            model.WeekdayMask(t.RepeatDays),
		StartDate:             normalizeDate(t.StartDate),
		EndDate:               normalizeDate(t.EndDate),
		TaskDate:              normalizeDate(t.TaskDate),
		Title:                 t.Title,
		Description:           t.Description,
		DurationMinutes:       t.DurationMinutes,
		ActualDurationMinutes: t.ActualDurationMinutes,
		Status:                status,
		Priority:              t.Priority,
		StartTime:             t.StartTime,
		CompletedAt:           completedAt,
		LastModified:          normalizeTime(t.LastModified),
		CreatedAt:             createdAt(t.CreatedAt, t.LastModified),
		ChangedAt:             now,
	}
}

func (s SessionRecord) toModel(now time.Time) model.SessionLog {
	return model.SessionLog{
		ID:              s.ID,
		TaskID:          s.TaskID,
		DurationMinutes: s.DurationMinutes,
		Type:            s.Type,
		Timestamp:       normalizeTime(s.Timestamp),
		ReceivedAt:      now,
	}
}

func createdAt(created *time.Time, lastModified time.Time) time.Time {
	if created != nil && !created.IsZero() {
		return normalizeTime(*created)
	}
	return normalizeTime(lastModified)
}

func normalizeDate(d *datatypes.Date) *datatypes.Date {
	if d == nil {
		return nil
	}
	n := model.NewDate(time.Time(*d))
	return &n
}
