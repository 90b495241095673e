package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"planner-sync/internal/model"
)

// SessionRepository stores append-only session logs.
type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// SessionWithTask is a session log joined with the title of its task.
type SessionWithTask struct {
	model.SessionLog
	TaskTitle string `json:"taskTitle"`
}

// SessionFilter narrows List. Zero fields do not filter.
type SessionFilter struct {
	TaskID string
	// From is inclusive, To exclusive.
	From *time.Time
	To   *time.Time
}

func (r *SessionRepository) Exists(ctx context.Context, id string) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.SessionLog{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, fmt.Errorf("find session: %w", err)
	}
	return n > 0, nil
}

func (r *SessionRepository) Insert(ctx context.Context, session *model.SessionLog) error {
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// ChangedSince lists the user's sessions received after since (all when since is nil).
func (r *SessionRepository) ChangedSince(ctx context.Context, userID string, since *time.Time) ([]model.SessionLog, error) {
	q := r.ownedBy(ctx, userID)
	if since != nil {
		q = q.Where("session_logs.received_at > ?", *since)
	}
	var sessions []model.SessionLog
	if err := q.Order("session_logs.received_at ASC, session_logs.timestamp ASC").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("sessions changed since: %w", err)
	}
	return sessions, nil
}

// Owner returns the user owning the session through its task's plan.
func (r *SessionRepository) Owner(ctx context.Context, id string) (string, error) {
	var owners []string
	err := r.db.WithContext(ctx).Table("session_logs").
		Joins("JOIN tasks ON tasks.id = session_logs.task_id").
		Joins("JOIN plans ON plans.id = tasks.plan_id").
		Where("session_logs.id = ?", id).
		Limit(1).
		Pluck("plans.user_id", &owners).Error
	if err != nil {
		return "", fmt.Errorf("session owner: %w", err)
	}
	if len(owners) == 0 {
		return "", ErrNotFound
	}
	return owners[0], nil
}

func (r *SessionRepository) Find(ctx context.Context, id string) (*SessionWithTask, error) {
	var rows []SessionWithTask
	err := r.db.WithContext(ctx).Model(&model.SessionLog{}).
		Select("session_logs.*, tasks.title AS task_title").
		Joins("JOIN tasks ON tasks.id = session_logs.task_id").
		Where("session_logs.id = ?", id).
		Limit(1).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// List returns the user's sessions matching f, newest first.
func (r *SessionRepository) List(ctx context.Context, userID string, f SessionFilter) ([]SessionWithTask, error) {
	q := r.ownedBy(ctx, userID).Select("session_logs.*, tasks.title AS task_title")
	if f.TaskID != "" {
		q = q.Where("session_logs.task_id = ?", f.TaskID)
	}
	if f.From != nil {
		q = q.Where("session_logs.timestamp >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("session_logs.timestamp < ?", *f.To)
	}
	var rows []SessionWithTask
	if err := q.Order("session_logs.timestamp DESC, session_logs.id ASC").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return rows, nil
}

// DailyTotals is the aggregate of a user's sessions over a time window.
type DailyTotals struct {
	PomodoroCount int64
	TotalMinutes  int64
}

// Totals aggregates the user's sessions with timestamp in [from, to).
func (r *SessionRepository) Totals(ctx context.Context, userID string, from, to time.Time) (DailyTotals, error) {
	var totals DailyTotals
	err := r.ownedBy(ctx, userID).
		Select("COUNT(CASE WHEN session_logs.type = ? THEN 1 END) AS pomodoro_count, COALESCE(SUM(session_logs.duration_minutes), 0) AS total_minutes", model.SessionPomodoro).
		Where("session_logs.timestamp >= ? AND session_logs.timestamp < ?", from, to).
		Scan(&totals).Error
	if err != nil {
		return DailyTotals{}, fmt.Errorf("session totals: %w", err)
	}
	return totals, nil
}

func (r *SessionRepository) DeleteByTasks(ctx context.Context, taskIDs []string) error {
	if len(taskIDs) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Where("task_id IN ?", taskIDs).Delete(&model.SessionLog{}).Error; err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}
	return nil
}

func (r *SessionRepository) ownedBy(ctx context.Context, userID string) *gorm.DB {
	return r.db.WithContext(ctx).Model(&model.SessionLog{}).
		Joins("JOIN tasks ON tasks.id = session_logs.task_id").
		Joins("JOIN plans ON plans.id = tasks.plan_id").
		Where("plans.user_id = ?", userID)
}
