package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"planner-sync/internal/model"
)

// taskMutableColumns are overwritten by a newer client version. The plan reference,
// recurrence mask and date range are fixed at creation.
var taskMutableColumns = []string{
	"title", "description", "duration_minutes", "actual_duration_minutes", "status",
	"priority", "start_time", "task_date", "completed_at", "updated_at", "changed_at",
}

// TaskRepository handles CRUD for tasks.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Get(ctx context.Context, id string) (*model.Task, error) {
	var task model.Task
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error; err != nil {
		return nil, notFound(err)
	}
	return &task, nil
}

// Owner resolves the user of the plan the task belongs to.
func (r *TaskRepository) Owner(ctx context.Context, id string) (string, error) {
	var owners []string
	err := r.db.WithContext(ctx).Table("tasks").
		Joins("JOIN plans ON plans.id = tasks.plan_id").
		Where("tasks.id = ?", id).
		Limit(1).
		Pluck("plans.user_id", &owners).Error
	if err != nil {
		return "", fmt.Errorf("task owner: %w", err)
	}
	if len(owners) == 0 {
		return "", ErrNotFound
	}
	return owners[0], nil
}

func (r *TaskRepository) Insert(ctx context.Context, task *model.Task) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// InsertIfAbsent creates the task unless its id exists and reports whether it did.
func (r *TaskRepository) InsertIfAbsent(ctx context.Context, task *model.Task) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(task)
	if res.Error != nil {
		return false, fmt.Errorf("create task: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Overwrite replaces the mutable columns of the stored task with task's values.
func (r *TaskRepository) Overwrite(ctx context.Context, task *model.Task) error {
	err := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ?", task.ID).
		Select(taskMutableColumns).
		Updates(task).Error
	if err != nil {
		return fmt.Errorf("overwrite task: %w", err)
	}
	return nil
}

// Apply writes a set of column values produced by an allow-listed patch.
func (r *TaskRepository) Apply(ctx context.Context, id string, columns map[string]interface{}) error {
	if err := r.db.WithContext(ctx).Model(&model.Task{}).Where("id = ?", id).Updates(columns).Error; err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

func (r *TaskRepository) ListByPlan(ctx context.Context, planID string) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).Where("plan_id = ?", planID).
		Order("task_date, start_time, created_at").
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// ListForDate returns the user's one-off tasks scheduled on date together with all of
// the user's recurring tasks; the caller filters recurring ones by occurrence.
func (r *TaskRepository) ListForDate(ctx context.Context, userID string, date datatypes.Date) ([]model.Task, error) {
	var tasks []model.Task
	err := r.db.WithContext(ctx).
		Joins("JOIN plans ON plans.id = tasks.plan_id").
		Where("plans.user_id = ?", userID).
		Where("(tasks.is_recurring = ? AND tasks.task_date = ?) OR tasks.is_recurring = ?", false, date, true).
		Order("tasks.start_time, tasks.created_at").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("tasks for date: %w", err)
	}
	return tasks, nil
}

// ChangedSince lists the user's tasks written after since (all tasks when since is nil).
func (r *TaskRepository) ChangedSince(ctx context.Context, userID string, since *time.Time) ([]model.Task, error) {
	q := r.db.WithContext(ctx).
		Joins("JOIN plans ON plans.id = tasks.plan_id").
		Where("plans.user_id = ?", userID)
	if since != nil {
		q = q.Where("tasks.changed_at > ?", *since)
	}
	var tasks []model.Task
	if err := q.Order("tasks.changed_at ASC").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("tasks changed since: %w", err)
	}
	return tasks, nil
}

func (r *TaskRepository) IDsByPlan(ctx context.Context, planID string) ([]string, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Model(&model.Task{}).Where("plan_id = ?", planID).Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("task ids: %w", err)
	}
	return ids, nil
}

// Delete removes tasks by id.
func (r *TaskRepository) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&model.Task{}).Error; err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// StatusCount is one row of a count grouped by status.
type StatusCount struct {
	Status string
	Count  int64
}

// MinuteTotals sums planned and actual minutes of finished work.
type MinuteTotals struct {
	PlannedMinutes   int64
	CompletedMinutes int64
}

// FinishedStatuses are the states whose minutes count as done work.
var FinishedStatuses = []string{model.StatusCompleted, model.StatusPartiallyCompleted}

// CountByStatus counts the user's one-off tasks per status. Recurring templates carry
// no progress of their own and are left out.
func (r *TaskRepository) CountByStatus(ctx context.Context, userID string) ([]StatusCount, error) {
	var rows []StatusCount
	err := r.ownedBy(ctx, userID).
		Select("tasks.status AS status, COUNT(*) AS count").
		Where("tasks.is_recurring = ?", false).
		Group("tasks.status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count tasks by status: %w", err)
	}
	return rows, nil
}

// FinishedMinutes sums planned and actual minutes of the user's finished one-off tasks.
func (r *TaskRepository) FinishedMinutes(ctx context.Context, userID string) (MinuteTotals, error) {
	var totals MinuteTotals
	err := r.ownedBy(ctx, userID).
		Select("COALESCE(SUM(tasks.duration_minutes), 0) AS planned_minutes, COALESCE(SUM(tasks.actual_duration_minutes), 0) AS completed_minutes").
		Where("tasks.is_recurring = ? AND tasks.status IN ?", false, FinishedStatuses).
		Scan(&totals).Error
	if err != nil {
		return MinuteTotals{}, fmt.Errorf("finished task minutes: %w", err)
	}
	return totals, nil
}

func (r *TaskRepository) ownedBy(ctx context.Context, userID string) *gorm.DB {
	return r.db.WithContext(ctx).Model(&model.Task{}).
		Joins("JOIN plans ON plans.id = tasks.plan_id").
		Where("plans.user_id = ?", userID)
}
