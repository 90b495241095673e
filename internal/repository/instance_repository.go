package repository

import (
	"context"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"planner-sync/internal/model"
)

// InstanceRepository stores per-date overrides of recurring tasks.
type InstanceRepository struct {
	db *gorm.DB
}

func NewInstanceRepository(db *gorm.DB) *InstanceRepository {
	return &InstanceRepository{db: db}
}

func (r *InstanceRepository) Find(ctx context.Context, taskID string, date datatypes.Date) (*model.TaskInstance, error) {
	var inst model.TaskInstance
	err := r.db.WithContext(ctx).
		Where("task_id = ? AND instance_date = ?", taskID, date).
		First(&inst).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &inst, nil
}

// Ensure creates the default row for (taskID, date) unless one exists. The unique index
// on the pair makes concurrent callers agree on a single row.
func (r *InstanceRepository) Ensure(ctx context.Context, taskID string, date datatypes.Date) (bool, error) {
	inst := model.TaskInstance{
		TaskID:       taskID,
		InstanceDate: date,
		Status:       model.StatusNotStarted,
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "task_id"}, {Name: "instance_date"}},
		DoNothing: true,
	}).Create(&inst)
	if res.Error != nil {
		return false, fmt.Errorf("materialize instance: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Apply writes allow-listed column values to the row of (taskID, date).
func (r *InstanceRepository) Apply(ctx context.Context, taskID string, date datatypes.Date, columns map[string]interface{}) error {
	if len(columns) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Model(&model.TaskInstance{}).
		Where("task_id = ? AND instance_date = ?", taskID, date).
		Updates(columns).Error
	if err != nil {
		return fmt.Errorf("update instance: %w", err)
	}
	return nil
}

// ListRange returns materialized rows of a task between from and to, inclusive.
func (r *InstanceRepository) ListRange(ctx context.Context, taskID string, from, to datatypes.Date) ([]model.TaskInstance, error) {
	var rows []model.TaskInstance
	err := r.db.WithContext(ctx).
		Where("task_id = ? AND instance_date >= ? AND instance_date <= ?", taskID, from, to).
		Order("instance_date ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	return rows, nil
}

// ListOnDate returns the rows of the given tasks for one date.
func (r *InstanceRepository) ListOnDate(ctx context.Context, taskIDs []string, date datatypes.Date) ([]model.TaskInstance, error) {
	if len(taskIDs) == 0 {
		return nil, nil
	}
	var rows []model.TaskInstance
	err := r.db.WithContext(ctx).
		Where("task_id IN ? AND instance_date = ?", taskIDs, date).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	return rows, nil
}

// Count returns how many rows a task has materialized.
func (r *InstanceRepository) Count(ctx context.Context, taskID string) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.TaskInstance{}).Where("task_id = ?", taskID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count instances: %w", err)
	}
	return n, nil
}

func (r *InstanceRepository) DeleteByTasks(ctx context.Context, taskIDs []string) error {
	if len(taskIDs) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Where("task_id IN ?", taskIDs).Delete(&model.TaskInstance{}).Error; err != nil {
		return fmt.Errorf("delete instances: %w", err)
	}
	return nil
}

// CountByStatus counts the user's materialized occurrences per status.
func (r *InstanceRepository) CountByStatus(ctx context.Context, userID string) ([]StatusCount, error) {
	var rows []StatusCount
	err := r.ownedBy(ctx, userID).
		Select("daily_task_instances.status AS status, COUNT(*) AS count").
		Group("daily_task_instances.status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count instances by status: %w", err)
	}
	return rows, nil
}

// FinishedMinutes sums, over the user's finished occurrences, the template's planned
// minutes and the occurrence's actual minutes.
func (r *InstanceRepository) FinishedMinutes(ctx context.Context, userID string) (MinuteTotals, error) {
	var totals MinuteTotals
	err := r.ownedBy(ctx, userID).
		Select("COALESCE(SUM(tasks.duration_minutes), 0) AS planned_minutes, COALESCE(SUM(daily_task_instances.actual_duration_minutes), 0) AS completed_minutes").
		Where("daily_task_instances.status IN ?", FinishedStatuses).
		Scan(&totals).Error
	if err != nil {
		return MinuteTotals{}, fmt.Errorf("finished instance minutes: %w", err)
	}
	return totals, nil
}

func (r *InstanceRepository) ownedBy(ctx context.Context, userID string) *gorm.DB {
	return r.db.WithContext(ctx).Model(&model.TaskInstance{}).
		Joins("JOIN tasks ON tasks.id = daily_task_instances.task_id").
		Joins("JOIN plans ON plans.id = tasks.plan_id").
		Where("plans.user_id = ?", userID)
}
