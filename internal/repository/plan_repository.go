package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"planner-sync/internal/model"
)

// planMutableColumns are overwritten when a newer client version of a plan arrives.
var planMutableColumns = []string{
	"title", "description", "plan_type", "start_date", "end_date", "priority",
	"status", "sort_order", "target_hours", "color", "updated_at", "changed_at",
}

// PlanRepository handles CRUD for plans.
type PlanRepository struct {
	db *gorm.DB
}

func NewPlanRepository(db *gorm.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

func (r *PlanRepository) Get(ctx context.Context, id string) (*model.Plan, error) {
	var plan model.Plan
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&plan).Error; err != nil {
		return nil, notFound(err)
	}
	return &plan, nil
}

// Owner returns the user a plan belongs to.
func (r *PlanRepository) Owner(ctx context.Context, id string) (string, error) {
	var owners []string
	err := r.db.WithContext(ctx).Model(&model.Plan{}).
		Where("id = ?", id).
		Limit(1).
		Pluck("user_id", &owners).Error
	if err != nil {
		return "", fmt.Errorf("plan owner: %w", err)
	}
	if len(owners) == 0 {
		return "", ErrNotFound
	}
	return owners[0], nil
}

func (r *PlanRepository) Insert(ctx context.Context, plan *model.Plan) error {
	if err := r.db.WithContext(ctx).Create(plan).Error; err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}
	return nil
}

// InsertIfAbsent creates the plan unless its id is already taken. It reports whether a
// row was written; concurrent callers with the same id produce exactly one row.
func (r *PlanRepository) InsertIfAbsent(ctx context.Context, plan *model.Plan) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(plan)
	if res.Error != nil {
		return false, fmt.Errorf("insert plan: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Overwrite replaces every mutable column with the values of plan.
// The id, owner and creation time are left as stored.
func (r *PlanRepository) Overwrite(ctx context.Context, plan *model.Plan) error {
	err := r.db.WithContext(ctx).Model(&model.Plan{}).
		Where("id = ?", plan.ID).
		Select(planMutableColumns).
		Updates(plan).Error
	if err != nil {
		return fmt.Errorf("overwrite plan: %w", err)
	}
	return nil
}

// Apply writes a set of column values produced by an allow-listed patch.
func (r *PlanRepository) Apply(ctx context.Context, id string, columns map[string]interface{}) error {
	if err := r.db.WithContext(ctx).Model(&model.Plan{}).Where("id = ?", id).Updates(columns).Error; err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	return nil
}

func (r *PlanRepository) ListByUser(ctx context.Context, userID string) ([]model.Plan, error) {
	var plans []model.Plan
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("sort_order ASC, created_at DESC").
		Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

// ChangedSince lists the user's plans written after since (all plans when since is nil).
func (r *PlanRepository) ChangedSince(ctx context.Context, userID string, since *time.Time) ([]model.Plan, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if since != nil {
		q = q.Where("changed_at > ?", *since)
	}
	var plans []model.Plan
	if err := q.Order("changed_at ASC").Find(&plans).Error; err != nil {
		return nil, fmt.Errorf("plans changed since: %w", err)
	}
	return plans, nil
}

func (r *PlanRepository) Delete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Plan{}).Error; err != nil {
		return fmt.Errorf("delete plan: %w", err)
	}
	return nil
}
