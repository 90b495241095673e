package service

import (
	"context"
	"errors"
	"log"
	"time"

	"gorm.io/datatypes"

	"planner-sync/internal/model"
	"planner-sync/internal/repository"
)

// PlanInput represents data required to create a plan. ID may be set by the client to
// make the create idempotent.
type PlanInput struct {
	ID          string          `json:"id" validate:"omitempty,uuid"`
	Title       string          `json:"title" validate:"required,max=255"`
	Description string          `json:"description"`
	PlanType    string          `json:"planType" validate:"max=64"`
	StartDate   *datatypes.Date `json:"startDate"`
	EndDate     *datatypes.Date `json:"endDate"`
	Priority    int             `json:"priority"`
	Status      string          `json:"status" validate:"omitempty,status"`
	SortOrder   int             `json:"sortOrder"`
	TargetHours float64         `json:"targetHours" validate:"min=0"`
	Color       string          `json:"color" validate:"max=32"`
}

// PlanPatch lists the plan fields a client may change. Nil fields are left unchanged.
type PlanPatch struct {
	Title       *string         `json:"title" validate:"omitempty,max=255"`
	Description *string         `json:"description"`
	PlanType    *string         `json:"planType" validate:"omitempty,max=64"`
	StartDate   *datatypes.Date `json:"startDate"`
	EndDate     *datatypes.Date `json:"endDate"`
	Priority    *int            `json:"priority"`
	Status      *string         `json:"status" validate:"omitempty,status"`
	SortOrder   *int            `json:"sortOrder"`
	TargetHours *float64        `json:"targetHours" validate:"omitempty,min=0"`
	Color       *string         `json:"color" validate:"omitempty,max=32"`
}

func (p PlanPatch) columns() map[string]interface{} {
	cols := map[string]interface{}{}
	if p.Title != nil {
		cols["title"] = *p.Title
	}
	if p.Description != nil {
		cols["description"] = *p.Description
	}
	if p.PlanType != nil {
		cols["plan_type"] = *p.PlanType
	}
	if p.StartDate != nil {
		cols["start_date"] = normalizeDate(p.StartDate)
	}
	if p.EndDate != nil {
		cols["end_date"] = normalizeDate(p.EndDate)
	}
	if p.Priority != nil {
		cols["priority"] = *p.Priority
	}
	if p.Status != nil {
		cols["status"] = *p.Status
	}
	if p.SortOrder != nil {
		cols["sort_order"] = *p.SortOrder
	}
	if p.TargetHours != nil {
		cols["target_hours"] = *p.TargetHours
	}
	if p.Color != nil {
		cols["color"] = *p.Color
	}
	return cols
}

// PlanService wraps plan CRUD for the HTTP API.
type PlanService struct {
	store *repository.Store
	now   func() time.Time
}

func NewPlanService(store *repository.Store) *PlanService {
	return &PlanService{store: store, now: time.Now}
}

func (s *PlanService) List(ctx context.Context, actor string) ([]model.Plan, error) {
	if actor == "" {
		return nil, ErrForbidden
	}
	plans, err := s.store.Repos().Plans.ListByUser(ctx, actor)
	if err != nil {
		return nil, persistence("list plans", err)
	}
	return plans, nil
}

func (s *PlanService) Get(ctx context.Context, actor, id string) (*model.Plan, error) {
	repos := s.store.Repos()
	if err := authorize(ctx, repos, actor, PlanRef(id)); err != nil {
		return nil, persistence("get plan", err)
	}
	plan, err := repos.Plans.Get(ctx, id)
	if err != nil {
		return nil, persistence("get plan", translate(err))
	}
	return plan, nil
}

// Create stores a new plan. When input.ID is already taken by the caller the stored plan
// is returned with created=false; an id taken by another user is forbidden.
func (s *PlanService) Create(ctx context.Context, actor string, input PlanInput) (*model.Plan, bool, error) {
	if actor == "" {
		return nil, false, ErrForbidden
	}
	details := checkStruct("plan", input)
	details = append(details, checkRange("plan", input.StartDate, input.EndDate)...)
	if len(details) > 0 {
		return nil, false, invalid(details...)
	}

	now := normalizeTime(s.now())
	if input.ID == "" {
		input.ID = NewID()
	}
	status := input.Status
	if status == "" {
		status = model.StatusNotStarted
	}
	plan := model.Plan{
		ID:           input.ID,
		UserID:       actor,
		Title:        input.Title,
		Description:  input.Description,
		PlanType:     input.PlanType,
		StartDate:    normalizeDate(input.StartDate),
		EndDate:      normalizeDate(input.EndDate),
		Priority:     input.Priority,
		Status:       status,
		SortOrder:    input.SortOrder,
		TargetHours:  input.TargetHours,
		Color:        input.Color,
		LastModified: now,
		CreatedAt:    now,
		ChangedAt:    now,
	}

	var (
		result  *model.Plan
		created bool
	)
	err := s.store.Atomic(ctx, "plan.create", func(r repository.Repos) error {
		var err error
		if created, err = r.Plans.InsertIfAbsent(ctx, &plan); err != nil {
			return err
		}
		if err := authorize(ctx, r, actor, PlanRef(plan.ID)); err != nil {
			return err
		}
		result, err = r.Plans.Get(ctx, plan.ID)
		return err
	})
	if err != nil {
		return nil, false, persistence("create plan", err)
	}
	if created {
		log.Printf("[info] plan created user=%s id=%s", actor, plan.ID)
	}
	return result, created, nil
}

// Patch applies the allow-listed fields and stamps the plan as changed now.
func (s *PlanService) Patch(ctx context.Context, actor, id string, patch PlanPatch) (*model.Plan, error) {
	if details := checkStruct("plan", patch); len(details) > 0 {
		return nil, invalid(details...)
	}
	cols := patch.columns()
	if len(cols) == 0 {
		return nil, invalid("no fields to update")
	}

	var result *model.Plan
	err := s.store.Atomic(ctx, "plan.patch", func(r repository.Repos) error {
		if err := authorize(ctx, r, actor, PlanRef(id)); err != nil {
			return err
		}
		current, err := r.Plans.Get(ctx, id)
		if err != nil {
			return err
		}
		start, end := current.StartDate, current.EndDate
		if patch.StartDate != nil {
			start = patch.StartDate
		}
		if patch.EndDate != nil {
			end = patch.EndDate
		}
		if details := checkRange("plan", start, end); len(details) > 0 {
			return invalid(details...)
		}

		now := normalizeTime(s.now())
		cols["updated_at"] = now
		cols["changed_at"] = now
		if err := r.Plans.Apply(ctx, id, cols); err != nil {
			return err
		}
		result, err = r.Plans.Get(ctx, id)
		return err
	})
	if err != nil {
		return nil, persistence("patch plan", err)
	}
	return result, nil
}

// Delete removes the plan with its tasks, their instances and session logs.
func (s *PlanService) Delete(ctx context.Context, actor, id string) error {
	err := s.store.Atomic(ctx, "plan.delete", func(r repository.Repos) error {
		if err := authorize(ctx, r, actor, PlanRef(id)); err != nil {
			return err
		}
		taskIDs, err := r.Tasks.IDsByPlan(ctx, id)
		if err != nil {
			return err
		}
		if err := r.Sessions.DeleteByTasks(ctx, taskIDs); err != nil {
			return err
		}
		if err := r.Instances.DeleteByTasks(ctx, taskIDs); err != nil {
			return err
		}
		if err := r.Tasks.Delete(ctx, taskIDs...); err != nil {
			return err
		}
		return r.Plans.Delete(ctx, id)
	})
	if err != nil {
		return persistence("delete plan", err)
	}
	log.Printf("[info] plan deleted user=%s id=%s", actor, id)
	return nil
}

// translate maps repository lookups that found nothing to the service sentinel.
func translate(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
