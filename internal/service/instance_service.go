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

// maxCalendarDays bounds one Calendar call.
const maxCalendarDays = 366

// InstanceState is the effective state of a task on one date.
type InstanceState struct {
	TaskID                string     `json:"taskId"`
	Date                  string     `json:"date"`
	Status                string     `json:"status"`
	ActualDurationMinutes int        `json:"actualDurationMinutes"`
	CompletedAt           *time.Time `json:"completedAt"`
	Notes                 string     `json:"notes"`
	Materialized          bool       `json:"materialized"`
}

// InstancePatch is a partial update of one occurrence. Nil fields are left unchanged.
type InstancePatch struct {
	Status                *string `json:"status" validate:"omitempty,status"`
	ActualDurationMinutes *int    `json:"actualDurationMinutes" validate:"omitempty,min=0"`
	Notes                 *string `json:"notes" validate:"omitempty,max=2000"`
}

func (p InstancePatch) empty() bool {
	return p.Status == nil && p.ActualDurationMinutes == nil && p.Notes == nil
}

// InstanceService manages per-date overrides of recurring tasks. Rows are created lazily
// on the first write for a date; reads never create rows.
type InstanceService struct {
	store *repository.Store
	now   func() time.Time
}

func NewInstanceService(store *repository.Store) *InstanceService {
	return &InstanceService{store: store, now: time.Now}
}

func defaultState(taskID string, date datatypes.Date) InstanceState {
	return InstanceState{
		TaskID: taskID,
		Date:   model.FormatDate(date),
		Status: model.StatusNotStarted,
	}
}

func stateOf(inst model.TaskInstance) InstanceState {
	return InstanceState{
		TaskID:                inst.TaskID,
		Date:                  model.FormatDate(inst.InstanceDate),
		Status:                inst.Status,
		ActualDurationMinutes: inst.ActualDurationMinutes,
		CompletedAt:           inst.CompletedAt,
		Notes:                 inst.Notes,
		Materialized:          true,
	}
}

// EffectiveState returns the stored override for date or the template defaults.
func (s *InstanceService) EffectiveState(ctx context.Context, actor, taskID string, date datatypes.Date) (*InstanceState, error) {
	repos := s.store.Repos()
	date = model.NewDate(time.Time(date))
	task, _, err := loadRecurring(ctx, repos, actor, taskID, date)
	if err != nil {
		return nil, persistence("effective state", err)
	}

	inst, err := repos.Instances.Find(ctx, task.ID, date)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		state := defaultState(task.ID, date)
		return &state, nil
	case err != nil:
		return nil, persistence("effective state", err)
	}
	state := stateOf(*inst)
	return &state, nil
}

// UpdateInstance applies patch to the occurrence of taskID on date, creating the row
// first if this is the first write for that date. Every write of status completed
// stamps completedAt; moving away keeps the old stamp until the next completion.
func (s *InstanceService) UpdateInstance(ctx context.Context, actor, taskID string, date datatypes.Date, patch InstancePatch) (*InstanceState, error) {
	if patch.empty() {
		return nil, invalid("no fields to update")
	}
	if details := checkStruct("instance", patch); len(details) > 0 {
		return nil, invalid(details...)
	}
	date = model.NewDate(time.Time(date))

	var state InstanceState
	err := s.store.Atomic(ctx, "instance.update", func(r repository.Repos) error {
		task, _, err := loadRecurring(ctx, r, actor, taskID, date)
		if err != nil {
			return err
		}

		created, err := r.Instances.Ensure(ctx, task.ID, date)
		if err != nil {
			return err
		}
		if created {
			log.Printf("[info] materialized instance task=%s date=%s", task.ID, model.FormatDate(date))
		}

		columns := map[string]interface{}{}
		if patch.Status != nil {
			columns["status"] = *patch.Status
			if *patch.Status == model.StatusCompleted {
				columns["completed_at"] = normalizeTime(s.now())
			}
		}
		if patch.ActualDurationMinutes != nil {
			columns["actual_duration_minutes"] = *patch.ActualDurationMinutes
		}
		if patch.Notes != nil {
			columns["notes"] = *patch.Notes
		}
		if err := r.Instances.Apply(ctx, task.ID, date, columns); err != nil {
			return err
		}

		updated, err := r.Instances.Find(ctx, task.ID, date)
		if err != nil {
			return err
		}
		state = stateOf(*updated)
		return nil
	})
	if err != nil {
		return nil, persistence("update instance", err)
	}
	return &state, nil
}

// Calendar lists the occurrences of a recurring task between from and to (clamped to the
// task's bounds) with their effective state.
func (s *InstanceService) Calendar(ctx context.Context, actor, taskID string, from, to datatypes.Date) ([]InstanceState, error) {
	repos := s.store.Repos()
	if err := authorize(ctx, repos, actor, TaskRef(taskID)); err != nil {
		return nil, persistence("calendar", err)
	}
	task, plan, err := loadTask(ctx, repos, taskID)
	if err != nil {
		return nil, persistence("calendar", err)
	}
	if !task.IsRecurring {
		return nil, invalid("task is not recurring")
	}

	start, end := clampRange(*task, plan, model.DateTime(from), model.DateTime(to))
	if end.Sub(start) > maxCalendarDays*24*time.Hour {
		return nil, invalid("range longer than 366 days")
	}
	dates := OccurrenceDates(datatypes.Date(start), datatypes.Date(end), task.RepeatDays)
	if len(dates) == 0 {
		return []InstanceState{}, nil
	}

	rows, err := repos.Instances.ListRange(ctx, task.ID, dates[0], dates[len(dates)-1])
	if err != nil {
		return nil, persistence("calendar", err)
	}
	byDate := make(map[string]model.TaskInstance, len(rows))
	for _, row := range rows {
		byDate[model.FormatDate(row.InstanceDate)] = row
	}

	states := make([]InstanceState, 0, len(dates))
	for _, d := range dates {
		if row, ok := byDate[model.FormatDate(d)]; ok {
			states = append(states, stateOf(row))
			continue
		}
		states = append(states, defaultState(task.ID, d))
	}
	return states, nil
}

// loadRecurring authorizes actor on the task and checks that date is one of its
// occurrences.
func loadRecurring(ctx context.Context, r repository.Repos, actor, taskID string, date datatypes.Date) (*model.Task, *model.Plan, error) {
	if err := authorize(ctx, r, actor, TaskRef(taskID)); err != nil {
		return nil, nil, err
	}
	task, plan, err := loadTask(ctx, r, taskID)
	if err != nil {
		return nil, nil, err
	}
	if !task.IsRecurring {
		return nil, nil, invalid("task is not recurring")
	}
	if !IsOccurrence(*task, plan, date) {
		return nil, nil, invalid(model.FormatDate(date) + " is not an occurrence of the task")
	}
	return task, plan, nil
}

func loadTask(ctx context.Context, r repository.Repos, taskID string) (*model.Task, *model.Plan, error) {
	task, err := r.Tasks.Get(ctx, taskID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	plan, err := r.Plans.Get(ctx, task.PlanID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return task, plan, nil
}
