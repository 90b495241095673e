package service

import (
	"context"
	"log"
	"time"

	"gorm.io/datatypes"

	"planner-sync/internal/model"
	"planner-sync/internal/repository"
)

// TaskInput represents data required to create a task.
type TaskInput struct {
	ID              string          `json:"id" validate:"omitempty,uuid"`
	PlanID          string          `json:"planId" validate:"required,uuid"`
	IsRecurring     bool            `json:"isRecurring"`
	RepeatDays      int             `json:"repeatDays" validate:"min=0,max=127"`
	StartDate       *datatypes.Date `json:"startDate"`
	EndDate         *datatypes.Date `json:"endDate"`
	TaskDate        *datatypes.Date `json:"taskDate"`
	Title           string          `json:"title" validate:"required,max=255"`
	Description     string          `json:"description"`
	DurationMinutes int             `json:"durationMinutes" validate:"min=0"`
	Priority        int             `json:"priority"`
	StartTime       string          `json:"startTime" validate:"max=8"`
	Status          string          `json:"status" validate:"omitempty,status"`
}

// TaskPatch lists the task fields a client may change. The plan, recurrence mask and
// date range are fixed once the task exists.
type TaskPatch struct {
	Title                 *string         `json:"title" validate:"omitempty,max=255"`
	Description           *string         `json:"description"`
	DurationMinutes       *int            `json:"durationMinutes" validate:"omitempty,min=0"`
	ActualDurationMinutes *int            `json:"actualDurationMinutes" validate:"omitempty,min=0"`
	Status                *string         `json:"status" validate:"omitempty,status"`
	Priority              *int            `json:"priority"`
	StartTime             *string         `json:"startTime" validate:"omitempty,max=8"`
	TaskDate              *datatypes.Date `json:"taskDate"`
}

func (p TaskPatch) columns() map[string]interface{} {
	cols := map[string]interface{}{}
	if p.Title != nil {
		cols["title"] = *p.Title
	}
	if p.Description != nil {
		cols["description"] = *p.Description
	}
	if p.DurationMinutes != nil {
		cols["duration_minutes"] = *p.DurationMinutes
	}
	if p.ActualDurationMinutes != nil {
		cols["actual_duration_minutes"] = *p.ActualDurationMinutes
	}
	if p.Status != nil {
		cols["status"] = *p.Status
	}
	if p.Priority != nil {
		cols["priority"] = *p.Priority
	}
	if p.StartTime != nil {
		cols["start_time"] = *p.StartTime
	}
	if p.TaskDate != nil {
		cols["task_date"] = normalizeDate(p.TaskDate)
	}
	return cols
}

// DayItem is a task scheduled on a date together with its state on that date.
type DayItem struct {
	Task  model.Task    `json:"task"`
	State InstanceState `json:"state"`
}

// TaskService wraps task-related business logic.
type TaskService struct {
	store     *repository.Store
	instances *InstanceService
	now       func() time.Time
}

func NewTaskService(store *repository.Store, instances *InstanceService) *TaskService {
	return &TaskService{store: store, instances: instances, now: time.Now}
}

// CreateTask stores a new task under a plan of the caller. Repeating a create with the
// same id returns the stored task with created=false.
func (s *TaskService) CreateTask(ctx context.Context, actor string, input TaskInput) (*model.Task, bool, error) {
	details := checkStruct("task", input)
	details = append(details, checkRange("task", input.StartDate, input.EndDate)...)
	if input.IsRecurring && input.RepeatDays == 0 {
		details = append(details, "task.repeatDays: recurring task needs at least one weekday")
	}
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
	task := model.Task{
		ID:              input.ID,
		PlanID:          input.PlanID,
		IsRecurring:     input.IsRecurring,
		RepeatDays:      model.WeekdayMask(input.RepeatDays),
		StartDate:       normalizeDate(input.StartDate),
		EndDate:         normalizeDate(input.EndDate),
		TaskDate:        normalizeDate(input.TaskDate),
		Title:           input.Title,
		Description:     input.Description,
		DurationMinutes: input.DurationMinutes,
		Status:          status,
		Priority:        input.Priority,
		StartTime:       input.StartTime,
		LastModified:    now,
		CreatedAt:       now,
		ChangedAt:       now,
	}
	if status == model.StatusCompleted && !task.IsRecurring {
		task.CompletedAt = &now
	}

	var (
		result  *model.Task
		created bool
	)
	err := s.store.Atomic(ctx, "task.create", func(r repository.Repos) error {
		if err := authorize(ctx, r, actor, PlanRef(task.PlanID)); err != nil {
			return err
		}
		var err error
		if created, err = r.Tasks.InsertIfAbsent(ctx, &task); err != nil {
			return err
		}
		if err := authorize(ctx, r, actor, TaskRef(task.ID)); err != nil {
			return err
		}
		result, err = r.Tasks.Get(ctx, task.ID)
		return err
	})
	if err != nil {
		return nil, false, persistence("create task", err)
	}
	if created {
		log.Printf("[info] task created user=%s plan=%s id=%s recurring=%t", actor, task.PlanID, task.ID, task.IsRecurring)
	}
	return result, created, nil
}

func (s *TaskService) ListByPlan(ctx context.Context, actor, planID string) ([]model.Task, error) {
	repos := s.store.Repos()
	if err := authorize(ctx, repos, actor, PlanRef(planID)); err != nil {
		return nil, persistence("list tasks", err)
	}
	tasks, err := repos.Tasks.ListByPlan(ctx, planID)
	if err != nil {
		return nil, persistence("list tasks", err)
	}
	return tasks, nil
}

// ListForDate returns the caller's one-off tasks scheduled on date and the recurring
// tasks with an occurrence that day, each with its effective state.
func (s *TaskService) ListForDate(ctx context.Context, actor string, date datatypes.Date) ([]DayItem, error) {
	if actor == "" {
		return nil, ErrForbidden
	}
	date = model.NewDate(time.Time(date))
	repos := s.store.Repos()

	tasks, err := repos.Tasks.ListForDate(ctx, actor, date)
	if err != nil {
		return nil, persistence("tasks for date", err)
	}
	plans, err := repos.Plans.ListByUser(ctx, actor)
	if err != nil {
		return nil, persistence("tasks for date", err)
	}
	planByID := make(map[string]*model.Plan, len(plans))
	for i := range plans {
		planByID[plans[i].ID] = &plans[i]
	}

	var (
		items        []DayItem
		recurringIDs []string
	)
	for _, task := range tasks {
		if !task.IsRecurring {
			items = append(items, DayItem{Task: task, State: taskState(task, date)})
			continue
		}
		if !IsOccurrence(task, planByID[task.PlanID], date) {
			continue
		}
		recurringIDs = append(recurringIDs, task.ID)
		items = append(items, DayItem{Task: task, State: defaultState(task.ID, date)})
	}

	rows, err := repos.Instances.ListOnDate(ctx, recurringIDs, date)
	if err != nil {
		return nil, persistence("tasks for date", err)
	}
	byTask := make(map[string]model.TaskInstance, len(rows))
	for _, row := range rows {
		byTask[row.TaskID] = row
	}
	for i := range items {
		if row, ok := byTask[items[i].Task.ID]; ok {
			items[i].State = stateOf(row)
		}
	}
	if items == nil {
		items = []DayItem{}
	}
	return items, nil
}

func (s *TaskService) GetTask(ctx context.Context, actor, taskID string) (*model.Task, error) {
	repos := s.store.Repos()
	if err := authorize(ctx, repos, actor, TaskRef(taskID)); err != nil {
		return nil, persistence("get task", err)
	}
	task, err := repos.Tasks.Get(ctx, taskID)
	if err != nil {
		return nil, persistence("get task", translate(err))
	}
	return task, nil
}

// UpdateTask applies the allow-listed fields. Completing a one-off task stamps
// completedAt the same way instances do. A recurring task keeps its progress in
// instances, so status and actual duration are refused on the template.
func (s *TaskService) UpdateTask(ctx context.Context, actor, taskID string, patch TaskPatch) (*model.Task, error) {
	if details := checkStruct("task", patch); len(details) > 0 {
		return nil, invalid(details...)
	}
	cols := patch.columns()
	if len(cols) == 0 {
		return nil, invalid("no fields to update")
	}

	var result *model.Task
	err := s.store.Atomic(ctx, "task.update", func(r repository.Repos) error {
		if err := authorize(ctx, r, actor, TaskRef(taskID)); err != nil {
			return err
		}
		current, err := r.Tasks.Get(ctx, taskID)
		if err != nil {
			return err
		}

		if current.IsRecurring && (patch.Status != nil || patch.ActualDurationMinutes != nil) {
			return invalid("task: status and actualDurationMinutes of a recurring task are tracked per occurrence")
		}

		now := normalizeTime(s.now())
		if patch.Status != nil && *patch.Status == model.StatusCompleted {
			cols["completed_at"] = now
		}
		cols["updated_at"] = now
		cols["changed_at"] = now
		if err := r.Tasks.Apply(ctx, taskID, cols); err != nil {
			return err
		}
		result, err = r.Tasks.Get(ctx, taskID)
		return err
	})
	if err != nil {
		return nil, persistence("update task", err)
	}
	return result, nil
}

// CompleteTask marks a task as done on date. For recurring tasks only that occurrence is
// completed; the template stays open.
func (s *TaskService) CompleteTask(ctx context.Context, actor, taskID string, date datatypes.Date) (*model.Task, error) {
	task, err := s.GetTask(ctx, actor, taskID)
	if err != nil {
		return nil, err
	}

	status := model.StatusCompleted
	if task.IsRecurring {
		if _, err := s.instances.UpdateInstance(ctx, actor, taskID, date, InstancePatch{Status: &status}); err != nil {
			return nil, err
		}
		return task, nil
	}
	return s.UpdateTask(ctx, actor, taskID, TaskPatch{Status: &status})
}

// DeleteTask removes a task completely together with its instances and session logs.
func (s *TaskService) DeleteTask(ctx context.Context, actor, taskID string) error {
	err := s.store.Atomic(ctx, "task.delete", func(r repository.Repos) error {
		if err := authorize(ctx, r, actor, TaskRef(taskID)); err != nil {
			return err
		}
		ids := []string{taskID}
		if err := r.Sessions.DeleteByTasks(ctx, ids); err != nil {
			return err
		}
		if err := r.Instances.DeleteByTasks(ctx, ids); err != nil {
			return err
		}
		return r.Tasks.Delete(ctx, taskID)
	})
	if err != nil {
		return persistence("delete task", err)
	}
	log.Printf("[info] task deleted user=%s id=%s", actor, taskID)
	return nil
}

// taskState presents a one-off task row in the same shape as an instance.
func taskState(task model.Task, date datatypes.Date) InstanceState {
	return InstanceState{
		TaskID:                task.ID,
		Date:                  model.FormatDate(date),
		Status:                task.Status,
		ActualDurationMinutes: task.ActualDurationMinutes,
		CompletedAt:           task.CompletedAt,
	}
}
