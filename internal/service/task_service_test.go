package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"planner-sync/internal/model"
)

func newTaskService(t *testing.T) (*TaskService, *PlanService) {
	t.Helper()
	store := setupTestStore(t)
	return NewTaskService(store, NewInstanceService(store)), NewPlanService(store)
}

func TestCreateTask(t *testing.T) {
	tasks, plans := newTaskService(t)
	ctx := context.Background()
	plan, _, err := plans.Create(ctx, alice, PlanInput{Title: "Home"})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}

	id := NewID()
	task, created, err := tasks.CreateTask(ctx, alice, TaskInput{ID: id, PlanID: plan.ID, Title: "Dishes", TaskDate: datePtr(t, "2024-01-03")})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if !created || task.Status != model.StatusNotStarted || task.TaskDate == nil {
		t.Fatalf("created=%t task=%+v", created, task)
	}

	_, created, err = tasks.CreateTask(ctx, alice, TaskInput{ID: id, PlanID: plan.ID, Title: "Dishes again"})
	if err != nil || created {
		t.Fatalf("repeat create: created=%t err=%v", created, err)
	}

	if _, _, err := tasks.CreateTask(ctx, bob, TaskInput{PlanID: plan.ID, Title: "Sneaky"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("bob on alice's plan: err = %v", err)
	}
	if _, _, err := tasks.CreateTask(ctx, alice, TaskInput{PlanID: NewID(), Title: "Orphan"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown plan: err = %v", err)
	}

	var verr *ValidationError
	_, _, err = tasks.CreateTask(ctx, alice, TaskInput{PlanID: plan.ID, Title: "Gym", IsRecurring: true})
	if !errors.As(err, &verr) {
		t.Fatalf("recurring without weekdays: err = %v", err)
	}
}

func TestUpdateTaskCompletedAt(t *testing.T) {
	tasks, plans := newTaskService(t)
	ctx := context.Background()
	plan, _, err := plans.Create(ctx, alice, PlanInput{Title: "Home"})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	task, _, err := tasks.CreateTask(ctx, alice, TaskInput{PlanID: plan.ID, Title: "Laundry"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	first := time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)
	tasks.now = fixedClock(first)
	done := model.StatusCompleted
	updated, err := tasks.UpdateTask(ctx, alice, task.ID, TaskPatch{Status: &done})
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if updated.CompletedAt == nil || !updated.CompletedAt.Equal(first) || !updated.LastModified.Equal(first) {
		t.Fatalf("after completion: %+v", updated)
	}

	tasks.now = fixedClock(first.Add(time.Hour))
	title := "Laundry (whites)"
	updated, err = tasks.UpdateTask(ctx, alice, task.ID, TaskPatch{Title: &title, Status: &done})
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if !updated.CompletedAt.Equal(first.Add(time.Hour)) {
		t.Fatalf("completed -> completed kept completedAt at %s", updated.CompletedAt)
	}

	if _, err := tasks.UpdateTask(ctx, bob, task.ID, TaskPatch{Title: &title}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("bob: err = %v", err)
	}
}

func TestUpdateTaskRecurringTemplate(t *testing.T) {
	store := setupTestStore(t)
	_, taskID := seedRecurring(t, store, alice)
	tasks := NewTaskService(store, NewInstanceService(store))
	ctx := context.Background()

	done := model.StatusCompleted
	var verr *ValidationError
	if _, err := tasks.UpdateTask(ctx, alice, taskID, TaskPatch{Status: &done}); !errors.As(err, &verr) {
		t.Fatalf("status on template: err = %v", err)
	}
	if _, err := tasks.UpdateTask(ctx, alice, taskID, TaskPatch{ActualDurationMinutes: intPtr(30)}); !errors.As(err, &verr) {
		t.Fatalf("actual duration on template: err = %v", err)
	}

	task, err := tasks.GetTask(ctx, alice, taskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Status != model.StatusNotStarted || task.ActualDurationMinutes != 0 || task.CompletedAt != nil {
		t.Fatalf("rejected patch changed the template: %+v", task)
	}

	title := "Run 10k"
	updated, err := tasks.UpdateTask(ctx, alice, taskID, TaskPatch{Title: &title})
	if err != nil {
		t.Fatalf("title on template: %v", err)
	}
	if updated.Title != title {
		t.Fatalf("title = %q", updated.Title)
	}
}

func TestListForDate(t *testing.T) {
	store := setupTestStore(t)
	planID, recurringID := seedRecurring(t, store, alice)
	instances := NewInstanceService(store)
	tasks := NewTaskService(store, instances)
	ctx := context.Background()

	oneOff, _, err := tasks.CreateTask(ctx, alice, TaskInput{PlanID: planID, Title: "Stretch", TaskDate: datePtr(t, "2024-01-03")})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, _, err := tasks.CreateTask(ctx, alice, TaskInput{PlanID: planID, Title: "Elsewhere", TaskDate: datePtr(t, "2024-01-04")}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := instances.UpdateInstance(ctx, alice, recurringID, date(t, "2024-01-03"), InstancePatch{ActualDurationMinutes: intPtr(40)}); err != nil {
		t.Fatalf("UpdateInstance: %v", err)
	}

	items, err := tasks.ListForDate(ctx, alice, date(t, "2024-01-03"))
	if err != nil {
		t.Fatalf("ListForDate: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %+v", items)
	}
	byID := map[string]DayItem{}
	for _, item := range items {
		byID[item.Task.ID] = item
	}
	if got := byID[recurringID].State; !got.Materialized || got.ActualDurationMinutes != 40 {
		t.Fatalf("recurring state = %+v", got)
	}
	if got := byID[oneOff.ID].State; got.Status != model.StatusNotStarted || got.Date != "2024-01-03" {
		t.Fatalf("one-off state = %+v", got)
	}

	// Tuesday: no occurrence of the Mon/Wed/Fri task and no one-off.
	items, err = tasks.ListForDate(ctx, alice, date(t, "2024-01-02"))
	if err != nil {
		t.Fatalf("ListForDate: %v", err)
	}
	if items == nil || len(items) != 0 {
		t.Fatalf("tuesday items = %#v", items)
	}

	items, err = tasks.ListForDate(ctx, bob, date(t, "2024-01-03"))
	if err != nil {
		t.Fatalf("ListForDate bob: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("bob sees %d items", len(items))
	}
}

func TestCompleteTask(t *testing.T) {
	store := setupTestStore(t)
	planID, recurringID := seedRecurring(t, store, alice)
	instances := NewInstanceService(store)
	tasks := NewTaskService(store, instances)
	ctx := context.Background()

	oneOff, _, err := tasks.CreateTask(ctx, alice, TaskInput{PlanID: planID, Title: "Call mom", TaskDate: datePtr(t, "2024-01-05")})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if _, err := tasks.CompleteTask(ctx, alice, recurringID, date(t, "2024-01-05")); err != nil {
		t.Fatalf("CompleteTask recurring: %v", err)
	}
	template, err := tasks.GetTask(ctx, alice, recurringID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if template.Status == model.StatusCompleted {
		t.Fatal("completing an occurrence completed the template")
	}
	state, err := instances.EffectiveState(ctx, alice, recurringID, date(t, "2024-01-05"))
	if err != nil {
		t.Fatalf("EffectiveState: %v", err)
	}
	if state.Status != model.StatusCompleted {
		t.Fatalf("occurrence state = %+v", state)
	}

	done, err := tasks.CompleteTask(ctx, alice, oneOff.ID, date(t, "2024-01-05"))
	if err != nil {
		t.Fatalf("CompleteTask one-off: %v", err)
	}
	if done.Status != model.StatusCompleted || done.CompletedAt == nil {
		t.Fatalf("one-off = %+v", done)
	}

	var verr *ValidationError
	if _, err := tasks.CompleteTask(ctx, alice, recurringID, date(t, "2024-01-06")); !errors.As(err, &verr) {
		t.Fatalf("saturday: err = %v", err)
	}
}

func TestDeleteTask(t *testing.T) {
	store := setupTestStore(t)
	_, taskID := seedRecurring(t, store, alice)
	instances := NewInstanceService(store)
	tasks := NewTaskService(store, instances)
	ctx := context.Background()

	if _, err := instances.UpdateInstance(ctx, alice, taskID, date(t, "2024-01-01"), InstancePatch{Notes: strPtr("cold")}); err != nil {
		t.Fatalf("UpdateInstance: %v", err)
	}
	if err := tasks.DeleteTask(ctx, bob, taskID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("bob: err = %v", err)
	}
	if err := tasks.DeleteTask(ctx, alice, taskID); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if _, err := tasks.GetTask(ctx, alice, taskID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetTask after delete: %v", err)
	}
	if n, _ := store.Repos().Instances.Count(ctx, taskID); n != 0 {
		t.Fatalf("instances left: %d", n)
	}
}
