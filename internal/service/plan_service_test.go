package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"planner-sync/internal/model"
)

func TestCreatePlanIsIdempotent(t *testing.T) {
	store := setupTestStore(t)
	svc := NewPlanService(store)
	ctx := context.Background()
	id := NewID()

	plan, created, err := svc.Create(ctx, alice, PlanInput{ID: id, Title: "Study"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !created || plan.ID != id || plan.UserID != alice || plan.Status != model.StatusNotStarted {
		t.Fatalf("first create: created=%t plan=%+v", created, plan)
	}

	again, created, err := svc.Create(ctx, alice, PlanInput{ID: id, Title: "Renamed"})
	if err != nil {
		t.Fatalf("repeat Create: %v", err)
	}
	if created || again.Title != "Study" {
		t.Fatalf("repeat create: created=%t plan=%+v", created, again)
	}

	if _, _, err := svc.Create(ctx, bob, PlanInput{ID: id, Title: "Mine now"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("bob reusing alice's id: err = %v", err)
	}
}

func TestCreatePlanGeneratesID(t *testing.T) {
	svc := NewPlanService(setupTestStore(t))
	plan, created, err := svc.Create(context.Background(), alice, PlanInput{Title: "Untitled"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !created || plan.ID == "" {
		t.Fatalf("created=%t id=%q", created, plan.ID)
	}
}

func TestCreatePlanValidation(t *testing.T) {
	svc := NewPlanService(setupTestStore(t))
	tests := []struct {
		name  string
		input PlanInput
	}{
		{"missing title", PlanInput{}},
		{"bad id", PlanInput{ID: "plan-1", Title: "x"}},
		{"bad status", PlanInput{Title: "x", Status: "finished"}},
		{"negative target", PlanInput{Title: "x", TargetHours: -1}},
		{"reversed range", PlanInput{Title: "x", StartDate: datePtr(t, "2024-02-01"), EndDate: datePtr(t, "2024-01-01")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Create(context.Background(), alice, tt.input)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want validation error", err)
			}
		})
	}
}

func TestPatchPlan(t *testing.T) {
	store := setupTestStore(t)
	svc := NewPlanService(store)
	ctx := context.Background()
	svc.now = fixedClock(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))

	plan, _, err := svc.Create(ctx, alice, PlanInput{Title: "Study", EndDate: datePtr(t, "2024-03-01")})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	later := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	svc.now = fixedClock(later)
	title := "Study hard"
	patched, err := svc.Patch(ctx, alice, plan.ID, PlanPatch{Title: &title})
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if patched.Title != title || !patched.LastModified.Equal(later) {
		t.Fatalf("patched = %+v", patched)
	}
	if patched.EndDate == nil || model.FormatDate(*patched.EndDate) != "2024-03-01" {
		t.Fatalf("untouched field changed: %+v", patched.EndDate)
	}

	// A start after the stored end is rejected against the merged range.
	if _, err := svc.Patch(ctx, alice, plan.ID, PlanPatch{StartDate: datePtr(t, "2024-04-01")}); err == nil {
		t.Fatal("expected range error")
	}
	if _, err := svc.Patch(ctx, alice, plan.ID, PlanPatch{}); err == nil {
		t.Fatal("expected error for empty patch")
	}
	if _, err := svc.Patch(ctx, bob, plan.ID, PlanPatch{Title: &title}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("bob: err = %v", err)
	}
	if _, err := svc.Patch(ctx, alice, NewID(), PlanPatch{Title: &title}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown plan: err = %v", err)
	}
}

func TestDeletePlanCascades(t *testing.T) {
	store := setupTestStore(t)
	planID, taskID := seedRecurring(t, store, alice)
	ctx := context.Background()

	sessionID := NewID()
	_, err := NewSyncService(store).Push(ctx, alice, PushBatch{Sessions: []SessionRecord{{
		ID: sessionID, TaskID: taskID, DurationMinutes: 25, Type: model.SessionPomodoro,
		Timestamp: time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC),
	}}})
	if err != nil {
		t.Fatalf("push session: %v", err)
	}
	if _, err := NewInstanceService(store).UpdateInstance(ctx, alice, taskID, date(t, "2024-01-03"),
		InstancePatch{Status: strPtr(model.StatusCompleted)}); err != nil {
		t.Fatalf("UpdateInstance: %v", err)
	}

	svc := NewPlanService(store)
	if err := svc.Delete(ctx, bob, planID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("bob delete: err = %v", err)
	}
	if err := svc.Delete(ctx, alice, planID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := svc.Get(ctx, alice, planID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("plan still readable: %v", err)
	}
	repos := store.Repos()
	if n, _ := repos.Instances.Count(ctx, taskID); n != 0 {
		t.Fatalf("instances left: %d", n)
	}
	if ok, _ := repos.Sessions.Exists(ctx, sessionID); ok {
		t.Fatal("session left behind")
	}
	pulled, err := NewSyncService(store).Pull(ctx, alice, nil)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if len(pulled.Plans)+len(pulled.Tasks)+len(pulled.Sessions) != 0 {
		t.Fatalf("pull after delete = %+v", pulled)
	}
}

func TestListPlansIsScoped(t *testing.T) {
	store := setupTestStore(t)
	svc := NewPlanService(store)
	ctx := context.Background()
	for _, actor := range []string{alice, alice, bob} {
		if _, _, err := svc.Create(ctx, actor, PlanInput{Title: "p"}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	plans, err := svc.List(ctx, alice)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(plans) != 2 {
		t.Fatalf("alice sees %d plans, want 2", len(plans))
	}
	for _, p := range plans {
		if p.UserID != alice {
			t.Fatalf("foreign plan listed: %+v", p)
		}
	}
}
