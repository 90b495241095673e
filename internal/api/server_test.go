package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"planner-sync/internal/auth"
	"planner-sync/internal/repository"
	"planner-sync/internal/service"
)

const testSecret = "test-secret"

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()
	store, err := repository.Open(repository.Options{
		DSN:          filepath.Join(t.TempDir(), "api.db"),
		MaxOpenConns: 1,
		Logger:       log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	instances := service.NewInstanceService(store)
	return New(Services{
		Sync:      service.NewSyncService(store),
		Instances: instances,
		Plans:     service.NewPlanService(store),
		Tasks:     service.NewTaskService(store, instances),
		Sessions:  service.NewSessionService(store),
		Stats:     service.NewStatsService(store),
		Health:    store.Ping,
	}, Options{JWTSecret: testSecret, RequestTimeout: 10 * time.Second})
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.Issue(testSecret, userID, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

// call performs a request and decodes a JSON response into out when out is not nil.
func call(t *testing.T, app *fiber.App, method, path, token, body string, out interface{}) int {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	app := setupTestApp(t)
	var body map[string]string
	if code := call(t, app, http.MethodGet, "/health", "", "", &body); code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health: %d %v", code, body)
	}
}

func TestRequiresBearerToken(t *testing.T) {
	app := setupTestApp(t)
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"no header", "", "missing bearer token"},
		{"wrong scheme", "Basic abc", "missing bearer token"},
		{"garbage", "Bearer nope", "invalid or expired token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/sync/pull", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req, -1)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			defer resp.Body.Close()
			var body map[string]string
			_ = json.NewDecoder(resp.Body).Decode(&body)
			if resp.StatusCode != http.StatusUnauthorized || body["error"] != tt.want {
				t.Fatalf("got %d %v", resp.StatusCode, body)
			}
		})
	}

	expired, err := auth.Issue(testSecret, "alice", -time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if code := call(t, app, http.MethodGet, "/api/sync/pull", expired, "", nil); code != http.StatusUnauthorized {
		t.Fatalf("expired token: %d", code)
	}
}

type pushResponse struct {
	Success bool `json:"success"`
	Results struct {
		Plans    service.EntityCounts  `json:"plans"`
		Tasks    service.EntityCounts  `json:"tasks"`
		Sessions service.SessionCounts `json:"sessions"`
	} `json:"results"`
	Rejected []service.Rejection `json:"rejected"`
	SyncedAt time.Time           `json:"syncedAt"`
}

type pullResponse struct {
	Plans    []map[string]interface{} `json:"plans"`
	Tasks    []map[string]interface{} `json:"tasks"`
	Sessions []map[string]interface{} `json:"sessions"`
	PulledAt time.Time                `json:"pulledAt"`
}

func pushBody(planID, taskID, sessionID string) string {
	return `{
		"plans": [{"id": "` + planID + `", "title": "Training", "lastModified": "2024-01-01T08:00:00Z"}],
		"tasks": [{"id": "` + taskID + `", "planId": "` + planID + `", "title": "Run", "isRecurring": true,
			"repeatDays": 42, "startDate": "2024-01-01T00:00:00Z", "endDate": "2024-01-10T00:00:00Z",
			"lastModified": "2024-01-01T08:00:00Z"}],
		"sessions": [{"id": "` + sessionID + `", "taskId": "` + taskID + `", "durationMinutes": 25,
			"type": "pomodoro", "timestamp": "2024-01-03T09:00:00Z"}]
	}`
}

func TestPushPullRoundTrip(t *testing.T) {
	app := setupTestApp(t)
	alice := tokenFor(t, "alice")
	planID, taskID, sessionID := uuid.NewString(), uuid.NewString(), uuid.NewString()

	var pushed pushResponse
	code := call(t, app, http.MethodPost, "/api/sync/push", alice, pushBody(planID, taskID, sessionID), &pushed)
	if code != http.StatusOK || !pushed.Success {
		t.Fatalf("push: %d %+v", code, pushed)
	}
	if pushed.Results.Plans.Created != 1 || pushed.Results.Tasks.Created != 1 || pushed.Results.Sessions.Created != 1 {
		t.Fatalf("push results = %+v", pushed.Results)
	}

	var replay pushResponse
	call(t, app, http.MethodPost, "/api/sync/push", alice, pushBody(planID, taskID, sessionID), &replay)
	if replay.Results.Plans.Skipped != 1 || replay.Results.Tasks.Skipped != 1 || replay.Results.Sessions.Skipped != 1 {
		t.Fatalf("replay results = %+v", replay.Results)
	}

	var pulled pullResponse
	if code := call(t, app, http.MethodGet, "/api/sync/pull", alice, "", &pulled); code != http.StatusOK {
		t.Fatalf("pull: %d", code)
	}
	if len(pulled.Plans) != 1 || len(pulled.Tasks) != 1 || len(pulled.Sessions) != 1 {
		t.Fatalf("pull = %+v", pulled)
	}
	if pulled.Plans[0]["id"] != planID || pulled.Plans[0]["userId"] != "alice" {
		t.Fatalf("pulled plan = %v", pulled.Plans[0])
	}

	// The cursor trails the clock, so a pull right after sees the same rows again.
	var again pullResponse
	path := "/api/sync/pull?since=" + pulled.PulledAt.Format(time.RFC3339Nano)
	if code := call(t, app, http.MethodGet, path, alice, "", &again); code != http.StatusOK {
		t.Fatalf("pull since: %d", code)
	}
	if len(again.Plans) != 1 || len(again.Tasks) != 1 || len(again.Sessions) != 1 {
		t.Fatalf("pull since cursor = %+v", again)
	}

	var later pullResponse
	path = "/api/sync/pull?since=" + time.Now().Add(time.Hour).UTC().Format(time.RFC3339Nano)
	if code := call(t, app, http.MethodGet, path, alice, "", &later); code != http.StatusOK {
		t.Fatalf("pull since: %d", code)
	}
	if later.Plans == nil || len(later.Plans)+len(later.Tasks)+len(later.Sessions) != 0 {
		t.Fatalf("pull since = %+v", later)
	}

	var bobs pullResponse
	call(t, app, http.MethodGet, "/api/sync/pull", tokenFor(t, "bob"), "", &bobs)
	if len(bobs.Plans)+len(bobs.Tasks)+len(bobs.Sessions) != 0 {
		t.Fatalf("bob pulled alice's data: %+v", bobs)
	}
}

func TestPushValidationShape(t *testing.T) {
	app := setupTestApp(t)
	body := `{"plans": [{"id": "not-a-uuid", "lastModified": "2024-01-01T08:00:00Z"}]}`

	var resp struct {
		Error   string   `json:"error"`
		Details []string `json:"details"`
	}
	code := call(t, app, http.MethodPost, "/api/sync/push", tokenFor(t, "alice"), body, &resp)
	if code != http.StatusBadRequest || resp.Error != "validation failed" || len(resp.Details) != 1 {
		t.Fatalf("got %d %+v", code, resp)
	}
	if !strings.HasPrefix(resp.Details[0], "plans[0].id") {
		t.Fatalf("detail = %q", resp.Details[0])
	}

	if code := call(t, app, http.MethodPost, "/api/sync/push", tokenFor(t, "alice"), "{not json", nil); code != http.StatusBadRequest {
		t.Fatalf("malformed body: %d", code)
	}
	if code := call(t, app, http.MethodGet, "/api/sync/pull?since=yesterday", tokenFor(t, "alice"), "", nil); code != http.StatusBadRequest {
		t.Fatalf("bad since: %d", code)
	}
}

func TestInstanceEndpoints(t *testing.T) {
	app := setupTestApp(t)
	alice := tokenFor(t, "alice")
	planID, taskID := uuid.NewString(), uuid.NewString()
	if code := call(t, app, http.MethodPost, "/api/sync/push", alice, pushBody(planID, taskID, uuid.NewString()), nil); code != http.StatusOK {
		t.Fatalf("push: %d", code)
	}
	base := "/api/tasks/" + taskID + "/instances/"

	var state service.InstanceState
	if code := call(t, app, http.MethodGet, base+"2024-01-03", alice, "", &state); code != http.StatusOK {
		t.Fatalf("get: %d", code)
	}
	if state.Status != "not_started" || state.Materialized {
		t.Fatalf("default state = %+v", state)
	}

	code := call(t, app, http.MethodPatch, base+"2024-01-03", alice, `{"status": "completed", "actualDurationMinutes": 30}`, &state)
	if code != http.StatusOK || state.Status != "completed" || state.ActualDurationMinutes != 30 || state.CompletedAt == nil {
		t.Fatalf("patch: %d %+v", code, state)
	}

	var errBody map[string]interface{}
	if code := call(t, app, http.MethodPatch, base+"2024-01-02", alice, `{"status": "completed"}`, &errBody); code != http.StatusBadRequest {
		t.Fatalf("non-occurrence: %d %v", code, errBody)
	}
	if code := call(t, app, http.MethodGet, base+"03-01-2024", alice, "", nil); code != http.StatusBadRequest {
		t.Fatalf("bad date: %d", code)
	}
	if code := call(t, app, http.MethodGet, base+"2024-01-03", tokenFor(t, "bob"), "", nil); code != http.StatusForbidden {
		t.Fatalf("bob: %d", code)
	}
	if code := call(t, app, http.MethodGet, "/api/tasks/"+uuid.NewString()+"/instances/2024-01-03", alice, "", nil); code != http.StatusNotFound {
		t.Fatalf("unknown task: %d", code)
	}

	var calendar []service.InstanceState
	path := "/api/tasks/" + taskID + "/occurrences?from=2024-01-01&to=2024-01-07"
	if code := call(t, app, http.MethodGet, path, alice, "", &calendar); code != http.StatusOK {
		t.Fatalf("occurrences: %d", code)
	}
	if len(calendar) != 3 || calendar[1].Status != "completed" {
		t.Fatalf("calendar = %+v", calendar)
	}
}

func TestPlanAndTaskEndpoints(t *testing.T) {
	app := setupTestApp(t)
	alice := tokenFor(t, "alice")
	planID := uuid.NewString()

	var plan map[string]interface{}
	body := `{"id": "` + planID + `", "title": "Home"}`
	if code := call(t, app, http.MethodPost, "/api/plans", alice, body, &plan); code != http.StatusCreated {
		t.Fatalf("create plan: %d %v", code, plan)
	}
	if code := call(t, app, http.MethodPost, "/api/plans", alice, body, nil); code != http.StatusOK {
		t.Fatalf("repeat create: %d", code)
	}

	var task map[string]interface{}
	taskBody := `{"planId": "` + planID + `", "title": "Dishes", "taskDate": "2024-01-03T00:00:00Z"}`
	if code := call(t, app, http.MethodPost, "/api/tasks", alice, taskBody, &task); code != http.StatusCreated {
		t.Fatalf("create task: %d %v", code, task)
	}
	taskID, _ := task["id"].(string)

	var items []map[string]interface{}
	if code := call(t, app, http.MethodGet, "/api/tasks?date=2024-01-03", alice, "", &items); code != http.StatusOK || len(items) != 1 {
		t.Fatalf("tasks for date: %d %v", code, items)
	}
	var byPlan []map[string]interface{}
	if code := call(t, app, http.MethodGet, "/api/tasks?plan_id="+planID, alice, "", &byPlan); code != http.StatusOK || len(byPlan) != 1 {
		t.Fatalf("tasks by plan: %d %v", code, byPlan)
	}
	if code := call(t, app, http.MethodGet, "/api/tasks", alice, "", nil); code != http.StatusBadRequest {
		t.Fatalf("tasks without filter: %d", code)
	}

	if code := call(t, app, http.MethodPatch, "/api/tasks/"+taskID, alice, `{"status": "completed"}`, &task); code != http.StatusOK {
		t.Fatalf("patch task: %d", code)
	}
	if task["status"] != "completed" || task["completedAt"] == nil {
		t.Fatalf("patched task = %v", task)
	}

	if code := call(t, app, http.MethodPatch, "/api/plans/"+planID, tokenFor(t, "bob"), `{"title": "x"}`, nil); code != http.StatusForbidden {
		t.Fatalf("bob patch: %d", code)
	}
	if code := call(t, app, http.MethodDelete, "/api/plans/"+planID, alice, "", nil); code != http.StatusNoContent {
		t.Fatalf("delete plan: %d", code)
	}
	if code := call(t, app, http.MethodGet, "/api/tasks/"+taskID, alice, "", nil); code != http.StatusNotFound {
		t.Fatalf("task after plan delete: %d", code)
	}
}

func TestDailyStatsEndpoint(t *testing.T) {
	app := setupTestApp(t)
	alice := tokenFor(t, "alice")
	if code := call(t, app, http.MethodPost, "/api/sync/push", alice, pushBody(uuid.NewString(), uuid.NewString(), uuid.NewString()), nil); code != http.StatusOK {
		t.Fatalf("push: %d", code)
	}

	var stats service.DailyStats
	if code := call(t, app, http.MethodGet, "/api/sessions/stats/daily?date=2024-01-03", alice, "", &stats); code != http.StatusOK {
		t.Fatalf("stats: %d", code)
	}
	if stats.PomodoroCount != 1 || stats.TotalMinutes != 25 {
		t.Fatalf("stats = %+v", stats)
	}
	if code := call(t, app, http.MethodGet, "/api/sessions/stats/daily?date=today", alice, "", nil); code != http.StatusBadRequest {
		t.Fatalf("bad date: %d", code)
	}
}

func TestSessionEndpoints(t *testing.T) {
	app := setupTestApp(t)
	alice := tokenFor(t, "alice")
	planID, taskID, pushedID := uuid.NewString(), uuid.NewString(), uuid.NewString()
	if code := call(t, app, http.MethodPost, "/api/sync/push", alice, pushBody(planID, taskID, pushedID), nil); code != http.StatusOK {
		t.Fatalf("push: %d", code)
	}

	id := uuid.NewString()
	body := `{"id": "` + id + `", "taskId": "` + taskID + `", "durationMinutes": 40, "type": "stopwatch", "timestamp": "2024-01-05T18:00:00Z"}`
	var created map[string]interface{}
	if code := call(t, app, http.MethodPost, "/api/sessions", alice, body, &created); code != http.StatusCreated {
		t.Fatalf("create: %d %v", code, created)
	}
	if created["id"] != id || created["taskTitle"] != "Run" || created["durationMinutes"] != float64(40) {
		t.Fatalf("created = %v", created)
	}
	if code := call(t, app, http.MethodPost, "/api/sessions", alice, body, nil); code != http.StatusOK {
		t.Fatalf("repeat create: %d", code)
	}

	var list struct {
		Sessions []map[string]interface{} `json:"sessions"`
	}
	if code := call(t, app, http.MethodGet, "/api/sessions", alice, "", &list); code != http.StatusOK {
		t.Fatalf("list: %d", code)
	}
	if len(list.Sessions) != 2 || list.Sessions[0]["id"] != id || list.Sessions[1]["id"] != pushedID {
		t.Fatalf("list = %v", list.Sessions)
	}
	if code := call(t, app, http.MethodGet, "/api/sessions?date=2024-01-03&taskId="+taskID, alice, "", &list); code != http.StatusOK {
		t.Fatalf("list by date: %d", code)
	}
	if len(list.Sessions) != 1 || list.Sessions[0]["id"] != pushedID {
		t.Fatalf("list by date = %v", list.Sessions)
	}
	if code := call(t, app, http.MethodGet, "/api/sessions?startDate=soon", alice, "", nil); code != http.StatusBadRequest {
		t.Fatalf("bad startDate: %d", code)
	}

	var one map[string]interface{}
	if code := call(t, app, http.MethodGet, "/api/sessions/"+pushedID, alice, "", &one); code != http.StatusOK {
		t.Fatalf("get: %d", code)
	}
	if one["type"] != "pomodoro" || one["taskId"] != taskID {
		t.Fatalf("get = %v", one)
	}
	if code := call(t, app, http.MethodGet, "/api/sessions/"+pushedID, tokenFor(t, "bob"), "", nil); code != http.StatusForbidden {
		t.Fatalf("bob get: %d", code)
	}
	if code := call(t, app, http.MethodGet, "/api/sessions/"+uuid.NewString(), alice, "", nil); code != http.StatusNotFound {
		t.Fatalf("unknown get: %d", code)
	}
	if code := call(t, app, http.MethodPost, "/api/sessions", alice, `{"taskId": "`+taskID+`", "type": "nap"}`, nil); code != http.StatusBadRequest {
		t.Fatalf("invalid create: %d", code)
	}
}

func TestDashboardEndpoint(t *testing.T) {
	app := setupTestApp(t)
	alice := tokenFor(t, "alice")
	planID, taskID := uuid.NewString(), uuid.NewString()
	if code := call(t, app, http.MethodPost, "/api/sync/push", alice, pushBody(planID, taskID, uuid.NewString()), nil); code != http.StatusOK {
		t.Fatalf("push: %d", code)
	}
	patch := `{"status": "completed", "actualDurationMinutes": 30}`
	if code := call(t, app, http.MethodPatch, "/api/tasks/"+taskID+"/instances/2024-01-03", alice, patch, nil); code != http.StatusOK {
		t.Fatalf("patch instance: %d", code)
	}

	var dash struct {
		TaskCounts map[string]int64 `json:"task_counts"`
		TimeStats  struct {
			PlannedMinutes   int64 `json:"planned_minutes"`
			CompletedMinutes int64 `json:"completed_minutes"`
		} `json:"time_stats"`
	}
	if code := call(t, app, http.MethodGet, "/api/stats/dashboard", alice, "", &dash); code != http.StatusOK {
		t.Fatalf("dashboard: %d", code)
	}
	if dash.TaskCounts["completed"] != 1 || dash.TimeStats.CompletedMinutes != 30 {
		t.Fatalf("dashboard = %+v", dash)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&service.ValidationError{Details: []string{"x"}}, fiber.StatusBadRequest},
		{service.ErrNotFound, fiber.StatusNotFound},
		{service.ErrForbidden, fiber.StatusForbidden},
		{&service.PersistenceError{Op: "push", Err: errors.New("disk full")}, fiber.StatusServiceUnavailable},
		{context.DeadlineExceeded, fiber.StatusServiceUnavailable},
		{fiber.NewError(fiber.StatusTeapot, "tea"), fiber.StatusTeapot},
		{errors.New("boom"), fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestStorageFailureIsRetryable(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: errorHandler})
	app.Get("/", func(c *fiber.Ctx) error {
		return &service.PersistenceError{Op: "push", Err: errors.New("connection reset")}
	})

	var body map[string]interface{}
	if code := call(t, app, http.MethodGet, "/", "", "", &body); code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", code)
	}
	if body["error"] != "storage unavailable" || body["retryable"] != true {
		t.Fatalf("body = %v", body)
	}
}
