package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/datatypes"

	"planner-sync/internal/model"
	"planner-sync/internal/service"
)

func (h *handlers) push(c *fiber.Ctx) error {
	var batch service.PushBatch
	if err := c.BodyParser(&batch); err != nil {
		return badRequest("invalid push body: " + err.Error())
	}
	result, err := h.svc.Sync.Push(c.UserContext(), actorOf(c), batch)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success": true,
		"results": fiber.Map{
			"plans":    result.Plans,
			"tasks":    result.Tasks,
			"sessions": result.Sessions,
		},
		"rejected": result.Rejected,
		"syncedAt": result.SyncedAt,
	})
}

func (h *handlers) pull(c *fiber.Ctx) error {
	var since *time.Time
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return badRequest("since must be an RFC3339 timestamp")
		}
		since = &t
	}
	result, err := h.svc.Sync.Pull(c.UserContext(), actorOf(c), since)
	if err != nil {
		return err
	}
	if result.Plans == nil {
		result.Plans = []model.Plan{}
	}
	if result.Tasks == nil {
		result.Tasks = []model.Task{}
	}
	if result.Sessions == nil {
		result.Sessions = []model.SessionLog{}
	}
	return c.JSON(result)
}

func (h *handlers) getInstance(c *fiber.Ctx) error {
	date, err := pathDate(c)
	if err != nil {
		return err
	}
	state, err := h.svc.Instances.EffectiveState(c.UserContext(), actorOf(c), c.Params("id"), date)
	if err != nil {
		return err
	}
	return c.JSON(state)
}

func (h *handlers) patchInstance(c *fiber.Ctx) error {
	date, err := pathDate(c)
	if err != nil {
		return err
	}
	var patch service.InstancePatch
	if err := c.BodyParser(&patch); err != nil {
		return badRequest("invalid instance body: " + err.Error())
	}
	state, err := h.svc.Instances.UpdateInstance(c.UserContext(), actorOf(c), c.Params("id"), date, patch)
	if err != nil {
		return err
	}
	return c.JSON(state)
}

func (h *handlers) occurrences(c *fiber.Ctx) error {
	from, err := queryDate(c, "from")
	if err != nil {
		return err
	}
	to, err := queryDate(c, "to")
	if err != nil {
		return err
	}
	states, err := h.svc.Instances.Calendar(c.UserContext(), actorOf(c), c.Params("id"), from, to)
	if err != nil {
		return err
	}
	return c.JSON(states)
}

func (h *handlers) listPlans(c *fiber.Ctx) error {
	plans, err := h.svc.Plans.List(c.UserContext(), actorOf(c))
	if err != nil {
		return err
	}
	if plans == nil {
		plans = []model.Plan{}
	}
	return c.JSON(plans)
}

func (h *handlers) getPlan(c *fiber.Ctx) error {
	plan, err := h.svc.Plans.Get(c.UserContext(), actorOf(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(plan)
}

func (h *handlers) createPlan(c *fiber.Ctx) error {
	var input service.PlanInput
	if err := c.BodyParser(&input); err != nil {
		return badRequest("invalid plan body: " + err.Error())
	}
	plan, created, err := h.svc.Plans.Create(c.UserContext(), actorOf(c), input)
	if err != nil {
		return err
	}
	return c.Status(createdStatus(created)).JSON(plan)
}

func (h *handlers) patchPlan(c *fiber.Ctx) error {
	var patch service.PlanPatch
	if err := c.BodyParser(&patch); err != nil {
		return badRequest("invalid plan body: " + err.Error())
	}
	plan, err := h.svc.Plans.Patch(c.UserContext(), actorOf(c), c.Params("id"), patch)
	if err != nil {
		return err
	}
	return c.JSON(plan)
}

func (h *handlers) deletePlan(c *fiber.Ctx) error {
	if err := h.svc.Plans.Delete(c.UserContext(), actorOf(c), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// listTasks serves either ?plan_id= or ?date=.
func (h *handlers) listTasks(c *fiber.Ctx) error {
	if planID := c.Query("plan_id"); planID != "" {
		tasks, err := h.svc.Tasks.ListByPlan(c.UserContext(), actorOf(c), planID)
		if err != nil {
			return err
		}
		if tasks == nil {
			tasks = []model.Task{}
		}
		return c.JSON(tasks)
	}
	if c.Query("date") == "" {
		return badRequest("plan_id or date is required")
	}
	date, err := queryDate(c, "date")
	if err != nil {
		return err
	}
	items, err := h.svc.Tasks.ListForDate(c.UserContext(), actorOf(c), date)
	if err != nil {
		return err
	}
	return c.JSON(items)
}

func (h *handlers) getTask(c *fiber.Ctx) error {
	task, err := h.svc.Tasks.GetTask(c.UserContext(), actorOf(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(task)
}

func (h *handlers) createTask(c *fiber.Ctx) error {
	var input service.TaskInput
	if err := c.BodyParser(&input); err != nil {
		return badRequest("invalid task body: " + err.Error())
	}
	task, created, err := h.svc.Tasks.CreateTask(c.UserContext(), actorOf(c), input)
	if err != nil {
		return err
	}
	return c.Status(createdStatus(created)).JSON(task)
}

func (h *handlers) patchTask(c *fiber.Ctx) error {
	var patch service.TaskPatch
	if err := c.BodyParser(&patch); err != nil {
		return badRequest("invalid task body: " + err.Error())
	}
	task, err := h.svc.Tasks.UpdateTask(c.UserContext(), actorOf(c), c.Params("id"), patch)
	if err != nil {
		return err
	}
	return c.JSON(task)
}

func (h *handlers) deleteTask(c *fiber.Ctx) error {
	if err := h.svc.Tasks.DeleteTask(c.UserContext(), actorOf(c), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handlers) dailyStats(c *fiber.Ctx) error {
	date := model.NewDate(time.Now())
	if c.Query("date") != "" {
		var err error
		if date, err = queryDate(c, "date"); err != nil {
			return err
		}
	}
	stats, err := h.svc.Stats.Daily(c.UserContext(), actorOf(c), date)
	if err != nil {
		return err
	}
	return c.JSON(stats)
}

// listSessions accepts taskId, date, startDate and endDate filters.
func (h *handlers) listSessions(c *fiber.Ctx) error {
	q := service.SessionQuery{TaskID: c.Query("taskId")}
	for key, dst := range map[string]**datatypes.Date{
		"date":      &q.Date,
		"startDate": &q.StartDate,
		"endDate":   &q.EndDate,
	} {
		if c.Query(key) == "" {
			continue
		}
		d, err := queryDate(c, key)
		if err != nil {
			return err
		}
		*dst = &d
	}
	sessions, err := h.svc.Sessions.List(c.UserContext(), actorOf(c), q)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"sessions": sessions})
}

func (h *handlers) getSession(c *fiber.Ctx) error {
	session, err := h.svc.Sessions.Get(c.UserContext(), actorOf(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(session)
}

func (h *handlers) createSession(c *fiber.Ctx) error {
	var input service.SessionInput
	if err := c.BodyParser(&input); err != nil {
		return badRequest("invalid session body: " + err.Error())
	}
	session, created, err := h.svc.Sessions.Create(c.UserContext(), actorOf(c), input)
	if err != nil {
		return err
	}
	return c.Status(createdStatus(created)).JSON(session)
}

func (h *handlers) dashboard(c *fiber.Ctx) error {
	stats, err := h.svc.Stats.Dashboard(c.UserContext(), actorOf(c))
	if err != nil {
		return err
	}
	return c.JSON(stats)
}

func createdStatus(created bool) int {
	if created {
		return fiber.StatusCreated
	}
	return fiber.StatusOK
}

func pathDate(c *fiber.Ctx) (datatypes.Date, error) {
	d, err := model.ParseDate(c.Params("date"))
	if err != nil {
		return datatypes.Date{}, badRequest("date must be YYYY-MM-DD")
	}
	return d, nil
}

func queryDate(c *fiber.Ctx, key string) (datatypes.Date, error) {
	d, err := model.ParseDate(c.Query(key))
	if err != nil {
		return datatypes.Date{}, badRequest(key + " must be YYYY-MM-DD")
	}
	return d, nil
}
