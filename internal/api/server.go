package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"planner-sync/internal/service"
)

// Services are the collaborators the handlers call into.
type Services struct {
	Sync      *service.SyncService
	Instances *service.InstanceService
	Plans     *service.PlanService
	Tasks     *service.TaskService
	Sessions  *service.SessionService
	Stats     *service.StatsService
	// Health reports whether the store answers.
	Health func(ctx context.Context) error
}

// Options configures the HTTP surface.
type Options struct {
	JWTSecret      string
	RequestTimeout time.Duration
	// SkipLogPaths are not written to the request log.
	SkipLogPaths []string
}

// New builds the fiber app with middleware and routes.
func New(svc Services, opts Options) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "planner-sync",
		ErrorHandler: errorHandler,
		BodyLimit:    8 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(RequestLogger(opts.SkipLogPaths...))
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PATCH,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Requested-With",
		MaxAge:       300,
	}))

	h := &handlers{svc: svc}
	app.Get("/health", h.health)

	api := app.Group("/api", RequestTimeout(opts.RequestTimeout), RequireAuth(opts.JWTSecret))

	sync := api.Group("/sync")
	sync.Post("/push", h.push)
	sync.Get("/pull", h.pull)

	plans := api.Group("/plans")
	plans.Get("/", h.listPlans)
	plans.Post("/", h.createPlan)
	plans.Get("/:id", h.getPlan)
	plans.Patch("/:id", h.patchPlan)
	plans.Delete("/:id", h.deletePlan)

	tasks := api.Group("/tasks")
	tasks.Get("/", h.listTasks)
	tasks.Post("/", h.createTask)
	tasks.Get("/:id", h.getTask)
	tasks.Patch("/:id", h.patchTask)
	tasks.Delete("/:id", h.deleteTask)
	tasks.Get("/:id/instances/:date", h.getInstance)
	tasks.Patch("/:id/instances/:date", h.patchInstance)
	tasks.Get("/:id/occurrences", h.occurrences)

	sessions := api.Group("/sessions")
	sessions.Get("/", h.listSessions)
	sessions.Post("/", h.createSession)
	sessions.Get("/stats/daily", h.dailyStats)
	sessions.Get("/:id", h.getSession)

	api.Get("/stats/dashboard", h.dashboard)

	return app
}

type handlers struct {
	svc Services
}

func (h *handlers) health(c *fiber.Ctx) error {
	if h.svc.Health != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := h.svc.Health(ctx); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable", "error": err.Error()})
		}
	}
	return c.JSON(fiber.Map{"status": "ok"})
}
