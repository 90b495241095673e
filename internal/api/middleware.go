package api

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"planner-sync/internal/auth"
)

const localActor = "actor"

// LogData is one request log line.
type LogData struct {
	Timestamp time.Time     `json:"timestamp"`
	Method    string        `json:"method"`
	Path      string        `json:"path"`
	Status    int           `json:"status"`
	Latency   time.Duration `json:"latency"`
	IP        string        `json:"ip"`
	UserAgent string        `json:"user_agent"`
	RequestID string        `json:"request_id,omitempty"`
	UserID    string        `json:"user_id,omitempty"`
	Error     string        `json:"error,omitempty"`
	Bytes     int           `json:"bytes"`
}

// RequestLogger writes one JSON line per request through the standard logger.
func RequestLogger(skipPaths ...string) fiber.Handler {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		if _, ok := skip[c.Path()]; ok {
			return c.Next()
		}
		start := time.Now()
		err := c.Next()

		data := LogData{
			Timestamp: start,
			Method:    c.Method(),
			Path:      c.Path(),
			Status:    c.Response().StatusCode(),
			Latency:   time.Since(start),
			IP:        c.IP(),
			UserAgent: c.Get(fiber.HeaderUserAgent),
			RequestID: c.Get(fiber.HeaderXRequestID),
			UserID:    actorOf(c),
			Bytes:     len(c.Response().Body()),
		}
		if err != nil {
			data.Error = err.Error()
			// The error handler has not run yet; report the status it will choose.
			data.Status = statusFor(err)
		}

		line, _ := json.Marshal(data)
		log.Printf("[info] request %s", line)
		return err
	}
}

// RequireAuth verifies the bearer token and stores its subject as the caller.
func RequireAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if header == "" || raw == header {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing bearer token"})
		}
		userID, err := auth.Verify(secret, raw)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token"})
		}
		c.Locals(localActor, userID)
		return c.Next()
	}
}

// RequestTimeout bounds the context handed to the services. Cancelling it rolls back
// any transaction in flight.
func RequestTimeout(d time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if d <= 0 {
			return c.Next()
		}
		ctx, cancel := context.WithTimeout(c.UserContext(), d)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

func actorOf(c *fiber.Ctx) string {
	id, _ := c.Locals(localActor).(string)
	return id
}
