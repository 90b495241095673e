package api

import (
	"context"
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"planner-sync/internal/service"
)

// badRequest reports malformed input that never reached a service.
func badRequest(msg string) error {
	return fiber.NewError(fiber.StatusBadRequest, msg)
}

func statusFor(err error) int {
	var (
		verr  *service.ValidationError
		perr  *service.PersistenceError
		fiErr *fiber.Error
	)
	switch {
	case errors.As(err, &verr):
		return fiber.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusServiceUnavailable
	case errors.As(err, &perr):
		return fiber.StatusServiceUnavailable
	case errors.As(err, &fiErr):
		return fiErr.Code
	default:
		return fiber.StatusInternalServerError
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	status := statusFor(err)

	var (
		verr  *service.ValidationError
		perr  *service.PersistenceError
		fiErr *fiber.Error
	)
	switch {
	case errors.As(err, &verr):
		return c.Status(status).JSON(fiber.Map{"error": "validation failed", "details": verr.Details})
	case status == fiber.StatusServiceUnavailable:
		if errors.As(err, &perr) {
			log.Printf("[error] %s %s: %v", c.Method(), c.Path(), err)
		}
		return c.Status(status).JSON(fiber.Map{"error": "storage unavailable", "retryable": true})
	case errors.As(err, &fiErr):
		return c.Status(status).JSON(fiber.Map{"error": fiErr.Message})
	case status == fiber.StatusInternalServerError:
		log.Printf("[error] %s %s: %v", c.Method(), c.Path(), err)
		return c.Status(status).JSON(fiber.Map{"error": "internal error"})
	default:
		return c.Status(status).JSON(fiber.Map{"error": err.Error()})
	}
}
