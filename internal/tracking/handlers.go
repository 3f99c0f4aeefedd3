package tracking

import (
	"errors"

	"fieldtrack-agent/internal/filter"

	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes exposes local session control: start, stop, the active
// session and its summary.
func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/sessions", authMiddleware, func(c *fiber.Ctx) error {
		var req StartRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
		}
		if req.Mode != "" {
			if _, err := filter.ParseMode(req.Mode); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
		}
		session, err := svc.StartSession(req)
		if errors.Is(err, ErrSessionActive) {
			return fiber.NewError(fiber.StatusConflict, err.Error())
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(session)
	})

	r.Delete("/sessions/current", authMiddleware, func(c *fiber.Ctx) error {
		session, err := svc.StopSession()
		if errors.Is(err, ErrNoActiveSession) {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(session)
	})

	r.Get("/sessions/current", authMiddleware, func(c *fiber.Ctx) error {
		session, ok := svc.Session()
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, ErrNoActiveSession.Error())
		}
		return c.JSON(session)
	})

	r.Get("/summary", authMiddleware, func(c *fiber.Ctx) error {
		return c.JSON(svc.Summary())
	})
}
