package handler

import (
	"github.com/nemwellington/vendanozap/internal/model"
	"github.com/nemwellington/vendanozap/internal/service"

	"github.com/gofiber/fiber/v2"
)

type AdminHandler struct {
	wsHub    *service.WSHub
	throttle *service.Throttle
}

func NewAdminHandler(wsHub *service.WSHub, throttle *service.Throttle) *AdminHandler {
	return &AdminHandler{wsHub: wsHub, throttle: throttle}
}

func (h *AdminHandler) Stats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"sessions_online": h.wsHub.OnlineCount(),
		"outbound_queued": h.throttle.QueueDepth(),
	})
}

// Announce pushes a message into one tenant's notification room.
func (h *AdminHandler) Announce(c *fiber.Ctx) error {
	var req model.WSAnnounce
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.TenantID <= 0 || req.Message == "" {
		return c.Status(400).JSON(fiber.Map{"error": "tenant_id and message are required"})
	}

	h.wsHub.Publish(req.TenantID, []string{model.NotificationRoom}, "announce", &req)
	return c.JSON(fiber.Map{"ok": true, "sessions_online": h.wsHub.OnlineCount()})
}
