package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
)

type brokerProbe interface {
	Connected() bool
}

type HealthHandler struct {
	pool   *pgxpool.Pool
	broker brokerProbe
}

func NewHealthHandler(pool *pgxpool.Pool, broker brokerProbe) *HealthHandler {
	return &HealthHandler{pool: pool, broker: broker}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Ready answers 503 until both the database and the broker are reachable,
// so traffic only lands once inbound events can actually be stored and routed.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := h.pool.Ping(ctx); err != nil {
		return c.Status(503).JSON(fiber.Map{"status": "not ready", "error": "database unreachable"})
	}
	if h.broker != nil && !h.broker.Connected() {
		return c.Status(503).JSON(fiber.Map{"status": "not ready", "error": "broker disconnected"})
	}

	return c.JSON(fiber.Map{"status": "ready"})
}
