package handler

import (
	"errors"

	"github.com/nemwellington/vendanozap/internal/model"
	"github.com/nemwellington/vendanozap/internal/repository"
	"github.com/nemwellington/vendanozap/internal/service"

	"github.com/gofiber/fiber/v2"
)

type TicketHandler struct {
	ticketSvc *service.TicketService
}

func NewTicketHandler(ticketSvc *service.TicketService) *TicketHandler {
	return &TicketHandler{ticketSvc: ticketSvc}
}

func (h *TicketHandler) List(c *fiber.Ctx) error {
	identity, ok := c.Locals("identity").(*model.Identity)
	if !ok {
		return c.Status(401).JSON(fiber.Map{"error": "unauthorized"})
	}

	status := model.TicketStatus(c.Query("status", string(model.StatusPending)))
	tickets, err := h.ticketSvc.ListByStatus(c.Context(), identity.TenantID, status, c.QueryInt("limit", 50))
	if err != nil {
		return ticketError(c, err)
	}
	return c.JSON(fiber.Map{"tickets": tickets})
}

func (h *TicketHandler) Get(c *fiber.Ctx) error {
	identity, ok := c.Locals("identity").(*model.Identity)
	if !ok {
		return c.Status(401).JSON(fiber.Map{"error": "unauthorized"})
	}

	ticket, err := h.ticketSvc.Get(c.Context(), identity.TenantID, c.Params("id"))
	if err != nil {
		return ticketError(c, err)
	}
	return c.JSON(ticket)
}

// Messages returns the ticket's conversation history, oldest first.
func (h *TicketHandler) Messages(c *fiber.Ctx) error {
	identity, ok := c.Locals("identity").(*model.Identity)
	if !ok {
		return c.Status(401).JSON(fiber.Map{"error": "unauthorized"})
	}

	msgs, err := h.ticketSvc.Messages(c.Context(), identity.TenantID, c.Params("id"), c.QueryInt("limit", 50))
	if err != nil {
		return ticketError(c, err)
	}
	return c.JSON(fiber.Map{"messages": msgs})
}

// Accept claims a pending ticket for the authenticated operator.
func (h *TicketHandler) Accept(c *fiber.Ctx) error {
	identity, ok := c.Locals("identity").(*model.Identity)
	if !ok {
		return c.Status(401).JSON(fiber.Map{"error": "unauthorized"})
	}

	ticket, err := h.ticketSvc.Accept(c.Context(), identity.TenantID, c.Params("id"), identity.UserID)
	if err != nil {
		return ticketError(c, err)
	}
	return c.JSON(ticket)
}

func (h *TicketHandler) Transfer(c *fiber.Ctx) error {
	identity, ok := c.Locals("identity").(*model.Identity)
	if !ok {
		return c.Status(401).JSON(fiber.Map{"error": "unauthorized"})
	}

	var target model.TransferTarget
	if err := c.BodyParser(&target); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	ticket, err := h.ticketSvc.Transfer(c.Context(), identity.TenantID, c.Params("id"), identity.UserID, target)
	if err != nil {
		return ticketError(c, err)
	}
	return c.JSON(ticket)
}

// Close finishes a ticket. The side-effect flags are explicit in the
// request instead of being inferred from the caller.
func (h *TicketHandler) Close(c *fiber.Ctx) error {
	identity, ok := c.Locals("identity").(*model.Identity)
	if !ok {
		return c.Status(401).JSON(fiber.Map{"error": "unauthorized"})
	}

	// An absent clear_assignee falls back to the tenant's configured
	// default inside the service.
	var policy model.ClosePolicy
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&policy); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
		}
	}

	ticket, err := h.ticketSvc.Close(c.Context(), identity.TenantID, c.Params("id"), identity.UserID, policy)
	if err != nil {
		return ticketError(c, err)
	}
	return c.JSON(ticket)
}

func (h *TicketHandler) Reopen(c *fiber.Ctx) error {
	identity, ok := c.Locals("identity").(*model.Identity)
	if !ok {
		return c.Status(401).JSON(fiber.Map{"error": "unauthorized"})
	}

	ticket, err := h.ticketSvc.Reopen(c.Context(), identity.TenantID, c.Params("id"), "")
	if err != nil {
		return ticketError(c, err)
	}
	return c.JSON(ticket)
}

// ticketError maps the service error taxonomy onto HTTP statuses. Conflicts
// carry the current holder so the client can redirect.
func ticketError(c *fiber.Ctx, err error) error {
	var conflict *service.ConflictError
	if errors.As(err, &conflict) {
		return c.Status(409).JSON(fiber.Map{
			"error": "ticket already claimed",
			"already_assigned_to": fiber.Map{
				"user_id":    conflict.AssignedUserID,
				"queue_name": conflict.QueueName,
			},
		})
	}

	var policy *service.PolicyViolation
	if errors.As(err, &policy) {
		return c.Status(412).JSON(fiber.Map{"error": policy.Reason})
	}

	var validation *service.ValidationError
	if errors.As(err, &validation) {
		return c.Status(400).JSON(fiber.Map{"error": validation.Error()})
	}

	var transient *service.TransientStoreError
	if errors.As(err, &transient) {
		return c.Status(503).JSON(fiber.Map{"error": "store temporarily unavailable"})
	}

	if errors.Is(err, repository.ErrNotFound) {
		return c.Status(404).JSON(fiber.Map{"error": "ticket not found"})
	}

	return c.Status(500).JSON(fiber.Map{"error": "internal error"})
}
