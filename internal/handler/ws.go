package handler

import (
	"encoding/json"
	"log"
	"time"

	"github.com/nemwellington/vendanozap/internal/model"
	"github.com/nemwellington/vendanozap/internal/service"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// WSHandler upgrades realtime connections into a tenant namespace and
// speaks the join/leave protocol. Authorization failures terminate the
// connection; room-level failures come back on the request's own ack.
type WSHandler struct {
	hub       *service.WSHub
	access    *service.AccessController
	keepAlive time.Duration
}

func NewWSHandler(hub *service.WSHub, access *service.AccessController, keepAlive time.Duration) *WSHandler {
	return &WSHandler{hub: hub, access: access, keepAlive: keepAlive}
}

// Upgrade authorizes the connection attempt before any upgrade happens:
// namespace pattern, origin, token — in that order.
func (h *WSHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	identity, err := h.access.AuthorizeConnection(c.Params("namespace"), c.Query("token"), c.Get("Origin"), c.IP())
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"error": "unauthorized"})
	}

	c.Locals("identity", identity)
	return websocket.New(h.handleConnection)(c)
}

func (h *WSHandler) handleConnection(c *websocket.Conn) {
	identity, ok := c.Locals("identity").(*model.Identity)
	if !ok {
		c.Close()
		return
	}

	client := service.NewWSClient(c, identity.UserID, identity.TenantID)

	h.hub.Register(client)
	defer h.hub.Unregister(client)

	// Writer goroutine: the single drain of the client's FIFO.
	go func() {
		defer c.Close()
		for msg := range client.Send {
			if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	c.SetReadDeadline(time.Now().Add(h.keepAlive))
	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			break
		}
		c.SetReadDeadline(time.Now().Add(h.keepAlive))

		var event model.WSEvent
		if err := json.Unmarshal(msg, &event); err != nil {
			continue
		}
		h.dispatch(client, identity, &event)
	}
}

func (h *WSHandler) dispatch(client *service.WSClient, identity *model.Identity, event *model.WSEvent) {
	switch event.Type {
	case "ping":
		h.send(client, &model.WSEvent{Type: "pong", ID: event.ID})

	case "joinChatBox", "joinChatBoxLeave":
		h.room(client, identity, event, model.RoomTicketThread, event.Type == "joinChatBoxLeave")

	case "joinTickets", "joinTicketsLeave":
		h.room(client, identity, event, model.RoomStatusChannel, event.Type == "joinTicketsLeave")

	case "joinNotification":
		h.hub.Join(client, model.NotificationRoom)
		log.Printf("[WS] user %s joined notification channel in workspace %d", identity.UserID, identity.TenantID)
		h.ack(client, event.ID, "")

	default:
		log.Printf("[WS] unknown event type %q from user %s", event.Type, identity.UserID)
	}
}

// room resolves one join or leave request against the access controller.
func (h *WSHandler) room(client *service.WSClient, identity *model.Identity, event *model.WSEvent, kind model.RoomKind, leave bool) {
	var roomKey string
	if err := json.Unmarshal(event.Data, &roomKey); err != nil {
		h.ack(client, event.ID, "invalid request payload")
		return
	}

	if err := h.access.AuthorizeJoin(identity, kind, roomKey); err != nil {
		log.Printf("[WS] rejected %s %q for user %s (%s): %v", event.Type, roomKey, identity.UserID, client.Conn.RemoteAddr(), err)
		h.ack(client, event.ID, err.Error())
		return
	}

	if leave {
		h.hub.Leave(client, roomKey)
	} else {
		h.hub.Join(client, roomKey)
	}
	h.ack(client, event.ID, "")
}

// ack resolves a client request; error string empty on success.
func (h *WSHandler) ack(client *service.WSClient, id, errMsg string) {
	data, _ := json.Marshal(&model.WSAck{ID: id, Error: errMsg})
	h.send(client, &model.WSEvent{Type: "ack", ID: id, Data: data})
}

func (h *WSHandler) send(client *service.WSClient, event *model.WSEvent) {
	frame, err := json.Marshal(event)
	if err != nil {
		return
	}
	select {
	case client.Send <- frame:
	default:
	}
}
