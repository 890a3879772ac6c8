package service

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/nemwellington/vendanozap/internal/model"

	"github.com/gofiber/contrib/websocket"
)

// WSClient is one authorized realtime session. Send is the per-subscriber
// FIFO; the connection handler drains it in a single writer goroutine, so a
// subscriber observes events in publish order.
type WSClient struct {
	Conn     *websocket.Conn
	UserID   string
	TenantID int64
	Send     chan []byte

	rooms map[string]struct{}
}

func NewWSClient(conn *websocket.Conn, userID string, tenantID int64) *WSClient {
	return &WSClient{
		Conn:     conn,
		UserID:   userID,
		TenantID: tenantID,
		Send:     make(chan []byte, 256),
		rooms:    make(map[string]struct{}),
	}
}

// WSHub fans lifecycle events out to the tenant-scoped rooms a client has
// joined. Disconnected sessions receive nothing; clients re-fetch state on
// reconnect.
type WSHub struct {
	clients    map[*WSClient]bool
	register   chan *WSClient
	unregister chan *WSClient
	mu         sync.RWMutex
	done       chan struct{}
}

func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		done:       make(chan struct{}),
	}
}

func (h *WSHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Printf("[WS] user %s connected to workspace %d (total: %d)", client.UserID, client.TenantID, h.OnlineCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}
			h.mu.Unlock()
			log.Printf("[WS] user %s disconnected from workspace %d (total: %d)", client.UserID, client.TenantID, h.OnlineCount())

		case <-h.done:
			return
		}
	}
}

func (h *WSHub) Shutdown() {
	close(h.done)
}

func (h *WSHub) Register(client *WSClient) {
	h.register <- client
}

func (h *WSHub) Unregister(client *WSClient) {
	h.unregister <- client
}

// Join adds the client to a room. Room keys are only meaningful inside the
// client's own tenant.
func (h *WSHub) Join(client *WSClient, room string) {
	h.mu.Lock()
	client.rooms[room] = struct{}{}
	h.mu.Unlock()
}

func (h *WSHub) Leave(client *WSClient, room string) {
	h.mu.Lock()
	delete(client.rooms, room)
	h.mu.Unlock()
}

// Publish delivers one event to every connected subscriber of the tenant
// that joined at least one of the rooms — once per subscriber, even when it
// joined several of them. A subscriber with a full send buffer is skipped
// rather than blocking the publisher.
func (h *WSHub) Publish(tenantID int64, rooms []string, eventType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[WS] drop %s event: %v", eventType, err)
		return
	}
	frame, err := json.Marshal(&model.WSEvent{Type: eventType, Data: data})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if client.TenantID != tenantID {
			continue
		}
		member := false
		for _, room := range rooms {
			if _, ok := client.rooms[room]; ok {
				member = true
				break
			}
		}
		if !member {
			continue
		}
		select {
		case client.Send <- frame:
		default:
		}
	}
}

// PublishTicket broadcasts a lifecycle transition to the ticket's thread
// room, its current status room, and the tenant's notification room.
func (h *WSHub) PublishTicket(action string, ticket *model.Ticket) {
	rooms := []string{ticket.ID, string(ticket.Status), model.NotificationRoom}
	h.Publish(ticket.TenantID, rooms, "ticket", &model.TicketEventPayload{Action: action, Ticket: ticket})
}

func (h *WSHub) OnlineCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
