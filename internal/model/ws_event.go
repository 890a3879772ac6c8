package model

import "encoding/json"

// WSEvent is the wire frame exchanged over a realtime connection, both for
// client requests (join/leave, acked by ID) and for server-pushed events.
type WSEvent struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// WSAck resolves a client request. Error is empty on success.
type WSAck struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

// RoomKind distinguishes the three kinds of rooms a session may join.
type RoomKind string

const (
	RoomTicketThread        RoomKind = "ticketThread"
	RoomStatusChannel       RoomKind = "statusChannel"
	RoomNotificationChannel RoomKind = "notificationChannel"
)

// NotificationRoom is the single per-tenant notification room key.
const NotificationRoom = "notification"

// WSAnnounce is an admin broadcast into a tenant's notification room.
type WSAnnounce struct {
	TenantID int64  `json:"tenant_id"`
	Message  string `json:"message"`
}

// TicketEventPayload is the broadcast body for a lifecycle transition.
type TicketEventPayload struct {
	Action string  `json:"action"`
	Ticket *Ticket `json:"ticket"`
}
