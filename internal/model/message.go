package model

import "time"

// Message is one stored conversation record. WID is the upstream wire id
// and makes inserts idempotent under redelivery.
type Message struct {
	ID        int64     `json:"id"`
	WID       string    `json:"wid"`
	TicketID  string    `json:"ticket_id"`
	ContactID string    `json:"contact_id"`
	TenantID  int64     `json:"tenant_id"`
	Body      string    `json:"body"`
	FromMe    bool      `json:"from_me"`
	MediaType string    `json:"media_type"`
	Read      bool      `json:"read"`
	Ack       int       `json:"ack"`
	CreatedAt time.Time `json:"created_at"`
}
